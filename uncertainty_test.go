package mgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestPredictionUncertainty(t *testing.T) {
	p := Prediction{
		Force:      [3]float64{1, -2, 0},
		KernelSelf: []float64{5, 4, 1},
		Variance:   mat.NewDense(2, 3, []float64{1, 0, 2, 0, 0, 0}),
	}

	assert.Equal(t, []float64{4, 4, 0}, p.PredictiveVariance())
	assert.Equal(t, []float64{2, 2, 0}, p.Uncertainty())

	lower, upper := p.ConfidenceBounds(2)
	assert.Equal(t, []float64{-3, -6, 0}, lower)
	assert.Equal(t, []float64{5, 2, 0}, upper)

	prob := p.ExceedanceProbability(1)
	assert.InDelta(t, 0.5, prob[0], 1e-12)
	assert.InDelta(t, 0.0668072, prob[1], 1e-6)
	assert.Zero(t, prob[2])
}

func TestPredictionUncertaintyEnergy(t *testing.T) {
	p := Prediction{Energy: 3, KernelSelf: []float64{1}, Variance: mat.NewDense(1, 1, []float64{0})}

	lower, upper := p.ConfidenceBounds(1)
	assert.Equal(t, []float64{2}, lower)
	assert.Equal(t, []float64{4}, upper)

	assert.Nil(t, Prediction{KernelSelf: []float64{1}}.Uncertainty())
}
