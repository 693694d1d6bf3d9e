package mgp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func pairGrid(n int) GridSpec {
	return GridSpec{Lower: []float64{0.5}, Upper: []float64{5.0}, Resolution: []int{n}}
}

func newTestMap(t *testing.T, key InteractionKey, grid GridSpec, mutate func(*Config)) *SingleInteractionMap {
	t.Helper()

	config := DefaultConfig(key.Order)
	config.Workers = 3
	config.SampleHint = 2
	config.MapForce = true

	if mutate != nil {
		mutate(&config)
	}

	m, err := NewSingleInteractionMap(key, grid, config)
	require.NoError(t, err)

	return m
}

func TestSingleInteractionMapLifecycle(t *testing.T) {
	m := newTestMap(t, PairKey(1, 8), pairGrid(10), nil)
	assert.Equal(t, Declared, m.State())

	_, err := m.Evaluate([]float64{1}, 0, false)
	assert.ErrorIs(t, err, ErrNotFit)

	require.NoError(t, m.BuildContainer())
	assert.Equal(t, ContainerBuilt, m.State())

	_, err = m.Evaluate([]float64{1}, 0, false)

	var notFit *NotFitError
	require.ErrorAs(t, err, &notFit)
	assert.Equal(t, PairKey(1, 8), notFit.Key)

	kernels := &stubKernels{}
	require.NoError(t, m.Build(context.Background(), newStubSet(TwoBody, 5, 3, 0, kernels), kernels))
	assert.Equal(t, Fit, m.State())
}

func TestSingleInteractionMapGridNodeExactness(t *testing.T) {
	respond := func(probe *Environment) float64 {
		r := probe.Bonds[0].Distance

		return math.Sin(r) * math.Exp(-r/3)
	}

	for _, mapForce := range []bool{true, false} {
		kernels := &stubKernels{respond: respond, weight: func(i int) float64 { return 1 + 0.5*float64(i) }}
		ts := newStubSet(TwoBody, 5, 4, 3, kernels)
		ts.alpha[1] = 7 // y component: stub answers 0 there

		m := newTestMap(t, PairKey(1, 8), pairGrid(17), func(c *Config) { c.MapForce = mapForce })
		require.NoError(t, m.Build(context.Background(), ts, kernels))

		nodes := m.Grid().Nodes()
		means := m.Means()
		require.Len(t, means, len(nodes))

		for i, x := range nodes {
			probe := newProbe(m.Key(), 5)
			setProbeGeometry(probe, m.Key(), x)

			var want float64
			for e := 0; e < 4; e++ {
				want += kernels.value(probe, e)
			}

			for s := 0; s < 3; s++ {
				want += kernels.value(probe, s)
			}

			assert.InDelta(t, want, means[i], 1e-12)

			eval, err := m.Evaluate(x, 0, true)
			require.NoError(t, err)
			assert.InDelta(t, want, eval.Mean, 1e-9, "node %v", x)
			assert.Nil(t, eval.Variance)
		}
	}
}

func TestSingleInteractionMapBatchOrderInvariant(t *testing.T) {
	kernels := &stubKernels{respond: probeDistance, weight: func(i int) float64 { return float64(i + 1) }}
	ts := newStubSet(TwoBody, 5, 7, 5, kernels)

	serial := newTestMap(t, PairKey(1, 1), pairGrid(8), func(c *Config) { c.Workers = 1; c.SampleHint = 0 })
	parallel := newTestMap(t, PairKey(1, 1), pairGrid(8), func(c *Config) { c.Workers = 4; c.SampleHint = 1 })

	require.NoError(t, serial.Build(context.Background(), ts, kernels))
	require.NoError(t, parallel.Build(context.Background(), ts, kernels))

	assert.Equal(t, serial.Means(), parallel.Means())
	assert.True(t, mat.Equal(serial.Variances(), parallel.Variances()))

	// Identity factor: projected vectors are the raw kernel vectors, force
	// columns first.
	v := parallel.Variances()
	nodes := parallel.Grid().Nodes()

	rows, cols := v.Dims()
	assert.Equal(t, len(nodes), rows)
	assert.Equal(t, 3*7+5, cols)

	for i, x := range nodes {
		assert.InDelta(t, x[0]*3, v.At(i, 6), 1e-12)
		assert.InDelta(t, x[0]*2, v.At(i, 21+1), 1e-12)
	}
}

func TestSingleInteractionMapRankIdempotent(t *testing.T) {
	kernels := &stubKernels{respond: probeDistance, weight: func(i int) float64 { return math.Cos(float64(i)) }}
	ts := newStubSet(TwoBody, 5, 6, 2, kernels)

	build := func() *SingleInteractionMap {
		m := newTestMap(t, PairKey(1, 1), pairGrid(12), func(c *Config) { c.SVDRank = 2 })
		require.NoError(t, m.Build(context.Background(), ts, kernels))

		return m
	}

	a, b := build(), build()

	assert.Equal(t, 2, a.Rank())
	assert.True(t, mat.Equal(a.basis(0), b.basis(0)))

	for _, x := range [][]float64{{0.7}, {2.3}, {4.9}} {
		ea, err := a.Evaluate(x, 0, false)
		require.NoError(t, err)

		eb, err := b.Evaluate(x, 0, false)
		require.NoError(t, err)

		assert.Equal(t, ea, eb)
		assert.Len(t, ea.Variance, 2)
	}

	// Rank above the retained basis is clamped.
	eval, err := a.Evaluate([]float64{1}, 10, false)
	require.NoError(t, err)
	assert.Len(t, eval.Variance, 2)
}

func TestSingleInteractionMapEmptyTrainingSet(t *testing.T) {
	kernels := &stubKernels{}
	m := newTestMap(t, PairKey(1, 1), pairGrid(5), nil)

	require.NoError(t, m.Build(context.Background(), newStubSet(TwoBody, 5, 0, 0, kernels), kernels))

	assert.Equal(t, Fit, m.State())
	assert.Equal(t, make([]float64, 5), m.Means())
	assert.Nil(t, m.Variances())
	assert.Zero(t, kernels.calls.Load())

	eval, err := m.Evaluate([]float64{2}, 0, false)
	require.NoError(t, err)
	assert.InDelta(t, 0, eval.Mean, 1e-15)
	assert.Nil(t, eval.Variance)
}

func TestSingleInteractionMapBuildFailureKeepsState(t *testing.T) {
	boom := errors.New("kernel exploded")
	kernels := &stubKernels{fail: boom}

	m := newTestMap(t, PairKey(1, 1), pairGrid(5), nil)
	require.NoError(t, m.BuildContainer())

	err := m.Build(context.Background(), newStubSet(TwoBody, 5, 9, 0, kernels), kernels)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, ContainerBuilt, m.State())
}

func TestSingleInteractionMapAlphaMismatch(t *testing.T) {
	kernels := &stubKernels{}
	ts := newStubSet(TwoBody, 5, 2, 0, kernels)
	ts.alpha = ts.alpha[:5]

	m := newTestMap(t, PairKey(1, 1), pairGrid(5), nil)

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, m.Build(context.Background(), ts, kernels), &cfgErr)
}

func TestSingleInteractionMapProgress(t *testing.T) {
	progress := make(chan BuildProgress, 64)
	kernels := &stubKernels{}

	m := newTestMap(t, PairKey(1, 1), pairGrid(5), func(c *Config) {
		c.Workers = 2
		c.SampleHint = 1
		c.ProgressChan = progress
	})

	require.NoError(t, m.Build(context.Background(), newStubSet(TwoBody, 5, 3, 2, kernels), kernels))
	close(progress)

	counts := map[Subset]int{}
	for p := range progress {
		assert.Equal(t, PairKey(1, 1), p.Key)
		assert.Equal(t, 5, p.Nodes)
		assert.LessOrEqual(t, p.Completed, p.Batches)

		counts[p.Subset]++
	}

	assert.Equal(t, 3, counts[ForceSubset])
	assert.Equal(t, 2, counts[EnergySubset])
}

type memorySink map[string][]int

func (s memorySink) Save(name string, shape []int, data []float64) error {
	s[name] = append([]int(nil), shape...)

	return nil
}

func TestSingleInteractionMapSink(t *testing.T) {
	sink := memorySink{}
	kernels := &stubKernels{}

	m := newTestMap(t, PairKey(1, 8), pairGrid(6), func(c *Config) { c.Sink = sink })
	require.NoError(t, m.Build(context.Background(), newStubSet(TwoBody, 5, 2, 1, kernels), kernels))

	assert.Equal(t, []int{6}, sink["grid2_mean_H_O"])
	assert.Equal(t, []int{6, 7}, sink["grid2_var_H_O"])
}

func TestNewSingleInteractionMapValidation(t *testing.T) {
	config := DefaultConfig(TwoBody)

	_, err := NewSingleInteractionMap(PairKey(1, 1), GridSpec{Lower: []float64{5}, Upper: []float64{1}, Resolution: []int{4}}, config)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	_, err = NewSingleInteractionMap(TripletKey(1, 1, 1), pairGrid(4), config)
	assert.ErrorIs(t, err, ErrInvalidGrid)

	var cfgErr *ConfigurationError
	_, err = NewSingleInteractionMap(InteractionKey{Order: 4}, pairGrid(4), config)
	assert.ErrorAs(t, err, &cfgErr)
}
