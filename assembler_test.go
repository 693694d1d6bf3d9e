package mgp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleKernelVectorsForceSubset(t *testing.T) {
	kernels := &stubKernels{respond: probeDistance, weight: func(i int) float64 { return float64(i + 1) }}
	nodes := [][]float64{{1}, {2}, {3}}

	kv, err := AssembleKernelVectors(context.Background(), kernels, PairKey(1, 8), 5, nodes, ForceSubset, true, Batch{Start: 2, End: 4})
	require.NoError(t, err)

	rows, cols := kv.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 6, cols)

	for i, x := range nodes {
		assert.InDelta(t, x[0]*3, kv.At(i, 0), 1e-12)
		assert.InDelta(t, x[0]*4, kv.At(i, 3), 1e-12)
		assert.Zero(t, kv.At(i, 1))
	}
}

func TestAssembleKernelVectorsEnergySubset(t *testing.T) {
	kernels := &stubKernels{respond: probeDistance}

	kv, err := AssembleKernelVectors(context.Background(), kernels, PairKey(1, 1), 5, [][]float64{{1.5}}, EnergySubset, false, Batch{Start: 0, End: 2})
	require.NoError(t, err)

	_, cols := kv.Dims()
	assert.Equal(t, 2, cols)
	assert.InDelta(t, 1.5, kv.At(0, 1), 1e-12)
}

func TestAssembleKernelVectorsEmptyBatch(t *testing.T) {
	kv, err := AssembleKernelVectors(context.Background(), &stubKernels{}, PairKey(1, 1), 5, [][]float64{{1}}, ForceSubset, true, Batch{})
	require.NoError(t, err)
	assert.Nil(t, kv)
}

func TestAssembleKernelVectorsTriangleInequality(t *testing.T) {
	kernels := &stubKernels{}
	nodes := [][]float64{
		{1, 1, 1},   // equilateral
		{1, 1, 2.5}, // r12 > r1 + r2
	}

	kv, err := AssembleKernelVectors(context.Background(), kernels, TripletKey(1, 1, 1), 5, nodes, EnergySubset, false, Batch{Start: 0, End: 1})
	require.NoError(t, err)

	assert.Equal(t, 1.0, kv.At(0, 0))
	assert.Equal(t, 0.0, kv.At(1, 0))
	assert.EqualValues(t, 1, kernels.calls.Load())
}

func TestAssembleKernelVectorsPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")

	_, err := AssembleKernelVectors(context.Background(), &stubKernels{fail: boom}, PairKey(1, 1), 5, [][]float64{{1}}, ForceSubset, true, Batch{Start: 0, End: 1})
	assert.ErrorIs(t, err, boom)
}

func TestAssembleKernelVectorsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AssembleKernelVectors(ctx, &stubKernels{}, PairKey(1, 1), 5, [][]float64{{1}}, ForceSubset, true, Batch{Start: 0, End: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbeGeometry(t *testing.T) {
	key := TripletKey(1, 6, 8)
	probe := newProbe(key, 4)

	require.Len(t, probe.Bonds, 2)
	assert.Equal(t, 6, probe.Bonds[0].Species)
	assert.Equal(t, 8, probe.Bonds[1].Species)

	require.True(t, setProbeGeometry(probe, key, []float64{3, 4, 5}))
	assert.InDelta(t, 5, crossDistance(probe.Bonds[0], probe.Bonds[1]), 1e-12)
	assert.InDelta(t, 0, probe.Bonds[1].Unit[0], 1e-12)
	assert.InDelta(t, 1, math.Hypot(probe.Bonds[1].Unit[0], probe.Bonds[1].Unit[1]), 1e-12)

	assert.False(t, setProbeGeometry(probe, key, []float64{1, 1, 3}))
	assert.InDelta(t, 3, probe.Bonds[0].Distance, 1e-12)
}
