package mgp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCoefficientsPairRecord(t *testing.T) {
	kernels := &stubKernels{}

	s := newTestSurrogate(t, TwoBody, []int{1, 8}, func(c *Config) { c.MapForce = true; c.MeanOnly = true })
	require.NoError(t, s.Build(context.Background(), newStubSet(TwoBody, 5.0, 3, 0, kernels)))

	m, _ := s.Map(PairKey(1, 8))

	var buf bytes.Buffer
	require.NoError(t, m.WriteCoefficients(&buf))

	three := "3.0000000000e+00 "
	want := "H O 0.5 5.0 10\n" +
		strings.Repeat(three, 5) + "\n" +
		strings.Repeat(three, 5) + "\n" +
		strings.Repeat(three, 2) + "\n"

	assert.Equal(t, want, buf.String())

	buf.Reset()
	require.NoError(t, s.WriteCoefficients(&buf))
	assert.Equal(t, 3, strings.Count(buf.String(), "0.5 5.0 10\n"))
	assert.True(t, strings.HasPrefix(buf.String(), "H H 0.5 5.0 10\n"))
}

func TestWriteCoefficientsTripletHeader(t *testing.T) {
	kernels := &stubKernels{}

	s := newTestSurrogate(t, ThreeBody, []int{8}, func(c *Config) { c.GridNum = []int{3, 4, 5}; c.MeanOnly = true })
	require.NoError(t, s.Build(context.Background(), newStubSet(ThreeBody, 4.0, 1, 0, kernels)))

	m, _ := s.Map(TripletKey(8, 8, 8))

	var buf bytes.Buffer
	require.NoError(t, m.WriteCoefficients(&buf))

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "O O O 0.5 0.5 0.5 4.0 4.0 4.0 3 4 5", lines[0])

	// 5*6*7 coefficients, five per line.
	assert.Len(t, lines, 1+42+1)
}

func TestWriteCoefficientsNotFit(t *testing.T) {
	m := newTestMap(t, PairKey(1, 1), pairGrid(4), nil)

	assert.ErrorIs(t, m.WriteCoefficients(&bytes.Buffer{}), ErrNotFit)
}
