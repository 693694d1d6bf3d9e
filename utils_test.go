package mgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPythonFloat(t *testing.T) {
	cases := map[float64]string{
		0:         "0.0",
		0.5:       "0.5",
		5:         "5.0",
		-2:        "-2.0",
		123.25:    "123.25",
		0.0001:    "0.0001",
		0.00001:   "1e-05",
		1e16:      "1e+16",
		1.5e15:    "1500000000000000.0",
		1.0 / 3:   "0.3333333333333333",
	}

	for in, want := range cases {
		assert.Equal(t, want, pythonFloat(in), "%v", in)
	}
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{0.5, 1.625, 2.75, 3.875, 5}, linspace(0.5, 5.0, 5))
	assert.Equal(t, []float64{1}, linspace(1.0, 2.0, 1))
	assert.Nil(t, linspace(1.0, 2.0, 0))
}

func TestNormalCDF(t *testing.T) {
	assert.InDelta(t, 0.5, normalCDF(0), 1e-15)
	assert.InDelta(t, 0.841344746, normalCDF(1), 1e-9)
}
