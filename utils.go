package mgp

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

//////
// Helper functions.
//////

// normalCDF is the cumulative distribution function of the standard normal
// distribution.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// linspace returns n evenly spaced values from lower to upper inclusive.
//
// Important notes:
// - The last value is exactly upper, not lower + (n-1)*step
// - Returns []T{lower} for n == 1 and nil for n <= 0.
func linspace[T constraints.Float](lower, upper T, n int) []T {
	if n <= 0 {
		return nil
	}

	out := make([]T, n)
	if n == 1 {
		out[0] = lower

		return out
	}

	step := (upper - lower) / T(n-1)
	for i := range out {
		out[i] = lower + T(i)*step
	}

	out[n-1] = upper

	return out
}

// ceilDiv returns ceil(a / b) for positive b.
func ceilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// pythonFloat formats f the way Python's str(float) does: the shortest
// round-tripping representation, always with a decimal point in positional
// notation, scientific notation outside [1e-4, 1e16).
//
// The downstream coefficient readers were written against files produced
// that way.
func pythonFloat(f float64) string {
	sci := strconv.FormatFloat(f, 'e', -1, 64)

	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil || exp < -4 || exp >= 16 {
		return sci
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}

	return s
}
