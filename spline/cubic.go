package spline

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// ErrNotFit is returned when a spline is evaluated before its coefficients
// were fit.
var ErrNotFit = errors.New("spline: coefficients not fit")

// Cubic is a tensor-product cubic B-spline interpolant on a regular grid.
//
// The grid has orders[d] equally spaced nodes on [lower[d], upper[d]] in every
// dimension d. Fitting solves for orders[d]+2 coefficients per dimension with
// natural (zero second derivative) boundary conditions, so the interpolant
// reproduces the fitted values exactly at every node.
//
// Memory usage:
// - prod(orders[d]+2) coefficients
//
// Evaluation cost:
// - 4^dims multiply-adds per call, independent of the grid resolution.
type Cubic struct {
	lower  []float64
	upper  []float64
	orders []int

	// step is the node spacing per dimension.
	step []float64

	// shape is orders+2 per dimension; stride is its row-major stride.
	shape  []int
	stride []int

	// coeffs is nil until Fit succeeds.
	coeffs []float64
}

//////
// Methods.
//////

// Dims returns the grid dimensionality.
func (s *Cubic) Dims() int { return len(s.orders) }

// NumPoints returns the number of grid nodes the spline is fit against.
func (s *Cubic) NumPoints() int {
	n := 1
	for _, o := range s.orders {
		n *= o
	}

	return n
}

// Fitted reports whether Fit has completed.
func (s *Cubic) Fitted() bool { return s.coeffs != nil }

// Lower returns a copy of the lower grid bounds.
func (s *Cubic) Lower() []float64 { return append([]float64(nil), s.lower...) }

// Upper returns a copy of the upper grid bounds.
func (s *Cubic) Upper() []float64 { return append([]float64(nil), s.upper...) }

// Orders returns a copy of the per-dimension node counts.
func (s *Cubic) Orders() []int { return append([]int(nil), s.orders...) }

// Coefficients returns a copy of the fitted coefficients in row-major order
// (last dimension fastest). It returns nil before Fit.
func (s *Cubic) Coefficients() []float64 {
	if s.coeffs == nil {
		return nil
	}

	return append([]float64(nil), s.coeffs...)
}

// Fit computes the spline coefficients from values sampled on the grid.
//
// Parameters:
// - values: one value per grid node, row-major with the last dimension fastest
//
// Returns:
// - error: if the number of values does not match the grid or the
//   coefficient system cannot be solved
//
// The coefficient system is separable: it is solved along one axis at a time
// for all fibres of that axis at once.
func (s *Cubic) Fit(values []float64) error {
	if len(values) != s.NumPoints() {
		return fmt.Errorf("spline: got %d values for a grid of %d nodes", len(values), s.NumPoints())
	}

	data := append([]float64(nil), values...)
	shape := append([]int(nil), s.orders...)

	for axis := range shape {
		var err error

		data, err = filterAxis(data, shape, axis)
		if err != nil {
			return err
		}

		shape[axis] += 2
	}

	s.coeffs = data

	return nil
}

// Evaluate returns the interpolated value at x.
func (s *Cubic) Evaluate(x []float64) (float64, error) {
	v, _, err := s.evaluate(x, false)

	return v, err
}

// EvaluateWithGradient returns the interpolated value at x and its partial
// derivatives with respect to every coordinate.
//
// Usage example:
//
//	s, _ := NewCubic([]float64{0.5}, []float64{5}, []int{10})
//	_ = s.Fit(values)
//	e, grad, err := s.EvaluateWithGradient([]float64{2.0})
//	// grad[0] is de/dr at r = 2.0
func (s *Cubic) EvaluateWithGradient(x []float64) (float64, []float64, error) {
	return s.evaluate(x, true)
}

func (s *Cubic) evaluate(x []float64, withGrad bool) (float64, []float64, error) {
	if s.coeffs == nil {
		return 0, nil, ErrNotFit
	}

	dims := len(s.orders)
	if len(x) != dims {
		return 0, nil, fmt.Errorf("spline: point has %d coordinates, grid has %d dimensions", len(x), dims)
	}

	base := make([]int, dims)
	w := make([][4]float64, dims)
	dw := make([][4]float64, dims)

	for d := 0; d < dims; d++ {
		i, u := s.locate(d, x[d])
		base[d] = i
		w[d] = basis(u)

		if withGrad {
			dw[d] = basisDerivative(u)
			for k := range dw[d] {
				dw[d][k] /= s.step[d]
			}
		}
	}

	var value float64

	var grad []float64
	if withGrad {
		grad = make([]float64, dims)
	}

	idx := make([]int, dims)

	for {
		offset := 0
		weight := 1.0

		for d := 0; d < dims; d++ {
			offset += (base[d] + idx[d]) * s.stride[d]
			weight *= w[d][idx[d]]
		}

		c := s.coeffs[offset]
		value += weight * c

		for g := 0; g < len(grad); g++ {
			p := c
			for d := 0; d < dims; d++ {
				if d == g {
					p *= dw[d][idx[d]]
				} else {
					p *= w[d][idx[d]]
				}
			}

			grad[g] += p
		}

		// Odometer over the 4^dims supporting coefficients.
		d := dims - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < 4 {
				break
			}

			idx[d] = 0
		}

		if d < 0 {
			break
		}
	}

	return value, grad, nil
}

// locate returns the cell index and the local coordinate in [0, 1] for x along
// dimension d. Points outside the grid extrapolate from the boundary cell.
func (s *Cubic) locate(d int, x float64) (int, float64) {
	t := (x - s.lower[d]) / s.step[d]
	i := int(math.Floor(t))

	if i < 0 {
		i = 0
	} else if i > s.orders[d]-2 {
		i = s.orders[d] - 2
	}

	return i, t - float64(i)
}

//////
// Helpers.
//////

// basis returns the four uniform cubic B-spline weights at local coordinate u.
func basis(u float64) [4]float64 {
	u2 := u * u
	u3 := u2 * u
	v := 1 - u

	return [4]float64{
		v * v * v / 6,
		(3*u3 - 6*u2 + 4) / 6,
		(-3*u3 + 3*u2 + 3*u + 1) / 6,
		u3 / 6,
	}
}

// basisDerivative returns d/du of basis(u).
func basisDerivative(u float64) [4]float64 {
	u2 := u * u
	v := 1 - u

	return [4]float64{
		-v * v / 2,
		(3*u2 - 4*u) / 2,
		(-3*u2 + 2*u + 1) / 2,
		u2 / 2,
	}
}

// coefficientSystem builds the (n+2)x(n+2) interpolation matrix for n nodes:
// natural boundary rows first and last, node interpolation rows in between.
func coefficientSystem(n int) *mat.Dense {
	a := mat.NewDense(n+2, n+2, nil)

	a.Set(0, 0, 1)
	a.Set(0, 1, -2)
	a.Set(0, 2, 1)

	for i := 0; i < n; i++ {
		a.Set(i+1, i, 1.0/6)
		a.Set(i+1, i+1, 4.0/6)
		a.Set(i+1, i+2, 1.0/6)
	}

	a.Set(n+1, n-1, 1)
	a.Set(n+1, n, -2)
	a.Set(n+1, n+1, 1)

	return a
}

// filterAxis replaces every fibre of length n along axis with its n+2 spline
// coefficients.
func filterAxis(data []float64, shape []int, axis int) ([]float64, error) {
	n := shape[axis]

	outer := 1
	for d := 0; d < axis; d++ {
		outer *= shape[d]
	}

	inner := 1
	for d := axis + 1; d < len(shape); d++ {
		inner *= shape[d]
	}

	fibres := outer * inner

	rhs := mat.NewDense(n+2, fibres, nil)

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			f := o*inner + in
			for i := 0; i < n; i++ {
				rhs.Set(i+1, f, data[(o*n+i)*inner+in])
			}
		}
	}

	var lu mat.LU
	lu.Factorize(coefficientSystem(n))

	var sol mat.Dense
	if err := lu.SolveTo(&sol, false, rhs); err != nil {
		return nil, fmt.Errorf("spline: coefficient solve along axis %d: %w", axis, err)
	}

	out := make([]float64, outer*(n+2)*inner)

	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			f := o*inner + in
			for k := 0; k < n+2; k++ {
				out[(o*(n+2)+k)*inner+in] = sol.At(k, f)
			}
		}
	}

	return out, nil
}

func rowMajorStrides(shape []int) []int {
	st := make([]int, len(shape))

	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		st[d] = acc
		acc *= shape[d]
	}

	return st
}

func validateGrid(lower, upper []float64, orders []int) error {
	if len(lower) == 0 || len(lower) != len(upper) || len(lower) != len(orders) {
		return fmt.Errorf("spline: dimension mismatch (lower=%d, upper=%d, orders=%d)",
			len(lower), len(upper), len(orders))
	}

	for d := range lower {
		if !(lower[d] < upper[d]) {
			return fmt.Errorf("spline: dimension %d: lower bound %v is not below upper bound %v", d, lower[d], upper[d])
		}

		if orders[d] < 2 {
			return fmt.Errorf("spline: dimension %d: need at least 2 nodes, got %d", d, orders[d])
		}
	}

	return nil
}

//////
// Factory.
//////

// NewCubic creates an unfit cubic spline container over the given grid.
//
// Parameters:
// - lower, upper: grid bounds per dimension (lower < upper)
// - orders: node count per dimension (>= 2)
func NewCubic(lower, upper []float64, orders []int) (*Cubic, error) {
	if err := validateGrid(lower, upper, orders); err != nil {
		return nil, err
	}

	s := &Cubic{
		lower:  append([]float64(nil), lower...),
		upper:  append([]float64(nil), upper...),
		orders: append([]int(nil), orders...),
		step:   make([]float64, len(orders)),
		shape:  make([]int, len(orders)),
	}

	for d := range orders {
		s.step[d] = (upper[d] - lower[d]) / float64(orders[d]-1)
		s.shape[d] = orders[d] + 2
	}

	s.stride = rowMajorStrides(s.shape)

	return s, nil
}
