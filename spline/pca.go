package spline

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PCA fits a matrix-valued function on a regular grid by truncating its
// singular value decomposition.
//
// Given values Y (grid nodes x outputs) with Y = U S V^T, PCA keeps the
// leading rank left singular vectors, fits one Cubic per retained component
// against S[r]*U[:, r], and stores V[:, :rank] as the retained basis. A
// prediction is then Basis() @ Evaluate(x).
type PCA struct {
	lower  []float64
	upper  []float64
	orders []int

	// requested is the configured truncation order; 0 keeps every component.
	requested int

	models []*Cubic
	basis  *mat.Dense
}

// Rank returns the number of retained components, or 0 before Fit.
func (p *PCA) Rank() int { return len(p.models) }

// Fitted reports whether Fit has completed.
func (p *PCA) Fitted() bool { return p.basis != nil }

// Basis returns the retained right singular vectors (outputs x rank). The
// returned matrix must not be modified.
func (p *PCA) Basis() *mat.Dense { return p.basis }

// Fit decomposes values (one row per grid node) and fits the retained
// component splines.
func (p *PCA) Fit(values mat.Matrix) error {
	rows, cols := values.Dims()

	probe, err := NewCubic(p.lower, p.upper, p.orders)
	if err != nil {
		return err
	}

	if rows != probe.NumPoints() {
		return fmt.Errorf("spline: got %d rows for a grid of %d nodes", rows, probe.NumPoints())
	}

	if cols == 0 {
		return errors.New("spline: cannot decompose a matrix with no columns")
	}

	var svd mat.SVD
	if ok := svd.Factorize(values, mat.SVDThin); !ok {
		return errors.New("spline: singular value decomposition failed")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	sigma := svd.Values(nil)

	rank := p.requested
	if rank == 0 || rank > len(sigma) {
		rank = len(sigma)
	}

	models := make([]*Cubic, rank)
	for r := 0; r < rank; r++ {
		component := mat.Col(nil, r, &u)
		for i := range component {
			component[i] *= sigma[r]
		}

		m, err := NewCubic(p.lower, p.upper, p.orders)
		if err != nil {
			return err
		}

		if err := m.Fit(component); err != nil {
			return fmt.Errorf("spline: component %d: %w", r, err)
		}

		models[r] = m
	}

	p.models = models
	p.basis = mat.DenseCopyOf(v.Slice(0, cols, 0, rank))

	return nil
}

// Evaluate returns the first rank component values at x. A rank <= 0 or
// above the retained rank uses every retained component.
func (p *PCA) Evaluate(x []float64, rank int) ([]float64, error) {
	if p.basis == nil {
		return nil, ErrNotFit
	}

	if rank <= 0 || rank > len(p.models) {
		rank = len(p.models)
	}

	out := make([]float64, rank)
	for r := 0; r < rank; r++ {
		v, err := p.models[r].Evaluate(x)
		if err != nil {
			return nil, err
		}

		out[r] = v
	}

	return out, nil
}

// NewPCA creates an unfit rank-truncated spline container. rank 0 keeps the
// untruncated basis.
func NewPCA(lower, upper []float64, orders []int, rank int) (*PCA, error) {
	if err := validateGrid(lower, upper, orders); err != nil {
		return nil, err
	}

	if rank < 0 {
		return nil, fmt.Errorf("spline: negative svd rank %d", rank)
	}

	return &PCA{
		lower:     append([]float64(nil), lower...),
		upper:     append([]float64(nil), upper...),
		orders:    append([]int(nil), orders...),
		requested: rank,
	}, nil
}
