package mgp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Predict sums the mapped contributions of every interaction in env.
//
// Parameters:
// - env: the neighbourhood of one central atom
// - meanOnly: skip the variance; forced true for a mean-only surrogate
// - rank: variance components to use; <= 0 means the configured SVD rank,
// values above a map's retained rank are clamped
//
// Returns:
// - Prediction: force, virial, exact self-variance, projected variance and
// energy. Every field is the sum of independent per-interaction
// contributions.
// - error: NotFitError before Build, ConfigurationError for an interaction
// the surrogate has no map for, or a kernel failure
func (s *MappedSurrogate) Predict(env *Environment, meanOnly bool, rank int) (Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.kernels == nil {
		return Prediction{}, &NotFitError{}
	}

	if s.config.MeanOnly {
		meanOnly = true
	}

	if rank <= 0 {
		rank = s.config.SVDRank
	}

	comps := 1
	if s.config.MapForce {
		comps = 3
	}

	pred := Prediction{KernelSelf: make([]float64, comps)}
	if s.dof > 0 {
		pred.Variance = mat.NewDense(s.dof, comps, nil)
	}

	if !meanOnly {
		if err := s.selfVariance(env, pred.KernelSelf); err != nil {
			return Prediction{}, err
		}
	}

	groups, keys, err := decompose(env, s.order, s.upper)
	if err != nil {
		return Prediction{}, err
	}

	for _, key := range keys {
		var (
			part Prediction
			err  error
		)

		if s.config.MapForce {
			part, err = s.forceContribution(s.maps[key], groups[key], meanOnly, rank)
		} else {
			part, err = s.energyContribution(s.maps[key], groups[key], meanOnly, rank)
		}

		if err != nil {
			return Prediction{}, err
		}

		if err := pred.accumulate(part); err != nil {
			return Prediction{}, fmt.Errorf("mgp: %s: %w", key, err)
		}
	}

	return pred, nil
}

// selfVariance fills out with the exact prior variance of env.
func (s *MappedSurrogate) selfVariance(env *Environment, out []float64) error {
	if !s.config.MapForce {
		v, err := s.kernels.SelfEnergy(env)
		if err != nil {
			return fmt.Errorf("mgp: self energy kernel: %w", err)
		}

		out[0] = v

		return nil
	}

	for d := range out {
		v, err := s.kernels.SelfForce(env, d)
		if err != nil {
			return fmt.Errorf("mgp: self force kernel: %w", err)
		}

		out[d] = v
	}

	return nil
}

// forceContribution reconstructs force and virial from a map of force
// magnitudes. Energy is not available on this path.
//
// Parameters:
// - m: the force-mapped interaction map
// - in: every instance of m's interaction in the neighbourhood
// - meanOnly, rank: passed through to Evaluate
//
// Returns:
// - Prediction: force as the sum of mean*u over instances, virial as
// 0.5*Σ f_a u_b r in (xx, yy, zz, xy, xz, yz) order, and variance as the
// basis times Σ v⊗u (training DOF x 3)
// - error: an Evaluate failure
func (s *MappedSurrogate) forceContribution(m *SingleInteractionMap, in *instances, meanOnly bool, rank int) (Prediction, error) {
	var (
		part Prediction
		vd   *mat.Dense
	)

	for b, x := range in.coords {
		eval, err := m.Evaluate(x, rank, meanOnly)
		if err != nil {
			return Prediction{}, err
		}

		u := in.units[b]
		r := x[0]

		var fd [3]float64
		for k := range fd {
			fd[k] = eval.Mean * u[k]
			part.Force[k] += fd[k]
		}

		for i, ab := range s.variant.forceVirial {
			part.Virial[i] += fd[ab[0]] * u[ab[1]] * r
		}

		if eval.Variance == nil {
			continue
		}

		if vd == nil {
			vd = mat.NewDense(len(eval.Variance), 3, nil)
		}

		for c, v := range eval.Variance {
			for k := 0; k < 3; k++ {
				vd.Set(c, k, vd.At(c, k)+v*u[k])
			}
		}
	}

	for i := range part.Virial {
		part.Virial[i] *= 0.5
	}

	if vd != nil {
		part.Variance = projectBack(m, vd)
	}

	return part, nil
}

// energyContribution reconstructs energy, force and virial from a map of
// local energies and their derivatives.
//
// Parameters:
// - m: the energy-mapped interaction map
// - in: every instance of m's interaction in the neighbourhood
// - meanOnly, rank: passed through to Evaluate
//
// Returns:
// - Prediction: force as multiplicity*Σ dE/dr1*u, virial scaled by
// multiplicity/2 in (xx, yy, zz, yz, xz, xy) order, energy as
// multiplicity*ΣE/orderings, and variance as the basis times Σ v (training
// DOF x 1)
// - error: an Evaluate failure
func (s *MappedSurrogate) energyContribution(m *SingleInteractionMap, in *instances, meanOnly bool, rank int) (Prediction, error) {
	var (
		part   Prediction
		energy float64
		vsum   *mat.Dense
	)

	mult := s.variant.multiplicity

	for b, x := range in.coords {
		eval, err := m.Evaluate(x, rank, meanOnly)
		if err != nil {
			return Prediction{}, err
		}

		u := in.units[b]
		r := x[0]

		energy += eval.Mean

		var fd [3]float64
		for k := range fd {
			fd[k] = eval.Gradient[0] * u[k]
			part.Force[k] += mult * fd[k]
		}

		for i, ab := range s.variant.energyVirial {
			part.Virial[i] += fd[ab[0]] * u[ab[1]] * r
		}

		if eval.Variance == nil {
			continue
		}

		if vsum == nil {
			vsum = mat.NewDense(len(eval.Variance), 1, nil)
		}

		for c, v := range eval.Variance {
			vsum.Set(c, 0, vsum.At(c, 0)+v)
		}
	}

	for i := range part.Virial {
		part.Virial[i] *= mult / 2
	}

	part.Energy = mult * energy / s.variant.orderings

	if vsum != nil {
		part.Variance = projectBack(m, vsum)
	}

	return part, nil
}

// projectBack contracts reduced variance components through the map's
// retained basis, giving training DOF x components.
func projectBack(m *SingleInteractionMap, reduced *mat.Dense) *mat.Dense {
	rank, _ := reduced.Dims()

	basis := m.basis(rank)
	if basis == nil {
		return nil
	}

	var out mat.Dense
	out.Mul(basis, reduced)

	return &out
}

// accumulate adds q to p component-wise. It fails without touching p when
// the variance shapes differ.
func (p *Prediction) accumulate(q Prediction) error {
	if q.Variance != nil && p.Variance != nil {
		pr, pc := p.Variance.Dims()
		qr, qc := q.Variance.Dims()

		if pr != qr || pc != qc {
			return fmt.Errorf("%w: variance %dx%d does not match %dx%d", ErrShapeMismatch, qr, qc, pr, pc)
		}
	}

	for k := range p.Force {
		p.Force[k] += q.Force[k]
	}

	for i := range p.Virial {
		p.Virial[i] += q.Virial[i]
	}

	p.Energy += q.Energy

	if q.Variance != nil && p.Variance != nil {
		p.Variance.Add(p.Variance, q.Variance)
	}

	return nil
}

// PredictiveVariance returns the posterior variance per component: the exact
// self-variance minus the squared norm of the projected kernel vector,
// clamped at zero.
//
// Returns:
// - []float64: one value per mapped component (three when force-mapped,
// one otherwise). Nil when the training set was empty or the variance and
// self-variance shapes disagree.
//
// Usage example:
//
//	pred, _ := surrogate.Predict(env, false, 0)
//	if v := pred.PredictiveVariance(); v != nil && v[0] > threshold {
//	    // Environment is outside the well-sampled region.
//	}
func (p Prediction) PredictiveVariance() []float64 {
	if p.Variance == nil {
		return nil
	}

	_, comps := p.Variance.Dims()
	if comps != len(p.KernelSelf) {
		return nil
	}

	out := make([]float64, comps)

	for c := range out {
		var sq float64
		for _, v := range mat.Col(nil, c, p.Variance) {
			sq += v * v
		}

		out[c] = max(p.KernelSelf[c]-sq, 0)
	}

	return out
}
