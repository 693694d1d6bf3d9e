package mgp

import "math"

//////
// Uncertainty of a mapped prediction. These turn the projected variance into
// the quantities an active-learning loop acts on: flag a frame for DFT when
// the uncertainty of a mapped component grows too large.
//////

// components returns the mapped means matching KernelSelf: the three force
// components when force-mapped, the energy otherwise.
func (p Prediction) components() []float64 {
	if len(p.KernelSelf) == 3 {
		return p.Force[:]
	}

	return []float64{p.Energy}
}

// Uncertainty returns the predictive standard deviation per mapped
// component. Nil when the prediction carries no variance.
//
// Usage example:
//
//	pred, _ := surrogate.Predict(env, false, 0)
//	for d, sigma := range pred.Uncertainty() {
//	    fmt.Printf("F[%d] = %v ± %v\n", d, pred.Force[d], sigma)
//	}
func (p Prediction) Uncertainty() []float64 {
	v := p.PredictiveVariance()
	if v == nil {
		return nil
	}

	for i := range v {
		v[i] = math.Sqrt(v[i])
	}

	return v
}

// ConfidenceBounds returns mean - beta*sigma and mean + beta*sigma per mapped
// component. Higher beta widens the band. Both are nil when the prediction
// carries no variance.
func (p Prediction) ConfidenceBounds(beta float64) (lower, upper []float64) {
	sigma := p.Uncertainty()
	if sigma == nil {
		return nil, nil
	}

	mean := p.components()
	if len(mean) != len(sigma) {
		return nil, nil
	}

	lower = make([]float64, len(mean))
	upper = make([]float64, len(mean))

	for i := range mean {
		lower[i] = mean[i] - beta*sigma[i]
		upper[i] = mean[i] + beta*sigma[i]
	}

	return lower, upper
}

// ExceedanceProbability returns, per mapped component, the probability under
// the Gaussian predictive distribution that the true value exceeds
// threshold. With zero uncertainty it is 1 when the mean exceeds threshold
// and 0 otherwise.
func (p Prediction) ExceedanceProbability(threshold float64) []float64 {
	sigma := p.Uncertainty()
	if sigma == nil {
		return nil
	}

	mean := p.components()
	if len(mean) != len(sigma) {
		return nil
	}

	out := make([]float64, len(mean))

	for i := range mean {
		if sigma[i] == 0 {
			if mean[i] > threshold {
				out[i] = 1
			}

			continue
		}

		out[i] = 1 - normalCDF((threshold-mean[i])/sigma[i])
	}

	return out
}
