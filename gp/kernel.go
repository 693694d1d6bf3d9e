package gp

import (
	"errors"
	"math"

	"github.com/thalesfsp/mgp"
)

// ErrHyperparameters is returned for non-positive kernel hyperparameters.
var ErrHyperparameters = errors.New("gp: kernel hyperparameters must be positive")

// TwoBodyKernel is a squared-exponential kernel over bond lengths with a
// quadratic cutoff, summed over every pair of species-matched bonds of two
// environments.
//
// For bonds of lengths ri and rj:
//
//	k(ri, rj) = Sigma^2 fc(ri) fc(rj) exp(-(ri-rj)^2 / (2 Length^2))
//	fc(r)     = (Cutoff - r)^2 for r < Cutoff, 0 otherwise
//
// The local energy of an environment is half the sum of its pair energies
// and the force on the central atom is the sum of the pair forces along the
// bond directions. The methods below are the covariances between those
// quantities.
type TwoBodyKernel struct {
	Sigma  float64
	Length float64
	Cutoff float64
}

// Validate checks that every hyperparameter is positive.
func (k TwoBodyKernel) Validate() error {
	if !(k.Sigma > 0 && k.Length > 0 && k.Cutoff > 0) {
		return ErrHyperparameters
	}

	return nil
}

// cutoff returns fc and its derivative at r.
func (k TwoBodyKernel) cutoff(r float64) (float64, float64) {
	if r >= k.Cutoff {
		return 0, 0
	}

	d := k.Cutoff - r

	return d * d, -2 * d
}

// pairTerms returns k, dk/dri, dk/drj and d2k/dri drj for one bond pair.
func (k TwoBodyKernel) pairTerms(ri, rj float64) (v, di, dj, dij float64) {
	fi, fdi := k.cutoff(ri)
	fj, fdj := k.cutoff(rj)

	if fi == 0 || fj == 0 {
		return 0, 0, 0, 0
	}

	l2 := k.Length * k.Length
	d := ri - rj
	s2e := k.Sigma * k.Sigma * math.Exp(-d*d/(2*l2))

	v = s2e * fi * fj
	di = s2e * (fdi*fj - fi*fj*d/l2)
	dj = s2e * (fi*fdj + fi*fj*d/l2)
	dij = s2e * (fdi*fdj + fdi*fj*d/l2 - fi*fdj*d/l2 + fi*fj*(1/l2-d*d/(l2*l2)))

	return v, di, dj, dij
}

// matches reports whether bond bi of a and bond bj of b join the same
// unordered species pair.
func matches(a *mgp.Environment, bi mgp.Bond, b *mgp.Environment, bj mgp.Bond) bool {
	return (a.Species == b.Species && bi.Species == bj.Species) ||
		(a.Species == bj.Species && bi.Species == b.Species)
}

// EnergyEnergy is the covariance of the local energies of a and b.
func (k TwoBodyKernel) EnergyEnergy(a, b *mgp.Environment) float64 {
	var sum float64

	for _, bi := range a.Bonds {
		for _, bj := range b.Bonds {
			if !matches(a, bi, b, bj) {
				continue
			}

			v, _, _, _ := k.pairTerms(bi.Distance, bj.Distance)
			sum += v
		}
	}

	return sum / 4
}

// ForceEnergy is the covariance of force component d of a with the local
// energy of b.
func (k TwoBodyKernel) ForceEnergy(a *mgp.Environment, d int, b *mgp.Environment) float64 {
	var sum float64

	for _, bi := range a.Bonds {
		for _, bj := range b.Bonds {
			if !matches(a, bi, b, bj) {
				continue
			}

			_, di, _, _ := k.pairTerms(bi.Distance, bj.Distance)
			sum += bi.Unit[d] * di
		}
	}

	return sum / 2
}

// EnergyForce is the covariance of the local energy of a with force
// component d of b.
func (k TwoBodyKernel) EnergyForce(a, b *mgp.Environment, d int) float64 {
	var sum float64

	for _, bi := range a.Bonds {
		for _, bj := range b.Bonds {
			if !matches(a, bi, b, bj) {
				continue
			}

			_, _, dj, _ := k.pairTerms(bi.Distance, bj.Distance)
			sum += bj.Unit[d] * dj
		}
	}

	return sum / 2
}

// ForceForce is the covariance of force component d1 of a with force
// component d2 of b.
func (k TwoBodyKernel) ForceForce(a *mgp.Environment, d1 int, b *mgp.Environment, d2 int) float64 {
	var sum float64

	for _, bi := range a.Bonds {
		for _, bj := range b.Bonds {
			if !matches(a, bi, b, bj) {
				continue
			}

			_, _, _, dij := k.pairTerms(bi.Distance, bj.Distance)
			sum += bi.Unit[d1] * bj.Unit[d2] * dij
		}
	}

	return sum
}
