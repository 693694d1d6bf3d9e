package mgp

import (
	"errors"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// stubKernels answers every unit kernel with a response shaped by the probe
// geometry and the training index. Force ranges answer [g, 0, 0] per
// environment, energy ranges answer g per structure, where
// g = respond(probe) * weight(i). When failWhen is set, fail is only
// returned for the probes it matches.
type stubKernels struct {
	respond  func(probe *Environment) float64
	weight   func(i int) float64
	self     float64
	fail     error
	failWhen func(probe *Environment) bool

	calls     atomic.Int64
	selfCalls atomic.Int64
}

func (k *stubKernels) value(probe *Environment, i int) float64 {
	g := 1.0
	if k.respond != nil {
		g = k.respond(probe)
	}

	if k.weight != nil {
		g *= k.weight(i)
	}

	return g
}

func (k *stubKernels) failing(probe *Environment) bool {
	return k.fail != nil && (k.failWhen == nil || k.failWhen(probe))
}

func (k *stubKernels) forces(probe *Environment, start, end int) ([]float64, error) {
	k.calls.Add(1)

	if k.failing(probe) {
		return nil, k.fail
	}

	out := make([]float64, 0, 3*(end-start))
	for i := start; i < end; i++ {
		out = append(out, k.value(probe, i), 0, 0)
	}

	return out, nil
}

func (k *stubKernels) energies(probe *Environment, start, end int) ([]float64, error) {
	k.calls.Add(1)

	if k.failing(probe) {
		return nil, k.fail
	}

	out := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, k.value(probe, i))
	}

	return out, nil
}

func (k *stubKernels) ForceForce(probe *Environment, _ int, start, end int) ([]float64, error) {
	return k.forces(probe, start, end)
}

func (k *stubKernels) EnergyForce(probe *Environment, start, end int) ([]float64, error) {
	return k.forces(probe, start, end)
}

func (k *stubKernels) ForceEnergy(probe *Environment, _ int, start, end int) ([]float64, error) {
	return k.energies(probe, start, end)
}

func (k *stubKernels) EnergyEnergy(probe *Environment, start, end int) ([]float64, error) {
	return k.energies(probe, start, end)
}

func (k *stubKernels) SelfForce(*Environment, int) (float64, error) {
	k.selfCalls.Add(1)

	return k.self, nil
}

func (k *stubKernels) SelfEnergy(*Environment) (float64, error) {
	k.selfCalls.Add(1)

	return k.self, nil
}

// stubSet is a training set with an identity Cholesky factor, so projected
// kernel vectors equal the raw ones.
type stubSet struct {
	mask     HyperMask
	alpha    []float64
	forces   int
	energies int
	kernels  *stubKernels
}

func newStubSet(order BodyOrder, cutoff float64, forces, energies int, kernels *stubKernels) *stubSet {
	alpha := make([]float64, 3*forces+energies)
	for i := range alpha {
		alpha[i] = 1
	}

	return &stubSet{
		mask: HyperMask{
			Kernels: []string{order.KernelName()},
			Cutoffs: map[string]float64{order.KernelName(): cutoff},
		},
		alpha:    alpha,
		forces:   forces,
		energies: energies,
		kernels:  kernels,
	}
}

func (s *stubSet) Mask() HyperMask { return s.mask }
func (s *stubSet) Alpha() []float64 { return s.alpha }
func (s *stubSet) ForceCount() int { return s.forces }
func (s *stubSet) EnergyCount() int { return s.energies }
func (s *stubSet) LowerFactor() mat.Triangular {
	n := len(s.alpha)
	if n == 0 {
		return nil
	}

	l := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		l.SetTri(i, i, 1)
	}

	return l
}

func (s *stubSet) Kernels(name string) (UnitKernels, error) {
	if !s.mask.HasKernel(name) {
		return nil, errors.New("unknown kernel " + name)
	}

	return s.kernels, nil
}

// bondAlong returns a bond of length r along direction d (normalised).
func bondAlong(species int, r float64, d [3]float64) Bond {
	var n float64
	for _, v := range d {
		n += v * v
	}

	n = 1 / math.Sqrt(n)

	return Bond{Species: species, Distance: r, Unit: [3]float64{d[0] * n, d[1] * n, d[2] * n}}
}

// probeDistance is a stub response equal to the probe's first bond length.
func probeDistance(probe *Environment) float64 { return probe.Bonds[0].Distance }
