// Package gp is a reference two-body Gaussian process over atomic
// environments, trained on force and energy labels. It implements
// mgp.TrainingSet, so a trained model can be compressed into a
// mgp.MappedSurrogate, and predicts exactly (at O(N_train) per call) for
// comparison with the mapped result.
package gp

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/thalesfsp/mgp"
)

//////
// Const, vars, types.
//////

// ErrNotTrained is returned by predictions and kernel lookups before Train.
var ErrNotTrained = errors.New("gp: model is not trained")

// maxJitterAttempts bounds the diagonal jitter escalation in Train.
const maxJitterAttempts = 6

// Structure is an energy-labelled configuration: the environments of all of
// its atoms. Its energy is the sum of their local energies.
type Structure []*mgp.Environment

// Noise is the label noise standard deviation per label kind.
type Noise struct {
	Force  float64
	Energy float64
}

// model is the immutable result of one Train call.
type model struct {
	kernel     TwoBodyKernel
	mask       mgp.HyperMask
	envs       []*mgp.Environment
	structures []Structure
	alpha      []float64
	lower      *mat.TriDense
}

// GaussianProcess is a thread-safe two-body Gaussian process.
//
// Fields:
// - mu: RWMutex for thread-safe access to all fields
// - kernel, noise: hyperparameters used by the next Train
// - envs, forces: force-labelled environments and their labels
// - structures, energies: energy-labelled structures and their labels
// - trained: the model of the last Train, nil before
//
// Thread safety:
// - Add* and Train take the write lock
// - Predictions and the mgp.TrainingSet methods take the read lock and only
// see the last trained model, never data added after it.
type GaussianProcess struct {
	mu sync.RWMutex

	kernel TwoBodyKernel
	noise  Noise
	logger *zap.Logger

	envs       []*mgp.Environment
	forces     [][3]float64
	structures []Structure
	energies   []float64

	trained *model
}

//////
// Methods.
//////

// AddForceEnvironment adds a force label on the central atom of env. The
// environment is copied.
func (gp *GaussianProcess) AddForceEnvironment(env *mgp.Environment, force [3]float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.envs = append(gp.envs, env.Clone())
	gp.forces = append(gp.forces, force)
}

// AddEnergyStructure adds a total-energy label on a structure. The
// environments are copied.
func (gp *GaussianProcess) AddEnergyStructure(s Structure, energy float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	c := make(Structure, len(s))
	for i, env := range s {
		c[i] = env.Clone()
	}

	gp.structures = append(gp.structures, c)
	gp.energies = append(gp.energies, energy)
}

// SetKernel replaces the kernel used by the next Train.
func (gp *GaussianProcess) SetKernel(kernel TwoBodyKernel) error {
	if err := kernel.Validate(); err != nil {
		return err
	}

	gp.mu.Lock()
	defer gp.mu.Unlock()

	gp.kernel = kernel

	return nil
}

// Kernel returns the kernel used by the next Train.
func (gp *GaussianProcess) Kernel() TwoBodyKernel {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return gp.kernel
}

// Train factors the training covariance and solves for the weights.
//
// Returns:
// - error: if no labels were added or the covariance stays indefinite after
// jitter escalation
//
// The covariance is ordered force components first (three per environment)
// then structure energies. When the Cholesky factorization fails, a growing
// diagonal jitter is added and the factorization retried.
func (gp *GaussianProcess) Train() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	nf, ne := len(gp.envs), len(gp.structures)
	n := 3*nf + ne

	if n == 0 {
		return errors.New("gp: no training labels")
	}

	k := gp.covariance()

	y := mat.NewVecDense(n, nil)
	for e, f := range gp.forces {
		for d := 0; d < 3; d++ {
			y.SetVec(3*e+d, f[d])
		}
	}

	for s, v := range gp.energies {
		y.SetVec(3*nf+s, v)
	}

	var (
		chol   mat.Cholesky
		jitter float64
	)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			jitter = 1e-10 * math.Pow(10, float64(attempt))

			for i := 0; i < n; i++ {
				k.SetSym(i, i, k.At(i, i)+jitter)
			}

			gp.logger.Debug("cholesky failed, adding jitter",
				zap.Int("attempt", attempt),
				zap.Float64("jitter", jitter),
			)
		}

		if chol.Factorize(k) {
			break
		}

		if attempt == maxJitterAttempts {
			return errors.New("gp: training covariance is not positive definite")
		}
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("gp: solve weights: %w", err)
		}

		gp.logger.Warn("ill-conditioned training covariance", zap.Float64("condition", float64(cond)))
	}

	var lower mat.TriDense
	chol.LTo(&lower)

	gp.trained = &model{
		kernel:     gp.kernel,
		mask:       maskOf(gp.kernel, gp.noise),
		envs:       append([]*mgp.Environment(nil), gp.envs...),
		structures: append([]Structure(nil), gp.structures...),
		alpha:      append([]float64(nil), alpha.RawVector().Data...),
		lower:      &lower,
	}

	gp.logger.Info("trained",
		zap.Int("force_environments", nf),
		zap.Int("energy_structures", ne),
		zap.Float64("jitter", jitter),
	)

	return nil
}

// covariance assembles the noisy training covariance. Caller holds the lock.
func (gp *GaussianProcess) covariance() *mat.SymDense {
	nf := len(gp.envs)
	n := 3*nf + len(gp.structures)
	k := mat.NewSymDense(n, nil)
	kern := gp.kernel

	for a, ea := range gp.envs {
		for d1 := 0; d1 < 3; d1++ {
			i := 3*a + d1

			for b := a; b < nf; b++ {
				for d2 := 0; d2 < 3; d2++ {
					j := 3*b + d2
					if j < i {
						continue
					}

					k.SetSym(i, j, kern.ForceForce(ea, d1, gp.envs[b], d2))
				}
			}

			for s, st := range gp.structures {
				k.SetSym(i, 3*nf+s, forceStructure(kern, ea, d1, st))
			}
		}

		for d := 0; d < 3; d++ {
			k.SetSym(3*a+d, 3*a+d, k.At(3*a+d, 3*a+d)+gp.noise.Force*gp.noise.Force)
		}
	}

	for s, st := range gp.structures {
		for t := s; t < len(gp.structures); t++ {
			var v float64
			for _, e := range st {
				v += energyStructure(kern, e, gp.structures[t])
			}

			if s == t {
				v += gp.noise.Energy * gp.noise.Energy
			}

			k.SetSym(3*nf+s, 3*nf+t, v)
		}
	}

	return k
}

// PredictForce returns the posterior mean and variance of the force on the
// central atom of env.
func (gp *GaussianProcess) PredictForce(env *mgp.Environment) (mean, variance [3]float64, err error) {
	m, err := gp.model()
	if err != nil {
		return mean, variance, err
	}

	u := m.units()

	for d := 0; d < 3; d++ {
		kv := make([]float64, 0, len(m.alpha))

		fk, _ := u.ForceForce(env, d, 0, len(m.envs))
		kv = append(kv, fk...)

		ek, _ := u.ForceEnergy(env, d, 0, len(m.structures))
		kv = append(kv, ek...)

		self, _ := u.SelfForce(env, d)
		mean[d], variance[d] = m.posterior(kv, self)
	}

	return mean, variance, nil
}

// PredictEnergy returns the posterior mean and variance of the local energy
// of env.
func (gp *GaussianProcess) PredictEnergy(env *mgp.Environment) (mean, variance float64, err error) {
	m, err := gp.model()
	if err != nil {
		return 0, 0, err
	}

	u := m.units()

	fk, _ := u.EnergyForce(env, 0, len(m.envs))
	ek, _ := u.EnergyEnergy(env, 0, len(m.structures))
	self, _ := u.SelfEnergy(env)

	mean, variance = m.posterior(append(fk, ek...), self)

	return mean, variance, nil
}

func (gp *GaussianProcess) model() (*model, error) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if gp.trained == nil {
		return nil, ErrNotTrained
	}

	return gp.trained, nil
}

// posterior returns k.alpha and self - |L^-1 k|^2.
func (m *model) posterior(kv []float64, self float64) (float64, float64) {
	k := mat.NewVecDense(len(kv), kv)
	mean := mat.Dot(k, mat.NewVecDense(len(m.alpha), m.alpha))

	var v mat.VecDense
	if err := v.SolveVec(m.lower, k); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return mean, math.NaN()
		}
	}

	return mean, math.Max(self-mat.Dot(&v, &v), 0)
}

//////
// mgp.TrainingSet.
//////

// Mask implements mgp.TrainingSet.
func (gp *GaussianProcess) Mask() mgp.HyperMask {
	m, err := gp.model()
	if err != nil {
		return mgp.HyperMask{}
	}

	return m.mask
}

// Alpha implements mgp.TrainingSet.
func (gp *GaussianProcess) Alpha() []float64 {
	m, err := gp.model()
	if err != nil {
		return nil
	}

	return m.alpha
}

// LowerFactor implements mgp.TrainingSet.
func (gp *GaussianProcess) LowerFactor() mat.Triangular {
	m, err := gp.model()
	if err != nil {
		return nil
	}

	return m.lower
}

// ForceCount implements mgp.TrainingSet.
func (gp *GaussianProcess) ForceCount() int {
	m, err := gp.model()
	if err != nil {
		return 0
	}

	return len(m.envs)
}

// EnergyCount implements mgp.TrainingSet.
func (gp *GaussianProcess) EnergyCount() int {
	m, err := gp.model()
	if err != nil {
		return 0
	}

	return len(m.structures)
}

// Kernels implements mgp.TrainingSet. Only the two-body kernel exists.
func (gp *GaussianProcess) Kernels(name string) (mgp.UnitKernels, error) {
	m, err := gp.model()
	if err != nil {
		return nil, err
	}

	if name != mgp.TwoBody.KernelName() {
		return nil, &mgp.ConfigurationError{Kernel: name, Reason: "kernel not provided by the two-body model"}
	}

	return m.units(), nil
}

// maskOf describes the hyperparameters of a trained model.
func maskOf(kernel TwoBodyKernel, noise Noise) mgp.HyperMask {
	name := mgp.TwoBody.KernelName()

	return mgp.HyperMask{
		Kernels:         []string{name},
		Cutoffs:         map[string]float64{name: kernel.Cutoff},
		Hyperparameters: []float64{kernel.Sigma, kernel.Length, noise.Force, noise.Energy},
	}
}

//////
// Factory.
//////

// New creates an untrained model.
//
// Parameters:
// - kernel: two-body kernel hyperparameters
// - noise: label noise; zero noise relies on jitter for conditioning
// - logger: nil disables logging
//
// Usage example:
//
//	model, err := gp.New(gp.TwoBodyKernel{Sigma: 1, Length: 0.8, Cutoff: 4}, gp.Noise{Force: 0.05, Energy: 0.1}, nil)
//	if err != nil {
//	    return err
//	}
//
//	model.AddForceEnvironment(env, force)
//
//	if err := model.Train(); err != nil {
//	    return err
//	}
func New(kernel TwoBodyKernel, noise Noise, logger *zap.Logger) (*GaussianProcess, error) {
	if err := kernel.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &GaussianProcess{
		kernel: kernel,
		noise:  noise,
		logger: logger.Named("gp"),
	}, nil
}
