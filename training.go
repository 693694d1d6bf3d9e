package mgp

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"
)

// HyperMask is the hyperparameter and cutoff configuration of a training set.
// Two masks describe the same model iff their snapshots are equal.
type HyperMask struct {
	// Kernels lists the active kernels by name, e.g. "twobody".
	Kernels []string `json:"kernels"`

	// Cutoffs is the default cutoff per kernel.
	Cutoffs map[string]float64 `json:"cutoffs"`

	// SpeciesCutoffs overrides Cutoffs for one interaction, keyed
	// "<kernel>:<interaction>", e.g. "twobody:H_O".
	SpeciesCutoffs map[string]float64 `json:"species_cutoffs,omitempty"`

	// Hyperparameters are the trained kernel hyperparameters.
	Hyperparameters []float64 `json:"hyps,omitempty"`
}

// Snapshot is the serialized, equality-comparable form of a HyperMask.
type Snapshot string

// Snapshot serializes the mask. Map keys are emitted sorted, so equal masks
// always produce equal snapshots.
func (m HyperMask) Snapshot() (Snapshot, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("mgp: snapshot hyperparameter mask: %w", err)
	}

	return Snapshot(b), nil
}

// HasKernel reports whether name is an active kernel.
func (m HyperMask) HasKernel(name string) bool {
	for _, k := range m.Kernels {
		if k == name {
			return true
		}
	}

	return false
}

// Cutoff returns the cutoff of kernel for key: the species-specific override
// if present, the kernel default otherwise.
func (m HyperMask) Cutoff(kernel string, key InteractionKey) (float64, error) {
	if c, ok := m.SpeciesCutoffs[kernel+":"+key.String()]; ok {
		return c, nil
	}

	if c, ok := m.Cutoffs[kernel]; ok {
		return c, nil
	}

	return 0, &ConfigurationError{Kernel: kernel, Key: key.String(), Reason: "no cutoff in hyperparameter mask"}
}

// TrainingSet is a trained Gaussian process as seen by the mapping engine.
//
// The training degrees of freedom are ordered force-labelled environments
// first (three components each), then energy-labelled structures. Alpha and
// LowerFactor must follow the same order.
type TrainingSet interface {
	// Mask returns the active hyperparameter configuration.
	Mask() HyperMask

	// Alpha returns the trained weight vector, one entry per training DOF.
	Alpha() []float64

	// LowerFactor returns the lower-triangular Cholesky factor of the
	// training covariance.
	LowerFactor() mat.Triangular

	// ForceCount returns the number of force-labelled environments.
	ForceCount() int

	// EnergyCount returns the number of energy-labelled structures.
	EnergyCount() int

	// Kernels returns the unit kernels of the named kernel bound to this
	// training set and its current hyperparameters.
	Kernels(name string) (UnitKernels, error)
}

// UnitKernels evaluates kernels between one probe environment and a
// contiguous range [start, end) of training entries.
//
// Force ranges index force-labelled environments and return three values per
// environment (x, y, z). Energy ranges index energy-labelled structures and
// return one value per structure. Implementations must be safe for
// concurrent use with distinct probes.
type UnitKernels interface {
	// ForceForce covaries force component of the probe with training forces.
	ForceForce(probe *Environment, component, start, end int) ([]float64, error)

	// EnergyForce covaries the probe's local energy with training forces.
	EnergyForce(probe *Environment, start, end int) ([]float64, error)

	// ForceEnergy covaries force component of the probe with training energies.
	ForceEnergy(probe *Environment, component, start, end int) ([]float64, error)

	// EnergyEnergy covaries the probe's local energy with training energies.
	EnergyEnergy(probe *Environment, start, end int) ([]float64, error)

	// SelfForce is the prior variance of force component of env.
	SelfForce(env *Environment, component int) (float64, error)

	// SelfEnergy is the prior variance of the local energy of env.
	SelfEnergy(env *Environment) (float64, error)
}

// trainingState identifies the training data a map was fit against. The
// alpha fingerprint catches relabelled data with unchanged counts.
type trainingState struct {
	snapshot Snapshot
	forces   int
	energies int
	dof      int
	alpha    uint64
}

// fingerprint hashes the bit patterns of alpha.
func fingerprint(alpha []float64) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 8)

	for _, a := range alpha {
		buf = binary.LittleEndian.AppendUint64(buf[:0], math.Float64bits(a))
		_, _ = d.Write(buf)
	}

	return d.Sum64()
}

func currentState(ts TrainingSet) (trainingState, error) {
	snap, err := ts.Mask().Snapshot()
	if err != nil {
		return trainingState{}, err
	}

	alpha := ts.Alpha()

	return trainingState{
		snapshot: snap,
		forces:   ts.ForceCount(),
		energies: ts.EnergyCount(),
		dof:      len(alpha),
		alpha:    fingerprint(alpha),
	}, nil
}
