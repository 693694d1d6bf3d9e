package gp

import (
	"fmt"

	"github.com/thalesfsp/mgp"
)

// unitKernels binds a trained model's kernel and training data. It holds no
// mutable state and is safe for concurrent use.
type unitKernels struct {
	kernel     TwoBodyKernel
	envs       []*mgp.Environment
	structures []Structure
}

func (m *model) units() *unitKernels {
	return &unitKernels{kernel: m.kernel, envs: m.envs, structures: m.structures}
}

func forceStructure(k TwoBodyKernel, env *mgp.Environment, d int, s Structure) float64 {
	var v float64
	for _, e := range s {
		v += k.ForceEnergy(env, d, e)
	}

	return v
}

func energyStructure(k TwoBodyKernel, env *mgp.Environment, s Structure) float64 {
	var v float64
	for _, e := range s {
		v += k.EnergyEnergy(env, e)
	}

	return v
}

func checkRange(start, end, n int) error {
	if start < 0 || end > n || start > end {
		return fmt.Errorf("gp: range [%d, %d) outside [0, %d)", start, end, n)
	}

	return nil
}

// ForceForce implements mgp.UnitKernels.
func (u *unitKernels) ForceForce(probe *mgp.Environment, component, start, end int) ([]float64, error) {
	if err := checkRange(start, end, len(u.envs)); err != nil {
		return nil, err
	}

	out := make([]float64, 0, 3*(end-start))
	for _, env := range u.envs[start:end] {
		for d := 0; d < 3; d++ {
			out = append(out, u.kernel.ForceForce(probe, component, env, d))
		}
	}

	return out, nil
}

// EnergyForce implements mgp.UnitKernels.
func (u *unitKernels) EnergyForce(probe *mgp.Environment, start, end int) ([]float64, error) {
	if err := checkRange(start, end, len(u.envs)); err != nil {
		return nil, err
	}

	out := make([]float64, 0, 3*(end-start))
	for _, env := range u.envs[start:end] {
		for d := 0; d < 3; d++ {
			out = append(out, u.kernel.EnergyForce(probe, env, d))
		}
	}

	return out, nil
}

// ForceEnergy implements mgp.UnitKernels.
func (u *unitKernels) ForceEnergy(probe *mgp.Environment, component, start, end int) ([]float64, error) {
	if err := checkRange(start, end, len(u.structures)); err != nil {
		return nil, err
	}

	out := make([]float64, 0, end-start)
	for _, s := range u.structures[start:end] {
		out = append(out, forceStructure(u.kernel, probe, component, s))
	}

	return out, nil
}

// EnergyEnergy implements mgp.UnitKernels.
func (u *unitKernels) EnergyEnergy(probe *mgp.Environment, start, end int) ([]float64, error) {
	if err := checkRange(start, end, len(u.structures)); err != nil {
		return nil, err
	}

	out := make([]float64, 0, end-start)
	for _, s := range u.structures[start:end] {
		out = append(out, energyStructure(u.kernel, probe, s))
	}

	return out, nil
}

// SelfForce implements mgp.UnitKernels.
func (u *unitKernels) SelfForce(env *mgp.Environment, component int) (float64, error) {
	return u.kernel.ForceForce(env, component, env, component), nil
}

// SelfEnergy implements mgp.UnitKernels.
func (u *unitKernels) SelfEnergy(env *mgp.Environment) (float64, error) {
	return u.kernel.EnergyEnergy(env, env), nil
}
