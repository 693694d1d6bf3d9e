// Package dataset reads labelled atomic structures from YAML and turns them
// into the atomic environments consumed by the gp and mgp packages.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/mgp"
	"github.com/thalesfsp/mgp/gp"
)

// ErrEmpty is returned when a file holds no structures.
var ErrEmpty = errors.New("dataset: no structures")

// Atom is one atom of a structure.
type Atom struct {
	Symbol   string      `yaml:"symbol"`
	Position [3]float64  `yaml:"position"`
	Force    *[3]float64 `yaml:"force,omitempty"`
}

// Structure is a finite (non-periodic) cluster of atoms with optional labels.
type Structure struct {
	Name   string   `yaml:"name,omitempty"`
	Atoms  []Atom   `yaml:"atoms"`
	Energy *float64 `yaml:"energy,omitempty"`
}

// Dataset is the root document of a dataset file.
type Dataset struct {
	Structures []Structure `yaml:"structures"`
}

// Load reads and validates a dataset file.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}

	return Parse(raw)
}

// Parse decodes and validates a dataset document.
func Parse(raw []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("dataset: decode: %w", err)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}

	return &ds, nil
}

// Validate checks every element symbol and that the document is not empty.
func (d *Dataset) Validate() error {
	if len(d.Structures) == 0 {
		return ErrEmpty
	}

	var errs []error

	for i, s := range d.Structures {
		if len(s.Atoms) == 0 {
			errs = append(errs, fmt.Errorf("dataset: structure %d (%s) has no atoms", i, s.Name))
		}

		for j, a := range s.Atoms {
			if _, ok := mgp.AtomicNumber(a.Symbol); !ok {
				errs = append(errs, fmt.Errorf("dataset: structure %d atom %d: unknown element %q", i, j, a.Symbol))
			}
		}
	}

	return errors.Join(errs...)
}

// Environments returns the neighbourhood of every atom of s within cutoff.
// Coincident atoms are skipped as neighbours.
func (s Structure) Environments(cutoff float64) []*mgp.Environment {
	species := make([]int, len(s.Atoms))
	for i, a := range s.Atoms {
		species[i], _ = mgp.AtomicNumber(a.Symbol)
	}

	envs := make([]*mgp.Environment, len(s.Atoms))

	for i, a := range s.Atoms {
		env := &mgp.Environment{Species: species[i], Cutoff: cutoff}

		for j, b := range s.Atoms {
			if i == j {
				continue
			}

			var d [3]float64
			for k := range d {
				d[k] = b.Position[k] - a.Position[k]
			}

			r := math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
			if r == 0 || r > cutoff {
				continue
			}

			env.Bonds = append(env.Bonds, mgp.Bond{
				Species:  species[j],
				Distance: r,
				Unit:     [3]float64{d[0] / r, d[1] / r, d[2] / r},
			})
		}

		envs[i] = env
	}

	return envs
}

// Labels counts the force and energy labels of the dataset.
func (d *Dataset) Labels() (forces, energies int) {
	for _, s := range d.Structures {
		if s.Energy != nil {
			energies++
		}

		for _, a := range s.Atoms {
			if a.Force != nil {
				forces++
			}
		}
	}

	return forces, energies
}

// Feed adds every label of the dataset to model, building environments with
// the model's cutoff.
func (d *Dataset) Feed(model *gp.GaussianProcess) {
	cutoff := model.Kernel().Cutoff

	for _, s := range d.Structures {
		envs := s.Environments(cutoff)

		for i, a := range s.Atoms {
			if a.Force != nil {
				model.AddForceEnvironment(envs[i], *a.Force)
			}
		}

		if s.Energy != nil {
			model.AddEnergyStructure(gp.Structure(envs), *s.Energy)
		}
	}
}
