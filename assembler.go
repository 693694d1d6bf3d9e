package mgp

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// mappedComponent is the force component a force-mapped surrogate learns.
// The probe's first bond lies along +x, so it is the x component.
const mappedComponent = 0

// AssembleKernelVectors evaluates the kernel between a probe placed at every
// grid node and one batch of training entries.
//
// Parameters:
// - ctx: checked between nodes; cancellation aborts the batch
// - kernels: the training set's unit kernels
// - key: the interaction the probe represents
// - cutoff: neighbour-list radius stamped on the probe
// - nodes: grid node coordinates, row-major
// - subset: which training entries batch indexes
// - mapForce: map force component x instead of the local energy
// - batch: the training entries to cover
//
// Returns:
// - *mat.Dense: one row per node; three columns per force environment or one
// per energy structure
// - error: the first kernel failure, or ctx.Err()
//
// Nodes whose geometry is physically impossible (triplets violating the
// triangle inequality) yield zero rows.
func AssembleKernelVectors(
	ctx context.Context,
	kernels UnitKernels,
	key InteractionKey,
	cutoff float64,
	nodes [][]float64,
	subset Subset,
	mapForce bool,
	batch Batch,
) (*mat.Dense, error) {
	width := batch.Len()
	if subset == ForceSubset {
		width *= 3
	}

	if len(nodes) == 0 || width == 0 {
		return nil, nil
	}

	out := mat.NewDense(len(nodes), width, nil)
	probe := newProbe(key, cutoff)

	for i, x := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !setProbeGeometry(probe, key, x) {
			continue
		}

		row, err := unitKernelRow(kernels, probe, subset, mapForce, batch)
		if err != nil {
			return nil, fmt.Errorf("mgp: %s kernel at node %v: %w", subset, x, err)
		}

		if len(row) != width {
			return nil, fmt.Errorf("mgp: %s kernel at node %v returned %d values, expected %d", subset, x, len(row), width)
		}

		out.SetRow(i, row)
	}

	return out, nil
}

func unitKernelRow(kernels UnitKernels, probe *Environment, subset Subset, mapForce bool, batch Batch) ([]float64, error) {
	switch {
	case subset == ForceSubset && mapForce:
		return kernels.ForceForce(probe, mappedComponent, batch.Start, batch.End)
	case subset == ForceSubset:
		return kernels.EnergyForce(probe, batch.Start, batch.End)
	case mapForce:
		return kernels.ForceEnergy(probe, mappedComponent, batch.Start, batch.End)
	default:
		return kernels.EnergyEnergy(probe, batch.Start, batch.End)
	}
}
