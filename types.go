package mgp

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

//////
// Body order.
//////

// BodyOrder selects the interaction family a surrogate maps.
type BodyOrder int

const (
	// TwoBody maps pair interactions on a one-dimensional bond-length grid.
	TwoBody BodyOrder = 2

	// ThreeBody maps triplet interactions on a (r1, r2, r12) grid, where r12
	// is the distance between the two neighbours.
	ThreeBody BodyOrder = 3
)

// String implements fmt.Stringer.
func (o BodyOrder) String() string {
	switch o {
	case TwoBody:
		return "twobody"
	case ThreeBody:
		return "threebody"
	default:
		return fmt.Sprintf("body(%d)", int(o))
	}
}

// KernelName returns the name under which the training set's hyperparameter
// mask lists the kernel for this body order.
func (o BodyOrder) KernelName() string { return o.String() }

// Virial component orders, as (row, column) pairs into the 3x3 tensor.
var (
	// forceVirialOrder is (xx, yy, zz, xy, xz, yz).
	forceVirialOrder = [6][2]int{{0, 0}, {1, 1}, {2, 2}, {0, 1}, {0, 2}, {1, 2}}

	// energyVirialOrder is (xx, yy, zz, yz, xz, xy), matching ASE's stress layout.
	energyVirialOrder = [6][2]int{{0, 0}, {1, 1}, {2, 2}, {1, 2}, {0, 2}, {0, 1}}
)

// bodyVariant carries everything that differs between body orders.
type bodyVariant struct {
	order BodyOrder

	// dims is the grid dimensionality.
	dims int

	// multiplicity scales energy-mapped force, virial and energy.
	multiplicity float64

	// orderings is how many times one physical instance appears in a
	// neighbourhood decomposition.
	orderings float64

	forceVirial  [6][2]int
	energyVirial [6][2]int

	// gridTag prefixes diagnostic array names.
	gridTag string
}

func (o BodyOrder) variant() (bodyVariant, error) {
	switch o {
	case TwoBody:
		return bodyVariant{
			order:        o,
			dims:         1,
			multiplicity: 2,
			orderings:    1,
			forceVirial:  forceVirialOrder,
			energyVirial: energyVirialOrder,
			gridTag:      "grid2",
		}, nil
	case ThreeBody:
		return bodyVariant{
			order:        o,
			dims:         3,
			multiplicity: 3,
			orderings:    2,
			forceVirial:  forceVirialOrder,
			energyVirial: energyVirialOrder,
			gridTag:      "grid3",
		}, nil
	default:
		return bodyVariant{}, &ConfigurationError{
			Kernel: o.String(),
			Reason: "unsupported body order",
		}
	}
}

//////
// Interaction keys.
//////

// InteractionKey identifies one body-order term by the atomic numbers of the
// species involved. Keys are comparable and used as map keys.
//
// Pair keys are canonical (smaller atomic number first). Triplet keys are
// ordered: the central species followed by the species of the first and the
// second bond.
type InteractionKey struct {
	Order   BodyOrder
	Species [3]int
}

// PairKey returns the canonical key for a pair of species.
func PairKey(a, b int) InteractionKey {
	if b < a {
		a, b = b, a
	}

	return InteractionKey{Order: TwoBody, Species: [3]int{a, b}}
}

// TripletKey returns the key of a triplet centred on center with first and
// second neighbours of species a and b.
func TripletKey(center, a, b int) InteractionKey {
	return InteractionKey{Order: ThreeBody, Species: [3]int{center, a, b}}
}

// Elements returns the atomic numbers making up the key.
func (k InteractionKey) Elements() []int {
	n := int(k.Order)
	if n > len(k.Species) || n < 0 {
		n = len(k.Species)
	}

	return append([]int(nil), k.Species[:n]...)
}

// String joins the element symbols with underscores, e.g. "H_O".
func (k InteractionKey) String() string {
	elems := k.Elements()

	names := make([]string, len(elems))
	for i, z := range elems {
		names[i] = ElementSymbol(z)
	}

	return strings.Join(names, "_")
}

// interactionKeys enumerates every key of the given order over species.
func interactionKeys(order BodyOrder, species []int) []InteractionKey {
	var keys []InteractionKey

	switch order {
	case TwoBody:
		for i, a := range species {
			for _, b := range species[i:] {
				keys = append(keys, PairKey(a, b))
			}
		}
	case ThreeBody:
		for _, c := range species {
			for _, a := range species {
				for _, b := range species {
					keys = append(keys, TripletKey(c, a, b))
				}
			}
		}
	}

	return keys
}

//////
// Grid.
//////

// GridSpec is a frozen regular grid: bounds and node count per dimension.
type GridSpec struct {
	Lower      []float64
	Upper      []float64
	Resolution []int
}

// Dims returns the grid dimensionality.
func (g GridSpec) Dims() int { return len(g.Resolution) }

// Size returns the number of grid nodes.
func (g GridSpec) Size() int {
	n := 1
	for _, r := range g.Resolution {
		n *= r
	}

	return n
}

// Validate checks lower < upper and resolution >= 2 in every dimension.
func (g GridSpec) Validate() error {
	if len(g.Resolution) == 0 || len(g.Lower) != len(g.Resolution) || len(g.Upper) != len(g.Resolution) {
		return fmt.Errorf("%w: dimension mismatch (lower=%d, upper=%d, resolution=%d)",
			ErrInvalidGrid, len(g.Lower), len(g.Upper), len(g.Resolution))
	}

	for d := range g.Resolution {
		if !(g.Lower[d] < g.Upper[d]) {
			return fmt.Errorf("%w: dimension %d: lower %v not below upper %v", ErrInvalidGrid, d, g.Lower[d], g.Upper[d])
		}

		if g.Resolution[d] < 2 {
			return fmt.Errorf("%w: dimension %d: resolution %d below 2", ErrInvalidGrid, d, g.Resolution[d])
		}
	}

	return nil
}

// Nodes returns the coordinates of every grid node in row-major order, last
// dimension fastest. This is the order the splines expect their values in.
func (g GridSpec) Nodes() [][]float64 {
	axes := make([][]float64, g.Dims())
	for d := range axes {
		axes[d] = linspace(g.Lower[d], g.Upper[d], g.Resolution[d])
	}

	nodes := make([][]float64, 0, g.Size())
	idx := make([]int, g.Dims())

	for {
		x := make([]float64, g.Dims())
		for d := range x {
			x[d] = axes[d][idx[d]]
		}

		nodes = append(nodes, x)

		d := g.Dims() - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < g.Resolution[d] {
				break
			}

			idx[d] = 0
		}

		if d < 0 {
			return nodes
		}
	}
}

func (g GridSpec) clone() GridSpec {
	return GridSpec{
		Lower:      append([]float64(nil), g.Lower...),
		Upper:      append([]float64(nil), g.Upper...),
		Resolution: append([]int(nil), g.Resolution...),
	}
}

//////
// Atomic environments.
//////

// Bond is one neighbour seen from a central atom.
type Bond struct {
	// Species is the neighbour's atomic number.
	Species int

	// Distance is the bond length.
	Distance float64

	// Unit is the unit displacement vector from the central atom to the
	// neighbour.
	Unit [3]float64
}

// Environment is the neighbourhood of one central atom.
type Environment struct {
	// Species is the central atom's atomic number.
	Species int

	// Bonds lists every neighbour within Cutoff.
	Bonds []Bond

	// Cutoff is the neighbour-list radius the bonds were collected with.
	Cutoff float64
}

// Clone returns a deep copy of the environment.
func (e *Environment) Clone() *Environment {
	c := *e
	c.Bonds = append([]Bond(nil), e.Bonds...)

	return &c
}

//////
// Configuration and progress.
//////

// Config holds all parameters of a mapped surrogate.
//
// Usage example:
//
//	config := DefaultConfig(TwoBody)
//	config.GridNum = []int{128}
//	config.SVDRank = 20
//	config.Workers = 4
type Config struct {
	// GridNum is the number of nodes per grid dimension (>= 2 each).
	GridNum []int

	// LowerBound is the lower grid bound per dimension. A single value is
	// broadcast to every dimension.
	LowerBound []float64

	// Cutoff is the upper grid bound used while no training set has been
	// seen. Build replaces it with the training set's per-species cutoff.
	Cutoff float64

	// SVDRank truncates the variance basis; 0 keeps every component.
	SVDRank int

	// MapForce maps one force component instead of the local energy.
	MapForce bool

	// MeanOnly suppresses the variance surrogate.
	MeanOnly bool

	// Workers bounds the worker pool used during Build.
	// Defaults to runtime.NumCPU().
	Workers int

	// SampleHint caps the number of training entries per batch, bounding
	// per-worker memory.
	SampleHint int

	// Logger receives structured build logs. Nil disables logging.
	Logger *zap.Logger

	// ProgressChan receives one update per completed batch. Updates are
	// dropped when the channel is full. If nil, no updates are sent.
	ProgressChan chan<- BuildProgress

	// Sink receives the raw grid arrays after every fit. Nil disables it.
	Sink DiagnosticSink
}

// DefaultConfig returns a default configuration for the given body order.
func DefaultConfig(order BodyOrder) Config {
	config := Config{
		GridNum:    []int{64},
		LowerBound: []float64{0.5},
		Cutoff:     5.0,
		Workers:    runtime.NumCPU(),
		SampleHint: 100,
	}

	if order == ThreeBody {
		config.GridNum = []int{16, 16, 16}
	}

	return config
}

// grid derives the grid for one interaction from the config and its upper
// bound.
func (c Config) grid(v bodyVariant, upper float64) (GridSpec, error) {
	g := GridSpec{
		Lower:      make([]float64, v.dims),
		Upper:      make([]float64, v.dims),
		Resolution: make([]int, v.dims),
	}

	for d := 0; d < v.dims; d++ {
		switch len(c.LowerBound) {
		case 1:
			g.Lower[d] = c.LowerBound[0]
		case v.dims:
			g.Lower[d] = c.LowerBound[d]
		default:
			return GridSpec{}, fmt.Errorf("%w: %d lower bounds for %d dimensions", ErrInvalidGrid, len(c.LowerBound), v.dims)
		}

		switch len(c.GridNum) {
		case 1:
			g.Resolution[d] = c.GridNum[0]
		case v.dims:
			g.Resolution[d] = c.GridNum[d]
		default:
			return GridSpec{}, fmt.Errorf("%w: %d resolutions for %d dimensions", ErrInvalidGrid, len(c.GridNum), v.dims)
		}

		g.Upper[d] = upper
	}

	return g, g.Validate()
}

// Subset names one labelled half of the training data.
type Subset int

const (
	// ForceSubset is the force-labelled atomic environments (3 DOF each).
	ForceSubset Subset = iota

	// EnergySubset is the energy-labelled structures (1 DOF each).
	EnergySubset
)

// String implements fmt.Stringer.
func (s Subset) String() string {
	switch s {
	case ForceSubset:
		return "force"
	case EnergySubset:
		return "energy"
	default:
		return fmt.Sprintf("subset(%d)", int(s))
	}
}

// BuildProgress represents the state of a running Build.
type BuildProgress struct {
	// Key is the interaction being built.
	Key InteractionKey

	// Subset is the training subset being assembled.
	Subset Subset

	// Completed is the number of finished batches for this subset.
	Completed int

	// Batches is the total number of batches for this subset.
	Batches int

	// Nodes is the number of grid nodes per batch.
	Nodes int

	// Elapsed is how long the last batch took.
	Elapsed time.Duration
}

//////
// Predictions.
//////

// Prediction is the mapped contribution of every interaction in one atomic
// neighbourhood.
type Prediction struct {
	// Force on the central atom.
	Force [3]float64

	// Virial in the component order of the active mapping mode:
	// (xx, yy, zz, xy, xz, yz) when force-mapped,
	// (xx, yy, zz, yz, xz, xy) when energy-mapped.
	Virial [6]float64

	// KernelSelf is the exact kernel self-variance of the neighbourhood: three
	// force components when force-mapped, one energy value otherwise. Zero
	// when mean-only.
	KernelSelf []float64

	// Variance holds the projected kernel vector, training DOF x components.
	// All zeros when mean-only.
	Variance *mat.Dense

	// Energy is the mapped local energy. Always 0 when force-mapped.
	Energy float64
}
