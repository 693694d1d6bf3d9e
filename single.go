package mgp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/thalesfsp/mgp/spline"
)

//////
// Const, vars, types.
//////

// MapState is the lifecycle stage of a SingleInteractionMap.
type MapState int

const (
	// Declared holds only the grid and the interaction key.
	Declared MapState = iota

	// ContainerBuilt additionally owns unfit spline containers.
	ContainerBuilt

	// Fit has fitted coefficients. Only Build reaches it.
	Fit
)

// String implements fmt.Stringer.
func (s MapState) String() string {
	switch s {
	case Declared:
		return "declared"
	case ContainerBuilt:
		return "container-built"
	case Fit:
		return "fit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Evaluation is the spline lookup of one interaction instance.
type Evaluation struct {
	// Mean is the mapped quantity: a force magnitude when force-mapped, an
	// energy otherwise.
	Mean float64

	// Gradient is the derivative of Mean per grid dimension.
	Gradient []float64

	// Variance is the reduced projected kernel vector, one value per
	// retained basis component used. Nil when mean-only.
	Variance []float64
}

// SingleInteractionMap maps one interaction onto a frozen grid.
//
// Fields:
// - mu: RWMutex for thread-safe access to all fields
// - grid: frozen at construction; a new grid needs a new map
// - state, fitted: lifecycle stage and the training state of the last fit
// - mean, variance: the spline containers queried by Evaluate
// - means, variances: the raw grid arrays the containers were fit on
//
// Thread safety:
// - Build takes the write lock
// - Evaluate and the accessors take the read lock and are safe to call
// concurrently once the map is fit.
type SingleInteractionMap struct {
	mu sync.RWMutex

	key     InteractionKey
	variant bodyVariant
	grid    GridSpec
	config  Config
	logger  *zap.Logger

	state  MapState
	fitted trainingState

	mean     *spline.Cubic
	variance *spline.PCA

	means     []float64
	variances *mat.Dense
}

//////
// Methods.
//////

// Key returns the interaction the map covers.
func (m *SingleInteractionMap) Key() InteractionKey { return m.key }

// Grid returns a copy of the map's grid.
func (m *SingleInteractionMap) Grid() GridSpec { return m.grid.clone() }

// State returns the current lifecycle stage.
func (m *SingleInteractionMap) State() MapState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

// Means returns a copy of the grid mean values of the last Build, in grid
// node order. Nil before Build.
func (m *SingleInteractionMap) Means() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]float64(nil), m.means...)
}

// Variances returns a copy of the projected kernel vectors of the last
// Build, one row per grid node. Nil before Build, when mean-only, or when
// the training set is empty.
func (m *SingleInteractionMap) Variances() *mat.Dense {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.variances == nil {
		return nil
	}

	return mat.DenseCopyOf(m.variances)
}

// Rank returns the number of retained variance components, 0 when there is
// no variance surrogate.
func (m *SingleInteractionMap) Rank() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rankLocked()
}

// BuildContainer allocates the unfit spline containers. Calling it on a map
// that already has containers discards any fit.
//
// Returns:
// - error: a spline construction failure for the map's grid
//
// Important notes:
// - The map drops back to ContainerBuilt, so Evaluate fails with NotFitError
// until the next Build.
func (m *SingleInteractionMap) BuildContainer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.buildContainer()
}

func (m *SingleInteractionMap) buildContainer() error {
	mean, variance, err := m.newContainers()
	if err != nil {
		return err
	}

	m.mean = mean
	m.variance = variance
	m.means = nil
	m.variances = nil
	m.fitted = trainingState{}
	m.state = ContainerBuilt

	return nil
}

// newContainers allocates unfit splines on the map's grid. The variance
// container is nil when mean-only.
func (m *SingleInteractionMap) newContainers() (*spline.Cubic, *spline.PCA, error) {
	mean, err := spline.NewCubic(m.grid.Lower, m.grid.Upper, m.grid.Resolution)
	if err != nil {
		return nil, nil, fmt.Errorf("mgp: %s mean container: %w", m.key, err)
	}

	if m.config.MeanOnly {
		return mean, nil, nil
	}

	variance, err := spline.NewPCA(m.grid.Lower, m.grid.Upper, m.grid.Resolution, m.config.SVDRank)
	if err != nil {
		return nil, nil, fmt.Errorf("mgp: %s variance container: %w", m.key, err)
	}

	return mean, variance, nil
}

// Build assembles the kernel-vector matrix against the training set, fits
// the mean spline and, unless mean-only, the variance spline.
//
// Parameters:
// - ctx: cancellation aborts every outstanding batch
// - ts: trained training set providing alpha and the Cholesky factor
// - kernels: the training set's unit kernels for this body order
//
// Returns:
// - error: the first batch, projection or fit failure. The map keeps its
// previous state on error.
//
// Each training subset is partitioned into batches that run on a pool of
// config.Workers goroutines. Batch outputs are concatenated in partition
// order, force columns first, so that column j of the matrix is training
// DOF j.
func (m *SingleInteractionMap) Build(ctx context.Context, ts TrainingSet, kernels UnitKernels) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Declared {
		if err := m.buildContainer(); err != nil {
			return err
		}
	}

	state, err := currentState(ts)
	if err != nil {
		return err
	}

	expected := 3*state.forces + state.energies
	if expected != state.dof {
		return &ConfigurationError{
			Kernel: m.variant.order.KernelName(),
			Key:    m.key.String(),
			Reason: fmt.Sprintf("alpha has %d entries for %d force environments and %d energy structures", state.dof, state.forces, state.energies),
		}
	}

	start := time.Now()
	nodes := m.grid.Nodes()

	forces, err := m.assemble(ctx, kernels, nodes, ForceSubset, state.forces)
	if err != nil {
		return err
	}

	energies, err := m.assemble(ctx, kernels, nodes, EnergySubset, state.energies)
	if err != nil {
		return err
	}

	kv := stack(forces, energies)

	means := make([]float64, len(nodes))
	if kv != nil {
		mv := mat.NewVecDense(len(means), means)
		mv.MulVec(kv, mat.NewVecDense(state.dof, ts.Alpha()))
	}

	mean, variance, err := m.newContainers()
	if err != nil {
		return err
	}

	if err := mean.Fit(means); err != nil {
		return fmt.Errorf("mgp: %s mean fit: %w", m.key, err)
	}

	var variances *mat.Dense
	if variance != nil && kv != nil {
		variances, err = project(ts.LowerFactor(), kv)
		if err != nil {
			return fmt.Errorf("mgp: %s: %w", m.key, err)
		}

		if err := variance.Fit(variances); err != nil {
			return fmt.Errorf("mgp: %s variance fit: %w", m.key, err)
		}
	}

	m.mean = mean
	m.variance = variance
	m.means = means
	m.variances = variances
	m.fitted = state
	m.state = Fit

	m.logger.Debug("interaction map fit",
		zap.String("key", m.key.String()),
		zap.Int("nodes", len(nodes)),
		zap.Int("dof", state.dof),
		zap.Int("rank", m.rankLocked()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return m.save()
}

// Evaluate looks up the map at grid coordinate x.
//
// Parameters:
// - x: one coordinate per grid dimension
// - rank: number of variance components to use; <= 0 or above the retained
// rank uses all of them
// - meanOnly: skip the variance lookup
//
// Returns:
// - Evaluation: mean, gradient and, unless mean-only, reduced variance
// - error: NotFitError before Build
func (m *SingleInteractionMap) Evaluate(x []float64, rank int, meanOnly bool) (Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != Fit {
		return Evaluation{}, &NotFitError{Key: m.key}
	}

	mean, grad, err := m.mean.EvaluateWithGradient(x)
	if err != nil {
		return Evaluation{}, fmt.Errorf("mgp: %s: %w", m.key, err)
	}

	eval := Evaluation{Mean: mean, Gradient: grad}

	if meanOnly || m.variance == nil || !m.variance.Fitted() {
		return eval, nil
	}

	eval.Variance, err = m.variance.Evaluate(x, rank)
	if err != nil {
		return Evaluation{}, fmt.Errorf("mgp: %s: %w", m.key, err)
	}

	return eval, nil
}

// basis returns the first rank retained basis columns, training DOF x rank.
// Nil when there is no variance surrogate.
func (m *SingleInteractionMap) basis(rank int) mat.Matrix {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.variance == nil || !m.variance.Fitted() {
		return nil
	}

	b := m.variance.Basis()
	rows, cols := b.Dims()

	if rank <= 0 || rank > cols {
		rank = cols
	}

	return b.Slice(0, rows, 0, rank)
}

// stale reports whether the map must be rebuilt for state.
func (m *SingleInteractionMap) stale(state trainingState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state != Fit || m.fitted != state
}

func (m *SingleInteractionMap) rankLocked() int {
	if m.variance == nil || !m.variance.Fitted() {
		return 0
	}

	return m.variance.Rank()
}

// assemble builds the kernel-vector matrix of one training subset on a
// bounded worker pool. It returns nil for an empty subset.
func (m *SingleInteractionMap) assemble(
	ctx context.Context,
	kernels UnitKernels,
	nodes [][]float64,
	subset Subset,
	total int,
) (*mat.Dense, error) {
	batches := Partition(total, m.config.SampleHint, m.config.Workers)
	if len(batches) == 0 {
		return nil, nil
	}

	m.logger.Debug("assembling kernel vectors",
		zap.String("key", m.key.String()),
		zap.Stringer("subset", subset),
		zap.Int("entries", total),
		zap.Int("batches", len(batches)),
	)

	results := make([]*mat.Dense, len(batches))
	cutoff := m.grid.Upper[0]

	var (
		progressMu sync.Mutex
		completed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.config.Workers, 1))

	for i, batch := range batches {
		g.Go(func() error {
			start := time.Now()

			out, err := AssembleKernelVectors(gctx, kernels, m.key, cutoff, nodes, subset, m.config.MapForce, batch)
			if err != nil {
				return fmt.Errorf("mgp: %s batch [%d, %d): %w", m.key, batch.Start, batch.End, err)
			}

			results[i] = out

			progressMu.Lock()
			completed++
			done := completed
			progressMu.Unlock()

			m.report(BuildProgress{
				Key:       m.key,
				Subset:    subset,
				Completed: done,
				Batches:   len(batches),
				Nodes:     len(nodes),
				Elapsed:   time.Since(start),
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return stack(results...), nil
}

// report sends a progress update without blocking.
func (m *SingleInteractionMap) report(update BuildProgress) {
	if m.config.ProgressChan == nil {
		return
	}

	select {
	case m.config.ProgressChan <- update:
	default:
	}
}

// save hands the grid arrays to the diagnostic sink.
func (m *SingleInteractionMap) save() error {
	if m.config.Sink == nil {
		return nil
	}

	name := m.key.String()

	if err := m.config.Sink.Save(m.variant.gridTag+"_mean_"+name, m.grid.Resolution, m.means); err != nil {
		return fmt.Errorf("mgp: save %s mean: %w", m.key, err)
	}

	if m.variances == nil {
		return nil
	}

	_, dof := m.variances.Dims()
	shape := append(append([]int(nil), m.grid.Resolution...), dof)

	if err := m.config.Sink.Save(m.variant.gridTag+"_var_"+name, shape, m.variances.RawMatrix().Data); err != nil {
		return fmt.Errorf("mgp: save %s variance: %w", m.key, err)
	}

	return nil
}

//////
// Helpers.
//////

// stack concatenates matrices with equal row counts column-wise, skipping
// nil entries. It returns nil when every entry is nil.
func stack(parts ...*mat.Dense) *mat.Dense {
	var out *mat.Dense

	for _, p := range parts {
		if p == nil {
			continue
		}

		if out == nil {
			out = p
			continue
		}

		var next mat.Dense
		next.Augment(out, p)
		out = &next
	}

	return out
}

// project solves L X = K^T and returns X^T, one projected kernel vector per
// grid node.
func project(lower mat.Triangular, kv *mat.Dense) (*mat.Dense, error) {
	if lower == nil {
		return nil, fmt.Errorf("variance projection: training set has no Cholesky factor")
	}

	n, _ := lower.Triangle()
	_, dof := kv.Dims()

	if n != dof {
		return nil, fmt.Errorf("variance projection: factor is %dx%d for %d training DOF", n, n, dof)
	}

	// An ill-conditioned factor still yields a usable projection; only a
	// singular one is fatal.
	var x mat.Dense
	if err := x.Solve(lower, kv.T()); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("variance projection: %w", err)
		}
	}

	return mat.DenseCopyOf(x.T()), nil
}

//////
// Factory.
//////

// NewSingleInteractionMap declares a map for key on grid.
//
// Parameters:
// - key: interaction to map; its order selects the body-order variant
// - grid: frozen grid, validated here
// - config: build parameters; Logger, ProgressChan and Sink are optional
//
// Returns:
// - *SingleInteractionMap: in the Declared state
// - error: ConfigurationError for an unsupported order, ErrInvalidGrid for a
// bad grid
func NewSingleInteractionMap(key InteractionKey, grid GridSpec, config Config) (*SingleInteractionMap, error) {
	variant, err := key.Order.variant()
	if err != nil {
		return nil, err
	}

	if err := grid.Validate(); err != nil {
		return nil, err
	}

	if grid.Dims() != variant.dims {
		return nil, fmt.Errorf("%w: %s needs %d dimensions, got %d", ErrInvalidGrid, key.Order, variant.dims, grid.Dims())
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SingleInteractionMap{
		key:     key,
		variant: variant,
		grid:    grid.clone(),
		config:  config,
		logger:  logger.Named("map"),
		state:   Declared,
	}, nil
}
