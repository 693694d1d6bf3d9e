package mgp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

//////
// Const, vars, types.
//////

// MappedSurrogate owns one SingleInteractionMap per interaction of its body
// order and sums their contributions over an atomic neighbourhood.
//
// Fields:
// - mu: RWMutex guarding the map set and the fitted training state
// - keys: every interaction of the order over the species, in build order
// - maps: the map set currently serving predictions
// - snapshot: the hyperparameter mask the containers were derived from
// - kernels, dof: unit kernels and training DOF of the last successful Build
//
// Thread safety:
// - Build takes the write lock and must not race with itself
// - Predict, Keys and Map take the read lock; predictions may run from many
// goroutines once built.
//
// Memory usage:
// - One mean grid per interaction, plus a grid x training DOF variance
// matrix unless mean-only. A Build that refits keeps both map sets alive
// until it swaps them.
type MappedSurrogate struct {
	mu sync.RWMutex

	order   BodyOrder
	variant bodyVariant
	species []int
	config  Config
	logger  *zap.Logger

	keys []InteractionKey
	maps map[InteractionKey]*SingleInteractionMap

	// snapshot is the mask the containers were derived from. Empty until
	// the first Build.
	snapshot Snapshot

	kernels UnitKernels
	dof     int
}

//////
// Methods.
//////

// Order returns the surrogate's body order.
func (s *MappedSurrogate) Order() BodyOrder { return s.order }

// Keys returns the interaction keys in build order.
func (s *MappedSurrogate) Keys() []InteractionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]InteractionKey(nil), s.keys...)
}

// Map returns the map for key, or false when the surrogate has none.
//
// The returned map is the one serving predictions at call time. A later
// Build may replace it with a refit copy, so callers must not hold on to it
// across builds.
func (s *MappedSurrogate) Map(key InteractionKey) (*SingleInteractionMap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.maps[key]

	return m, ok
}

// Build fits every map against the training set.
//
// Parameters:
// - ctx: cancellation aborts the build
// - ts: the trained training set
//
// Returns:
// - error: ConfigurationError when the body order's kernel or an
// interaction's cutoff is missing from the mask, otherwise the first map
// build failure
//
// When the training set's hyperparameter mask differs from the one the
// containers were derived from, every container is rebuilt with grid upper
// bounds taken from the mask's cutoffs. Then every map that is not fit
// against the current training state is built; fresh maps are reused as is.
//
// Important notes:
// - Stale maps are refit on copies and all of them are swapped in together.
// A failed Build leaves the surrogate serving its previous fit.
// - Build holds the write lock for its whole duration.
//
// Usage example:
//
//	surrogate, err := NewMappedSurrogate(TwoBody, []int{1, 8}, DefaultConfig(TwoBody))
//	if err != nil {
//	    return err
//	}
//
//	if err := surrogate.Build(ctx, trainingSet); err != nil {
//	    return err
//	}
func (s *MappedSurrogate) Build(ctx context.Context, ts TrainingSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kernel := s.order.KernelName()
	mask := ts.Mask()

	if !mask.HasKernel(kernel) {
		return &ConfigurationError{Kernel: kernel, Reason: "kernel not active in training set"}
	}

	kernels, err := ts.Kernels(kernel)
	if err != nil {
		return fmt.Errorf("mgp: %s kernels: %w", kernel, err)
	}

	state, err := currentState(ts)
	if err != nil {
		return err
	}

	start := time.Now()

	// Stale maps are refit on a staging set that replaces s.maps only once
	// every map is fit.
	staged := make(map[InteractionKey]*SingleInteractionMap, len(s.keys))

	if state.snapshot != s.snapshot {
		s.logger.Info("hyperparameter mask changed, rebuilding containers",
			zap.Stringer("order", s.order),
			zap.Int("interactions", len(s.keys)),
		)

		maps, err := s.containers(mask)
		if err != nil {
			return err
		}

		staged = maps
	} else {
		for key, m := range s.maps {
			staged[key] = m
		}
	}

	var built int

	for _, key := range s.keys {
		m := staged[key]
		if !m.stale(state) {
			continue
		}

		// A fit map is still serving predictions; refit a copy of its grid.
		if m.State() == Fit {
			fresh, err := NewSingleInteractionMap(key, m.Grid(), s.config)
			if err != nil {
				return err
			}

			m = fresh
			staged[key] = m
		}

		if err := m.Build(ctx, ts, kernels); err != nil {
			return err
		}

		built++
	}

	s.maps = staged
	s.snapshot = state.snapshot
	s.kernels = kernels
	s.dof = state.dof

	s.logger.Info("surrogate built",
		zap.Stringer("order", s.order),
		zap.Int("built", built),
		zap.Int("reused", len(s.keys)-built),
		zap.Int("dof", state.dof),
		zap.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// containers derives a fresh container-built map per key from mask.
func (s *MappedSurrogate) containers(mask HyperMask) (map[InteractionKey]*SingleInteractionMap, error) {
	kernel := s.order.KernelName()
	maps := make(map[InteractionKey]*SingleInteractionMap, len(s.keys))

	for _, key := range s.keys {
		cutoff, err := mask.Cutoff(kernel, key)
		if err != nil {
			return nil, err
		}

		m, err := s.declare(key, cutoff)
		if err != nil {
			return nil, err
		}

		if err := m.BuildContainer(); err != nil {
			return nil, err
		}

		maps[key] = m
	}

	return maps, nil
}

func (s *MappedSurrogate) declare(key InteractionKey, cutoff float64) (*SingleInteractionMap, error) {
	grid, err := s.config.grid(s.variant, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mgp: %s grid: %w", key, err)
	}

	return NewSingleInteractionMap(key, grid, s.config)
}

// upper returns the grid upper bounds of key.
func (s *MappedSurrogate) upper(key InteractionKey) ([]float64, bool) {
	m, ok := s.maps[key]
	if !ok {
		return nil, false
	}

	return m.grid.Upper, true
}

//////
// Factory.
//////

// NewMappedSurrogate declares one map per interaction of order over species.
//
// Parameters:
// - order: TwoBody or ThreeBody
// - species: atomic numbers present in the system; duplicates are ignored
// - config: grid and build parameters, see DefaultConfig
//
// Returns:
// - *MappedSurrogate: maps are container-built on a grid bounded by
// config.Cutoff until the first Build
// - error: ConfigurationError for an unsupported order or no species,
// ErrInvalidGrid for a bad grid configuration
func NewMappedSurrogate(order BodyOrder, species []int, config Config) (*MappedSurrogate, error) {
	variant, err := order.variant()
	if err != nil {
		return nil, err
	}

	uniq := make([]int, 0, len(species))
	seen := make(map[int]struct{}, len(species))

	for _, z := range species {
		if _, ok := seen[z]; ok {
			continue
		}

		seen[z] = struct{}{}
		uniq = append(uniq, z)
	}

	if len(uniq) == 0 {
		return nil, &ConfigurationError{Kernel: order.KernelName(), Reason: "no species"}
	}

	sort.Ints(uniq)

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("mgp")
	config.Logger = logger

	s := &MappedSurrogate{
		order:   order,
		variant: variant,
		species: uniq,
		config:  config,
		logger:  logger,
		keys:    interactionKeys(order, uniq),
	}

	s.maps = make(map[InteractionKey]*SingleInteractionMap, len(s.keys))

	for _, key := range s.keys {
		m, err := s.declare(key, config.Cutoff)
		if err != nil {
			return nil, err
		}

		if err := m.BuildContainer(); err != nil {
			return nil, err
		}

		s.maps[key] = m
	}

	logger.Debug("surrogate declared",
		zap.Stringer("order", order),
		zap.Ints("species", uniq),
		zap.Int("interactions", len(s.keys)),
	)

	return s, nil
}
