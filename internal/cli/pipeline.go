package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/thalesfsp/mgp"
	"github.com/thalesfsp/mgp/gp"
	"github.com/thalesfsp/mgp/internal/config"
	"github.com/thalesfsp/mgp/internal/dataset"
	"github.com/thalesfsp/mgp/internal/metrics"
)

// progressBuffer is the capacity of the build progress channel.
const progressBuffer = 256

// session is one trained and mapped model.
type session struct {
	model     *gp.GaussianProcess
	surrogate *mgp.MappedSurrogate
	metrics   *metrics.Metrics
}

// train fits the reference model on the configured training set and maps it.
func train(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	if cfg.Data.Training == "" {
		return nil, errors.New("data.training: a training dataset is required")
	}

	ds, err := dataset.Load(cfg.Data.Training)
	if err != nil {
		return nil, err
	}

	model, err := gp.New(
		gp.TwoBodyKernel{Sigma: cfg.Model.Sigma, Length: cfg.Model.Length, Cutoff: cfg.Model.Cutoff},
		gp.Noise{Force: cfg.Model.ForceNoise, Energy: cfg.Model.EnergyNoise},
		logger,
	)
	if err != nil {
		return nil, err
	}

	ds.Feed(model)

	if err := model.Train(); err != nil {
		return nil, err
	}

	mc, err := cfg.MGPConfig()
	if err != nil {
		return nil, err
	}

	order, err := cfg.BodyOrder()
	if err != nil {
		return nil, err
	}

	species, err := cfg.AtomicNumbers()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	progress := make(chan mgp.BuildProgress, progressBuffer)
	drained := m.Consume(progress)

	mc.Logger = logger
	mc.ProgressChan = progress

	if cfg.Output.GridsDir != "" {
		mc.Sink = mgp.NpySink{Dir: cfg.Output.GridsDir}
	}

	surrogate, err := mgp.NewMappedSurrogate(order, species, mc)
	if err != nil {
		close(progress)

		return nil, err
	}

	start := time.Now()
	err = surrogate.Build(ctx, model)

	close(progress)
	<-drained

	if err != nil {
		return nil, err
	}

	m.ObserveBuild(time.Since(start), len(surrogate.Keys()), model.ForceCount(), model.EnergyCount())

	logger.Info("surrogate built",
		zap.Int("interactions", len(surrogate.Keys())),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &session{model: model, surrogate: surrogate, metrics: m}, nil
}

// writeArtifacts writes the coefficient file and, when configured, the
// metrics textfile.
func (s *session) writeArtifacts(cfg *config.Config) error {
	f, err := os.Create(cfg.Output.Coefficients)
	if err != nil {
		return fmt.Errorf("coefficients: %w", err)
	}

	if err := s.surrogate.WriteCoefficients(f); err != nil {
		_ = f.Close()

		return fmt.Errorf("coefficients: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("coefficients: %w", err)
	}

	if cfg.Output.MetricsFile != "" {
		return s.metrics.WriteTextfile(cfg.Output.MetricsFile)
	}

	return nil
}
