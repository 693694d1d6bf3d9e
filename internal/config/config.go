// Package config defines the configuration of the mgp command-line tool. No
// I/O lives here, only data types, defaults and validation.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/thalesfsp/mgp"
)

// SurrogateConfig selects the body order, species and grid of the surrogate.
type SurrogateConfig struct {
	Order      string    `mapstructure:"order"` // "twobody" | "threebody"
	Species    []string  `mapstructure:"species"`
	GridNum    []int     `mapstructure:"grid_num"`
	LowerBound []float64 `mapstructure:"lower_bound"`
	Cutoff     float64   `mapstructure:"cutoff"`
	SVDRank    int       `mapstructure:"svd_rank"`
	MapForce   bool      `mapstructure:"map_force"`
	MeanOnly   bool      `mapstructure:"mean_only"`
	Workers    int       `mapstructure:"workers"`
	SampleHint int       `mapstructure:"sample_hint"`
}

// ModelConfig holds the hyperparameters of the reference Gaussian process.
type ModelConfig struct {
	Sigma       float64 `mapstructure:"sigma"`
	Length      float64 `mapstructure:"length"`
	Cutoff      float64 `mapstructure:"cutoff"`
	ForceNoise  float64 `mapstructure:"force_noise"`
	EnergyNoise float64 `mapstructure:"energy_noise"`
}

// DataConfig points at the YAML datasets.
type DataConfig struct {
	Training string `mapstructure:"training"`
	Queries  string `mapstructure:"queries"`
}

// OutputConfig names the artifacts a build writes.
type OutputConfig struct {
	Coefficients string `mapstructure:"coefficients"`
	GridsDir     string `mapstructure:"grids_dir"`
	MetricsFile  string `mapstructure:"metrics_file"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
}

// Config is the root configuration object.
type Config struct {
	Surrogate SurrogateConfig `mapstructure:"surrogate"`
	Model     ModelConfig     `mapstructure:"model"`
	Data      DataConfig      `mapstructure:"data"`
	Output    OutputConfig    `mapstructure:"output"`
	Log       LogConfig       `mapstructure:"log"`
}

// BodyOrder parses Surrogate.Order.
func (c *Config) BodyOrder() (mgp.BodyOrder, error) {
	switch strings.ToLower(c.Surrogate.Order) {
	case mgp.TwoBody.KernelName():
		return mgp.TwoBody, nil
	case mgp.ThreeBody.KernelName():
		return mgp.ThreeBody, nil
	default:
		return 0, fmt.Errorf("surrogate.order: unknown body order %q", c.Surrogate.Order)
	}
}

// AtomicNumbers resolves Surrogate.Species to atomic numbers.
func (c *Config) AtomicNumbers() ([]int, error) {
	out := make([]int, 0, len(c.Surrogate.Species))

	for _, s := range c.Surrogate.Species {
		z, ok := mgp.AtomicNumber(s)
		if !ok {
			return nil, fmt.Errorf("surrogate.species: unknown element %q", s)
		}

		out = append(out, z)
	}

	return out, nil
}

// MGPConfig converts the surrogate section into an mgp.Config. Logger,
// progress channel and sink are left for the caller.
func (c *Config) MGPConfig() (mgp.Config, error) {
	order, err := c.BodyOrder()
	if err != nil {
		return mgp.Config{}, err
	}

	out := mgp.DefaultConfig(order)
	s := c.Surrogate

	if len(s.GridNum) > 0 {
		out.GridNum = append([]int(nil), s.GridNum...)
	}

	if len(s.LowerBound) > 0 {
		out.LowerBound = append([]float64(nil), s.LowerBound...)
	}

	out.Cutoff = s.Cutoff
	out.SVDRank = s.SVDRank
	out.MapForce = s.MapForce
	out.MeanOnly = s.MeanOnly
	out.Workers = s.Workers
	out.SampleHint = s.SampleHint

	return out, nil
}

// Validate checks every section and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error

	order, err := c.BodyOrder()
	if err != nil {
		errs = append(errs, err)
	}

	if len(c.Surrogate.Species) == 0 {
		errs = append(errs, errors.New("surrogate.species: at least one element is required"))
	} else if _, err := c.AtomicNumbers(); err != nil {
		errs = append(errs, err)
	}

	if err == nil {
		dims := 1
		if order == mgp.ThreeBody {
			dims = 3
		}

		if n := len(c.Surrogate.GridNum); n != 1 && n != dims {
			errs = append(errs, fmt.Errorf("surrogate.grid_num: need 1 or %d values, got %d", dims, n))
		}

		if n := len(c.Surrogate.LowerBound); n != 1 && n != dims {
			errs = append(errs, fmt.Errorf("surrogate.lower_bound: need 1 or %d values, got %d", dims, n))
		}
	}

	for _, n := range c.Surrogate.GridNum {
		if n < 2 {
			errs = append(errs, fmt.Errorf("surrogate.grid_num: %d is below 2", n))
		}
	}

	for _, lb := range c.Surrogate.LowerBound {
		if lb >= c.Model.Cutoff {
			errs = append(errs, fmt.Errorf("surrogate.lower_bound: %v is not below model.cutoff %v", lb, c.Model.Cutoff))
		}
	}

	if c.Surrogate.SVDRank < 0 {
		errs = append(errs, errors.New("surrogate.svd_rank: must not be negative"))
	}

	if c.Surrogate.Workers < 1 {
		errs = append(errs, errors.New("surrogate.workers: must be positive"))
	}

	if c.Surrogate.SampleHint < 1 {
		errs = append(errs, errors.New("surrogate.sample_hint: must be positive"))
	}

	if c.Model.Sigma <= 0 || c.Model.Length <= 0 || c.Model.Cutoff <= 0 {
		errs = append(errs, errors.New("model: sigma, length and cutoff must be positive"))
	}

	if c.Model.ForceNoise < 0 || c.Model.EnergyNoise < 0 {
		errs = append(errs, errors.New("model: noise must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ApplyDefaults fills zero-value fields with defaults. It must run after
// unmarshalling and before Validate.
func ApplyDefaults(cfg *Config) {
	if cfg.Surrogate.Order == "" {
		cfg.Surrogate.Order = DefaultOrder
	}

	if len(cfg.Surrogate.GridNum) == 0 {
		cfg.Surrogate.GridNum = []int{DefaultGridNum}
	}

	if len(cfg.Surrogate.LowerBound) == 0 {
		cfg.Surrogate.LowerBound = []float64{DefaultLowerBound}
	}

	if cfg.Surrogate.Workers == 0 {
		cfg.Surrogate.Workers = runtime.NumCPU()
	}

	if cfg.Surrogate.SampleHint == 0 {
		cfg.Surrogate.SampleHint = DefaultSampleHint
	}

	if cfg.Model.Sigma == 0 {
		cfg.Model.Sigma = DefaultSigma
	}

	if cfg.Model.Length == 0 {
		cfg.Model.Length = DefaultLength
	}

	if cfg.Model.Cutoff == 0 {
		cfg.Model.Cutoff = DefaultCutoff
	}

	if cfg.Surrogate.Cutoff == 0 {
		cfg.Surrogate.Cutoff = cfg.Model.Cutoff
	}

	if cfg.Output.Coefficients == "" {
		cfg.Output.Coefficients = DefaultCoefficientsFile
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Default values.
const (
	DefaultOrder            = "twobody"
	DefaultGridNum          = 64
	DefaultLowerBound       = 0.5
	DefaultSampleHint       = 100
	DefaultSigma            = 1.0
	DefaultLength           = 1.0
	DefaultCutoff           = 5.0
	DefaultCoefficientsFile = "lmp.mgp"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
)
