package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "MGP"

// newViper returns a Viper reading YAML, with MGP_ environment overrides
// where "." maps to "_", e.g. surrogate.svd_rank is MGP_SURROGATE_SVD_RANK.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{
		"surrogate.order", "surrogate.species", "surrogate.grid_num",
		"surrogate.lower_bound", "surrogate.cutoff", "surrogate.svd_rank",
		"surrogate.map_force", "surrogate.mean_only", "surrogate.workers",
		"surrogate.sample_hint", "model.sigma", "model.length", "model.cutoff",
		"model.force_noise", "model.energy_noise", "data.training", "data.queries",
		"output.coefficients", "output.grids_dir", "output.metrics_file",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}

	return v
}

// Load reads the YAML file at path, merges MGP_* environment overrides,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from MGP_* environment variables and defaults
// alone.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}
