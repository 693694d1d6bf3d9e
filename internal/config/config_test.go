package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/mgp"
)

const sampleYAML = `
surrogate:
  order: threebody
  species: [H, O]
  grid_num: [8, 8, 12]
  lower_bound: [0.6]
  svd_rank: 4
  map_force: true
  workers: 2
model:
  sigma: 2.0
  length: 0.7
  cutoff: 4.5
  force_noise: 0.05
data:
  training: train.yaml
log:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mgp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"H", "O"}, cfg.Surrogate.Species)
	assert.Equal(t, []int{8, 8, 12}, cfg.Surrogate.GridNum)
	assert.Equal(t, 4.5, cfg.Surrogate.Cutoff)
	assert.Equal(t, DefaultSampleHint, cfg.Surrogate.SampleHint)
	assert.Equal(t, DefaultCoefficientsFile, cfg.Output.Coefficients)

	order, err := cfg.BodyOrder()
	require.NoError(t, err)
	assert.Equal(t, mgp.ThreeBody, order)

	z, err := cfg.AtomicNumbers()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8}, z)

	mc, err := cfg.MGPConfig()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8, 12}, mc.GridNum)
	assert.Equal(t, []float64{0.6}, mc.LowerBound)
	assert.Equal(t, 4, mc.SVDRank)
	assert.True(t, mc.MapForce)
	assert.Equal(t, 2, mc.Workers)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MGP_SURROGATE_SVD_RANK", "9")
	t.Setenv("MGP_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Surrogate.SVDRank)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MGP_SURROGATE_SPECIES", "Si")
	t.Setenv("MGP_MODEL_CUTOFF", "3.5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"Si"}, cfg.Surrogate.Species)
	assert.Equal(t, DefaultOrder, cfg.Surrogate.Order)
	assert.Equal(t, 3.5, cfg.Surrogate.Cutoff)
	assert.Equal(t, []int{DefaultGridNum}, cfg.Surrogate.GridNum)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown order":   "surrogate: {order: fourbody, species: [H]}",
		"no species":      "surrogate: {order: twobody}",
		"unknown element": "surrogate: {species: [Qq]}",
		"grid dims":       "surrogate: {order: threebody, species: [H], grid_num: [4, 4]}",
		"grid too small":  "surrogate: {species: [H], grid_num: [1]}",
		"lower above cut": "surrogate: {species: [H], lower_bound: [6.0]}",
		"negative rank":   "surrogate: {species: [H], svd_rank: -1}",
		"log level":       "surrogate: {species: [H]}\nlog: {level: loud}",
	}

	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
