package cli

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const training = `
structures:
  - name: d08
    energy: 0.9
    atoms:
      - {symbol: H, position: [0, 0, 0], force: [-2.0, 0, 0]}
      - {symbol: H, position: [0.8, 0, 0], force: [2.0, 0, 0]}
  - name: d10
    energy: -0.2
    atoms:
      - {symbol: H, position: [0, 0, 0], force: [0.1, 0, 0]}
      - {symbol: H, position: [1.0, 0, 0], force: [-0.1, 0, 0]}
  - name: d14
    atoms:
      - {symbol: H, position: [0, 0, 0], force: [0.4, 0, 0]}
      - {symbol: H, position: [0, 1.4, 0], force: [0, -0.4, 0]}
  - name: d20
    energy: -0.05
    atoms:
      - {symbol: H, position: [0, 0, 0], force: [0.1, 0, 0]}
      - {symbol: H, position: [2.0, 0, 0], force: [-0.1, 0, 0]}
`

const queries = `
structures:
  - name: q
    atoms:
      - {symbol: H, position: [0, 0, 0]}
      - {symbol: H, position: [1.2, 0, 0]}
`

type fixture struct {
	dir          string
	config       string
	coefficients string
	grids        string
	metrics      string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dir := t.TempDir()
	f := fixture{
		dir:          dir,
		config:       filepath.Join(dir, "mgp.yaml"),
		coefficients: filepath.Join(dir, "lmp.mgp"),
		grids:        filepath.Join(dir, "grids"),
		metrics:      filepath.Join(dir, "mgp.prom"),
	}

	train := filepath.Join(dir, "train.yaml")
	query := filepath.Join(dir, "query.yaml")

	require.NoError(t, os.WriteFile(train, []byte(training), 0o600))
	require.NoError(t, os.WriteFile(query, []byte(queries), 0o600))

	cfg := fmt.Sprintf(`
surrogate:
  order: twobody
  species: [H]
  grid_num: [64]
  lower_bound: [0.5]
  svd_rank: 4
  workers: 2
  sample_hint: 2
model:
  sigma: 1.0
  length: 0.5
  cutoff: 3.0
  force_noise: 0.01
  energy_noise: 0.01
data:
  training: %s
  queries: %s
output:
  coefficients: %s
  grids_dir: %s
  metrics_file: %s
log:
  level: error
`, train, query, f.coefficients, f.grids, f.metrics)

	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o600))

	return f
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.config, "build")
	require.NoError(t, err)
	assert.Contains(t, out, "1 interactions")

	raw, err := os.ReadFile(f.coefficients)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "H H 0.5 3.0 64\n"))

	entries, err := os.ReadDir(f.grids)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		assert.Equal(t, ".npy", filepath.Ext(e.Name()))
	}

	prom, err := os.ReadFile(f.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `mgp_build_batches_total{interaction="H_H",subset="force"}`)
	assert.Contains(t, string(prom), `mgp_training_labels{kind="force"} 8`)
	assert.Contains(t, string(prom), `mgp_training_labels{kind="energy"} 3`)
}

func TestPredictCommand(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.config, "predict", "--exact")
	require.NoError(t, err)

	var preds []atomPrediction
	require.NoError(t, yaml.Unmarshal([]byte(out), &preds))
	require.Len(t, preds, 2)

	a, b := preds[0], preds[1]
	assert.Equal(t, "q", a.Structure)
	assert.Equal(t, "H", a.Symbol)

	// The two atoms of a dimer see mirrored environments.
	assert.InDelta(t, -a.Force[0], b.Force[0], 1e-9)
	assert.InDelta(t, 0, a.Force[1], 1e-12)
	assert.InDelta(t, 0, a.Force[2], 1e-12)

	require.Len(t, a.ExactForce, 3)
	assert.InDelta(t, a.ExactForce[0], a.Force[0], 5e-2*(1+math.Abs(a.ExactForce[0])))

	require.Len(t, a.Uncertainty, 1)
	assert.GreaterOrEqual(t, a.Uncertainty[0], 0.0)
	require.Len(t, a.Lower, 1)
	assert.LessOrEqual(t, a.Lower[0], a.Upper[0])

	prom, err := os.ReadFile(f.metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "mgp_predictions_total 2")
}

func TestPredictMeanOnly(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "--config", f.config, "predict", "--mean-only")
	require.NoError(t, err)

	var preds []atomPrediction
	require.NoError(t, yaml.Unmarshal([]byte(out), &preds))
	require.Len(t, preds, 2)
	assert.Empty(t, preds[0].Uncertainty)
	assert.Empty(t, preds[0].ExactForce)
}

func TestBuildRequiresTraining(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mgp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("surrogate:\n  species: [H]\n"), 0o600))

	_, err := run(t, "--config", path, "--log-level", "error", "build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.training")
}

func TestBadConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "build")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mgp dev")
}

func TestGetCLIContextUninitialized(t *testing.T) {
	_, err := GetCLIContext(&cobra.Command{})
	assert.Error(t, err)
}
