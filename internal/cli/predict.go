package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/mgp/internal/dataset"
)

// PredictOptions holds the predict command flags.
type PredictOptions struct {
	Queries  string
	MeanOnly bool
	Rank     int
	Beta     float64
	Exact    bool
}

// atomPrediction is one output record of the predict command.
type atomPrediction struct {
	Structure   string     `yaml:"structure"`
	Index       int        `yaml:"index"`
	Symbol      string     `yaml:"symbol"`
	Force       [3]float64 `yaml:"force,flow"`
	Energy      float64    `yaml:"energy"`
	Virial      [6]float64 `yaml:"virial,flow"`
	Uncertainty []float64  `yaml:"uncertainty,flow,omitempty"`
	Lower       []float64  `yaml:"lower,flow,omitempty"`
	Upper       []float64  `yaml:"upper,flow,omitempty"`
	ExactForce  []float64  `yaml:"exact_force,flow,omitempty"`
}

func newPredictCmd() *cobra.Command {
	opts := &PredictOptions{}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Train, map and predict every atom of the query structures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			path := opts.Queries
			if path == "" {
				path = cc.Config.Data.Queries
			}

			if path == "" {
				return errors.New("data.queries: a query dataset is required")
			}

			queries, err := dataset.Load(path)
			if err != nil {
				return err
			}

			s, err := train(cmd.Context(), cc.Config, cc.Logger)
			if err != nil {
				return err
			}

			meanOnly := opts.MeanOnly || cc.Config.Surrogate.MeanOnly

			var out []atomPrediction

			for _, st := range queries.Structures {
				for i, env := range st.Environments(cc.Config.Model.Cutoff) {
					start := time.Now()

					pred, err := s.surrogate.Predict(env, meanOnly, opts.Rank)
					if err != nil {
						return fmt.Errorf("predict %s atom %d: %w", st.Name, i, err)
					}

					s.metrics.ObservePrediction(time.Since(start))

					rec := atomPrediction{
						Structure: st.Name,
						Index:     i,
						Symbol:    st.Atoms[i].Symbol,
						Force:     pred.Force,
						Energy:    pred.Energy,
						Virial:    pred.Virial,
					}

					if !meanOnly {
						rec.Uncertainty = pred.Uncertainty()
						rec.Lower, rec.Upper = pred.ConfidenceBounds(opts.Beta)
					}

					if opts.Exact {
						f, _, err := s.model.PredictForce(env)
						if err != nil {
							return err
						}

						rec.ExactForce = f[:]
					}

					out = append(out, rec)
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)

			if err := enc.Encode(out); err != nil {
				return err
			}

			if err := enc.Close(); err != nil {
				return err
			}

			if cc.Config.Output.MetricsFile != "" {
				return s.metrics.WriteTextfile(cc.Config.Output.MetricsFile)
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Queries, "queries", "q", "", "query dataset (default: data.queries)")
	f.BoolVar(&opts.MeanOnly, "mean-only", false, "skip the variance")
	f.IntVar(&opts.Rank, "rank", 0, "variance rank (default: surrogate.svd_rank)")
	f.Float64Var(&opts.Beta, "beta", 2, "confidence band width in standard deviations")
	f.BoolVar(&opts.Exact, "exact", false, "also report the exact model force")

	return cmd
}
