package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Train the model and write the mapped coefficient file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			s, err := train(cmd.Context(), cc.Config, cc.Logger)
			if err != nil {
				return err
			}

			if err := s.writeArtifacts(cc.Config); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d interactions)\n", cc.Config.Output.Coefficients, len(s.surrogate.Keys()))

			return nil
		},
	}
}
