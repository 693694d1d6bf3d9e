// Package cli implements the mgp command-line tool: it trains the reference
// Gaussian process on a YAML dataset, compresses it into a mapped surrogate
// and writes the coefficient file, grids and metrics.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thalesfsp/mgp/internal/config"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewRootCommand creates the root command with its global flags and
// subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "mgp",
		Short:   "Mapped Gaussian process force fields",
		Long:    "mgp trains a two-body Gaussian process on labelled structures and maps it\nonto cubic splines for constant-cost force, energy and uncertainty prediction.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return persistentPreRun(cmd, opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, err := GetCLIContext(cmd); err == nil {
				_ = cc.Logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: MGP_* environment only)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newBuildCmd(),
		newPredictCmd(),
		newVersionCmd(),
	)

	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	if cmd.Name() == "version" {
		return nil
	}

	var (
		cfg *config.Config
		err error
	)

	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}

	if err != nil {
		return err
	}

	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{Config: cfg, Logger: logger}))

	return nil
}

// GetCLIContext extracts the CLIContext set up by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	if ctx := cmd.Context(); ctx != nil {
		if cc, ok := ctx.Value(cliContextKey{}).(*CLIContext); ok {
			return cc, nil
		}
	}

	return nil, errors.New("cli: context not initialized")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
