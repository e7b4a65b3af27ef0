package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/SamuelRCrider/csp-classify/config"
	"github.com/SamuelRCrider/csp-classify/logging"
)

const (
	cmdName = "csp-classify"
	version = "0.1.0"
)

type cliContextKey struct{}

// cliState is shared by every subcommand after PersistentPreRunE; the
// logger travels in the context
type cliState struct {
	cfg *config.Config
}

func stateFrom(cmd *cobra.Command) *cliState {
	st, _ := cmd.Context().Value(cliContextKey{}).(*cliState)
	return st
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	root := &cobra.Command{
		Use:   cmdName,
		Short: "Rule-based classification of data assets",
		Long: `csp-classify evaluates prioritized classification rules against scanned
columns, catalog items and data sources, and records sensitivity results.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}

			logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &cliState{cfg: cfg}))
			return nil
		},
	}

	defaultConfig := os.Getenv(config.EnvPrefix + "CONFIG")
	if defaultConfig == "" {
		defaultConfig = "csp-classify.yaml"
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level. One of: [error, warn, info, debug]")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format. One of: [text, logfmt, json]")

	root.AddCommand(
		newClassifyCmd(),
		newValidateCmd(),
		newStatsCmd(),
		newPruneCmd(),
		newServeMCPCmd(),
	)
	return root
}
