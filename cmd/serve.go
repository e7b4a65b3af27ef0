package main

import (
	"time"

	"github.com/spf13/cobra"

	csp "github.com/SamuelRCrider/csp-classify"
	"github.com/SamuelRCrider/csp-classify/logging"
	"github.com/SamuelRCrider/csp-classify/mcpserver"
	"github.com/SamuelRCrider/csp-classify/store"
)

func newServeMCPCmd() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve classification tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := stateFrom(cmd)
			logger := logging.WithContext(cmd.Context())
			cfg := *st.cfg
			if rulesPath != "" {
				cfg.RulesPath = rulesPath
			}

			engine, err := csp.NewEngine(cmd.Context(), &cfg, csp.WithLogger(logger))
			if err != nil {
				return err
			}
			defer engine.Close()

			if db := engine.Store(); db != nil && cfg.Retention.ResultDays > 0 {
				pruner := store.NewPruner(db, time.Duration(cfg.Retention.ResultDays)*24*time.Hour, logger)
				if err := pruner.Start(cfg.Retention.Schedule); err != nil {
					return err
				}
				defer pruner.Stop()
			}

			srv := mcpserver.New(engine, mcpserver.Config{
				Name:               cmdName,
				Version:            version,
				RateLimitPerMinute: cfg.MCP.RateLimitPerMinute,
				Logger:             logger,
			})

			logger.Info("serving MCP on stdio", "rules", len(engine.Rules()))
			return srv.ServeStdio()
		},
	}

	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "Rule set YAML, overrides rules_path")
	return cmd
}
