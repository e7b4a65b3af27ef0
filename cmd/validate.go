package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SamuelRCrider/csp-classify/core"
	"github.com/SamuelRCrider/csp-classify/logging"
)

var errLintWarnings = errors.New("rule set has rules that never match")

func newValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate RULES_FILE",
		Short: "Validate a rule set and report rules that can never match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := stateFrom(cmd)
			logger := logging.WithContext(cmd.Context())

			rs, err := core.LoadRuleSet(args[0])
			if err != nil {
				return err
			}

			cache, err := core.NewPatternCache(core.PatternCacheConfig{
				Size:         st.cfg.PatternCacheSize,
				RegexTimeout: st.cfg.RegexTimeout,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			warnings := core.LintRuleSet(cmd.Context(), rs, cache)
			out := cmd.OutOrStdout()
			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			fmt.Fprintf(out, "%d rules, %d warnings, hash %s\n", len(rs.Rules), len(warnings), rs.Metadata.Hash)

			if strict && len(warnings) > 0 {
				return errLintWarnings
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any rule can never match")
	return cmd
}
