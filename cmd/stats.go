package main

import (
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SamuelRCrider/csp-classify/store"
)

func newStatsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show rule execution statistics recorded in the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := stateFrom(cmd)
			if dbPath == "" {
				dbPath = st.cfg.DBPath
			}
			if dbPath == "" {
				return errors.New("no database configured, set --db or db_path")
			}

			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			all, err := s.AllRuleStats(cmd.Context())
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(all))
			for id := range all {
				ids = append(ids, id)
			}
			slices.Sort(ids)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RULE\tEXECUTIONS\tMATCHES\tAVG MS\tLAST EXECUTED")
			for _, id := range ids {
				rs := all[id]
				last := "-"
				if !rs.LastExecuted.IsZero() {
					last = rs.LastExecuted.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%.3f\t%s\n", id, rs.ExecutionCount, rs.SuccessCount, rs.AvgExecutionTimeMs, last)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database, overrides db_path")
	return cmd
}
