package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SamuelRCrider/csp-classify/logging"
	"github.com/SamuelRCrider/csp-classify/store"
)

func newPruneCmd() *cobra.Command {
	var (
		dbPath    string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored classification results older than a cutoff",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := stateFrom(cmd)
			logger := logging.WithContext(cmd.Context())
			if dbPath == "" {
				dbPath = st.cfg.DBPath
			}
			if dbPath == "" {
				return errors.New("no database configured, set --db or db_path")
			}
			if olderThan <= 0 {
				if st.cfg.Retention.ResultDays <= 0 {
					return errors.New("no retention configured, set --older-than or retention.result_days")
				}
				olderThan = time.Duration(st.cfg.Retention.ResultDays) * 24 * time.Hour
			}

			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := store.NewPruner(s, olderThan, logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d results\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database, overrides db_path")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff, overrides retention.result_days")
	return cmd
}
