package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	csp "github.com/SamuelRCrider/csp-classify"
	"github.com/SamuelRCrider/csp-classify/core"
	"github.com/SamuelRCrider/csp-classify/logging"
)

func newClassifyCmd() *cobra.Command {
	var (
		entitiesPath string
		rulesPath    string
		dbPath       string
		auditPath    string
		frameworks   []string
		dataSource   string
		workers      int
		redaction    string
	)

	cmd := &cobra.Command{
		Use:   "classify --entities FILE",
		Short: "Classify entities from a JSON or YAML file",
		Example: `  # classify scan results with the built-in rules
  csp-classify classify --entities columns.yaml

  # classify with a rule set, only PCI framework rules, persisting to sqlite
  csp-classify classify --rules rules.yaml --entities columns.json --framework pci --db classify.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := stateFrom(cmd)
			logger := logging.WithContext(cmd.Context())
			cfg := *st.cfg

			flags := cmd.Flags()
			if flags.Changed("rules") {
				cfg.RulesPath = rulesPath
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if flags.Changed("audit-log") {
				cfg.AuditLogPath = auditPath
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("redaction") {
				cfg.ValueRedaction = redaction
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			entities, err := loadEntities(entitiesPath)
			if err != nil {
				return err
			}

			engine, err := csp.NewEngine(cmd.Context(), &cfg, csp.WithLogger(logger))
			if err != nil {
				return err
			}
			defer engine.Close()

			classifications, err := engine.ClassifyBatch(cmd.Context(), entities, core.Applicability{
				DataSourceID: dataSource,
				Frameworks:   frameworks,
			})
			if err != nil {
				return err
			}

			outcomes := make([]core.EvaluationOutcome, len(classifications))
			failed := 0
			for i, c := range classifications {
				outcomes[i] = c.Outcome
				failed += len(c.Report.Failed())
			}
			if failed > 0 {
				logger.Warn("some records were not persisted", "count", failed)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcomes)
		},
	}

	cmd.Flags().StringVarP(&entitiesPath, "entities", "e", "", "JSON or YAML file with a list of entities")
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "Rule set YAML, overrides rules_path")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database for results and statistics")
	cmd.Flags().StringVar(&auditPath, "audit-log", "", "JSONL audit log file")
	cmd.Flags().StringSliceVarP(&frameworks, "framework", "f", nil, "Frameworks to include; all when omitted")
	cmd.Flags().StringVar(&dataSource, "data-source", "", "Data source id used for rule scoping")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent evaluations")
	cmd.Flags().StringVar(&redaction, "redaction", "", "Matched value redaction. One of: [none, mask, fingerprint]")
	cobra.CheckErr(cmd.MarkFlagRequired("entities"))

	return cmd
}

// loadEntities reads a list of entities from a .json file or YAML
func loadEntities(path string) ([]*core.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}

	var entities []*core.Entity
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &entities)
	} else {
		err = yaml.Unmarshal(data, &entities)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse entities: %w", err)
	}

	for i, e := range entities {
		if e == nil {
			return nil, fmt.Errorf("entity %d is empty", i)
		}
		e.Type = core.EntityType(strings.ToLower(string(e.Type)))
		if e.ID == "" {
			e.ID = fmt.Sprintf("entity-%d", i+1)
		}
	}
	return entities, nil
}
