package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/SamuelRCrider/csp-classify/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS classification_results (
	id                 TEXT PRIMARY KEY,
	entity_type        TEXT NOT NULL,
	entity_id          TEXT NOT NULL,
	entity_path        TEXT DEFAULT '',
	rule_id            TEXT NOT NULL,
	sensitivity_level  TEXT DEFAULT '',
	confidence_score   REAL NOT NULL,
	confidence_level   TEXT NOT NULL,
	matched_patterns   TEXT DEFAULT '[]',
	matched_values     TEXT DEFAULT '[]',
	match_percentage   REAL DEFAULT 0,
	processing_time_ms REAL DEFAULT 0,
	created_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_entity ON classification_results(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_results_rule ON classification_results(rule_id);

CREATE TABLE IF NOT EXISTS audit_events (
	id                TEXT PRIMARY KEY,
	event_type        TEXT NOT NULL,
	rule_id           TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	result_id         TEXT DEFAULT '',
	confidence        REAL DEFAULT 0,
	sensitivity_level TEXT DEFAULT '',
	created_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity_id);

CREATE TABLE IF NOT EXISTS rule_stats (
	rule_id                TEXT PRIMARY KEY,
	execution_count        INTEGER NOT NULL DEFAULT 0,
	success_count          INTEGER NOT NULL DEFAULT 0,
	avg_execution_time_ms  REAL NOT NULL DEFAULT 0,
	last_executed          DATETIME
);

CREATE TABLE IF NOT EXISTS dictionary_terms (
	dictionary_key TEXT NOT NULL,
	term           TEXT NOT NULL,
	position       INTEGER NOT NULL,
	PRIMARY KEY (dictionary_key, term)
);
`

// Store persists classification output in SQLite. It implements
// core.ResultStore, core.AuditSink, core.StatsStore and
// core.DictionaryResolver.
type Store struct {
	db *sql.DB

	// OnDictionaryChange is called after a dictionary's terms are replaced
	OnDictionaryChange func(key string)
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult inserts a classification result
func (s *Store) SaveResult(ctx context.Context, r core.ClassificationResult) error {
	patterns, err := json.Marshal(nonNil(r.MatchedPatterns))
	if err != nil {
		return err
	}
	values, err := json.Marshal(nonNil(r.MatchedValues))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO classification_results (id, entity_type, entity_id, entity_path, rule_id, sensitivity_level,
			confidence_score, confidence_level, matched_patterns, matched_values, match_percentage, processing_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.EntityType), r.EntityID, r.EntityPath, r.RuleID, r.SensitivityLevel,
		r.ConfidenceScore, string(r.ConfidenceLevel), string(patterns), string(values),
		r.MatchPercentage, r.ProcessingTimeMs, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", r.ID, err)
	}
	return nil
}

// ResultsForEntity returns stored results for an entity, oldest first
func (s *Store) ResultsForEntity(ctx context.Context, entityType core.EntityType, entityID string) ([]core.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_type, entity_id, entity_path, rule_id, sensitivity_level, confidence_score,
			confidence_level, matched_patterns, matched_values, match_percentage, processing_time_ms, created_at
		 FROM classification_results WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, id`,
		string(entityType), entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []core.ClassificationResult
	for rows.Next() {
		var (
			r                core.ClassificationResult
			etype, level     string
			patterns, values string
		)
		err := rows.Scan(
			&r.ID, &etype, &r.EntityID, &r.EntityPath, &r.RuleID, &r.SensitivityLevel, &r.ConfidenceScore,
			&level, &patterns, &values, &r.MatchPercentage, &r.ProcessingTimeMs, &r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.EntityType = core.EntityType(etype)
		r.ConfidenceLevel = core.ConfidenceLevel(level)
		if err := json.Unmarshal([]byte(patterns), &r.MatchedPatterns); err != nil {
			return nil, fmt.Errorf("result %s: matched_patterns: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(values), &r.MatchedValues); err != nil {
			return nil, fmt.Errorf("result %s: matched_values: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AppendAuditEvent inserts an audit event; events are never updated
func (s *Store) AppendAuditEvent(ctx context.Context, e core.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, event_type, rule_id, entity_type, entity_id, result_id, confidence, sensitivity_level, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, e.RuleID, string(e.EntityType), e.EntityID, e.ResultID,
		e.Confidence, e.SensitivityLevel, e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event %s: %w", e.ID, err)
	}
	return nil
}

// AuditEventsForEntity returns the audit trail of an entity, oldest first
func (s *Store) AuditEventsForEntity(ctx context.Context, entityID string) ([]core.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, rule_id, entity_type, entity_id, result_id, confidence, sensitivity_level, created_at
		 FROM audit_events WHERE entity_id = ? ORDER BY created_at, id`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.AuditEvent
	for rows.Next() {
		var (
			e     core.AuditEvent
			etype string
		)
		err := rows.Scan(&e.ID, &e.EventType, &e.RuleID, &etype, &e.EntityID, &e.ResultID,
			&e.Confidence, &e.SensitivityLevel, &e.Timestamp)
		if err != nil {
			return nil, err
		}
		e.EntityType = core.EntityType(etype)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ApplyStatsDelta folds one execution into the stored statistics of a rule
func (s *Store) ApplyStatsDelta(ctx context.Context, d core.RuleStatsDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st, _, err := scanRuleStats(tx.QueryRowContext(ctx,
		`SELECT execution_count, success_count, avg_execution_time_ms, last_executed FROM rule_stats WHERE rule_id = ?`,
		d.RuleID,
	))
	if err != nil {
		return fmt.Errorf("failed to read stats for rule %s: %w", d.RuleID, err)
	}

	st = core.ApplyDelta(st, d)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rule_stats (rule_id, execution_count, success_count, avg_execution_time_ms, last_executed)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(rule_id) DO UPDATE SET
			execution_count = excluded.execution_count,
			success_count = excluded.success_count,
			avg_execution_time_ms = excluded.avg_execution_time_ms,
			last_executed = excluded.last_executed`,
		d.RuleID, st.ExecutionCount, st.SuccessCount, st.AvgExecutionTimeMs, st.LastExecuted.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write stats for rule %s: %w", d.RuleID, err)
	}
	return tx.Commit()
}

// RuleStats returns the stored statistics of one rule
func (s *Store) RuleStats(ctx context.Context, ruleID string) (core.RuleStats, bool, error) {
	return scanRuleStats(s.db.QueryRowContext(ctx,
		`SELECT execution_count, success_count, avg_execution_time_ms, last_executed FROM rule_stats WHERE rule_id = ?`,
		ruleID,
	))
}

// AllRuleStats returns the stored statistics of every rule
func (s *Store) AllRuleStats(ctx context.Context) (map[string]core.RuleStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id, execution_count, success_count, avg_execution_time_ms, last_executed FROM rule_stats ORDER BY rule_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := make(map[string]core.RuleStats)
	for rows.Next() {
		var (
			id   string
			st   core.RuleStats
			last sql.NullTime
		)
		if err := rows.Scan(&id, &st.ExecutionCount, &st.SuccessCount, &st.AvgExecutionTimeMs, &last); err != nil {
			return nil, err
		}
		st.LastExecuted = last.Time
		all[id] = st
	}
	return all, rows.Err()
}

// LoadRuleStats copies stored statistics into rules
func (s *Store) LoadRuleStats(ctx context.Context, rules []core.Rule) error {
	all, err := s.AllRuleStats(ctx)
	if err != nil {
		return err
	}
	for i := range rules {
		if st, ok := all[rules[i].ID]; ok {
			rules[i].Stats = st
		}
	}
	return nil
}

func scanRuleStats(row *sql.Row) (core.RuleStats, bool, error) {
	var (
		st   core.RuleStats
		last sql.NullTime
	)
	err := row.Scan(&st.ExecutionCount, &st.SuccessCount, &st.AvgExecutionTimeMs, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RuleStats{}, false, nil
	}
	if err != nil {
		return core.RuleStats{}, false, err
	}
	st.LastExecuted = last.Time
	return st, true, nil
}

// ReplaceDictionary replaces the terms of a dictionary and notifies
// OnDictionaryChange
func (s *Store) ReplaceDictionary(ctx context.Context, key string, terms []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dictionary_terms WHERE dictionary_key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear dictionary %q: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO dictionary_terms (dictionary_key, term, position) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, key, term, i); err != nil {
			return fmt.Errorf("failed to insert term %q: %w", term, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if s.OnDictionaryChange != nil {
		s.OnDictionaryChange(key)
	}
	return nil
}

// ResolveTerms returns the terms of a stored dictionary
func (s *Store) ResolveTerms(ctx context.Context, key string) ([]string, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term FROM dictionary_terms WHERE dictionary_key = ? ORDER BY position`,
		key,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, false, err
		}
		terms = append(terms, term)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return terms, len(terms) > 0, nil
}

// PruneResults deletes results created before cutoff and returns the count
func (s *Store) PruneResults(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM classification_results WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
