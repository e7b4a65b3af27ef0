package core

import (
	"context"
	"log/slog"
)

// ResultStore persists classification results
type ResultStore interface {
	SaveResult(ctx context.Context, result ClassificationResult) error
}

// StatsStore persists rule statistics deltas
type StatsStore interface {
	ApplyStatsDelta(ctx context.Context, delta RuleStatsDelta) error
}

// RecordKind identifies the kind of record a dispatch status refers to
type RecordKind string

const (
	RecordResult RecordKind = "result"
	RecordAudit  RecordKind = "audit_event"
	RecordStats  RecordKind = "rule_stats"
)

// RecordStatus is the persistence status of one record
type RecordStatus struct {
	Kind RecordKind
	ID   string
	Err  error
}

// DispatchReport lists the status of every record in an outcome
type DispatchReport struct {
	Records []RecordStatus
}

// Failed returns the records that could not be persisted
func (r DispatchReport) Failed() []RecordStatus {
	var failed []RecordStatus
	for _, rec := range r.Records {
		if rec.Err != nil {
			failed = append(failed, rec)
		}
	}
	return failed
}

// OK reports whether every record was persisted
func (r DispatchReport) OK() bool {
	return len(r.Failed()) == 0
}

// Dispatcher hands an evaluation outcome to its sinks. A failed record does
// not prevent the others from being written; nothing is retried.
type Dispatcher struct {
	Results ResultStore
	Audit   AuditSink
	Stats   StatsStore

	// Redaction is applied to matched values before results are stored
	Redaction RedactionMode

	Logger *slog.Logger
}

// Dispatch persists the outcome's results, audit events and stats deltas.
// Sinks left nil are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome EvaluationOutcome) DispatchReport {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var report DispatchReport
	record := func(kind RecordKind, id string, err error) {
		report.Records = append(report.Records, RecordStatus{Kind: kind, ID: id, Err: err})
		if err != nil {
			logger.Warn("failed to persist record",
				slog.String("kind", string(kind)),
				slog.String("id", id),
				slog.String("entity_id", outcome.EntityID),
				slog.Any("error", err),
			)
		}
	}

	if d.Results != nil {
		for _, result := range RedactResults(outcome.Results, d.Redaction) {
			record(RecordResult, result.ID, d.Results.SaveResult(ctx, result))
		}
	}

	if d.Audit != nil {
		for _, event := range outcome.AuditEvents {
			record(RecordAudit, event.ID, d.Audit.AppendAuditEvent(ctx, event))
		}
	}

	if d.Stats != nil {
		for _, delta := range outcome.UpdatedRuleStats {
			record(RecordStats, delta.RuleID, d.Stats.ApplyStatsDelta(ctx, delta))
		}
	}

	return report
}
