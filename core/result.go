package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/SamuelRCrider/csp-classify/utils"
)

// ClassificationResult is the durable verdict of one rule matching one entity
type ClassificationResult struct {
	ID               string          `json:"id"`
	EntityType       EntityType      `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	EntityPath       string          `json:"entity_path"`
	RuleID           string          `json:"rule_id"`
	SensitivityLevel string          `json:"sensitivity_level"`
	ConfidenceScore  float64         `json:"confidence_score"`
	ConfidenceLevel  ConfidenceLevel `json:"confidence_level"`
	MatchedPatterns  []string        `json:"matched_patterns"`
	MatchedValues    []string        `json:"matched_values"`
	MatchPercentage  float64         `json:"match_percentage"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AuditEventRuleApplied is the event type emitted for every match
const AuditEventRuleApplied = "rule_applied"

// AuditEvent is an append-only record of a rule application
type AuditEvent struct {
	ID               string     `json:"id"`
	EventType        string     `json:"event_type"`
	RuleID           string     `json:"rule_id"`
	EntityType       EntityType `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	ResultID         string     `json:"result_id"`
	Confidence       float64    `json:"confidence"`
	SensitivityLevel string     `json:"sensitivity_level"`
	Timestamp        time.Time  `json:"timestamp"`
}

// RuleStatsDelta records one execution of a rule. Deltas are applied to rule
// statistics by a single owner instead of mutating shared rules.
type RuleStatsDelta struct {
	RuleID     string        `json:"rule_id"`
	Matched    bool          `json:"matched"`
	Failed     bool          `json:"failed"`
	Latency    time.Duration `json:"latency"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// LatencyMs returns the latency in fractional milliseconds
func (d RuleStatsDelta) LatencyMs() float64 {
	return float64(d.Latency) / float64(time.Millisecond)
}

// EvaluationOutcome is everything produced by evaluating one entity
type EvaluationOutcome struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`

	Results          []ClassificationResult `json:"results"`
	AuditEvents      []AuditEvent           `json:"audit_events"`
	UpdatedRuleStats []RuleStatsDelta       `json:"updated_rule_stats"`

	// Matcher failures that were recovered; the rules still count as executed
	Errors []*MatchError `json:"-"`

	// Rule that triggered the early stop, empty when all rules ran
	StoppedBy string `json:"stopped_by,omitempty"`
}

// IDGenerator produces identifiers for results and audit events
type IDGenerator func() string

// NewUUID is the default IDGenerator
func NewUUID() string {
	return uuid.NewString()
}

// newClassificationResult builds the result for a successful match
func newClassificationResult(id string, entity *Entity, rule *Rule, outcome utils.MatchOutcome, elapsed time.Duration, now time.Time) ClassificationResult {
	return ClassificationResult{
		ID:               id,
		EntityType:       entity.Type,
		EntityID:         entity.ID,
		EntityPath:       entity.Path(),
		RuleID:           rule.ID,
		SensitivityLevel: rule.SensitivityLevel,
		ConfidenceScore:  outcome.Confidence,
		ConfidenceLevel:  ClassifyConfidence(outcome.Confidence),
		MatchedPatterns:  outcome.MatchedPatterns,
		MatchedValues:    outcome.MatchedValues,
		MatchPercentage:  outcome.MatchPercentage,
		ProcessingTimeMs: float64(elapsed) / float64(time.Millisecond),
		CreatedAt:        now,
	}
}

// NewAuditEvent builds the audit record that accompanies a result
func NewAuditEvent(id string, result ClassificationResult) AuditEvent {
	return AuditEvent{
		ID:               id,
		EventType:        AuditEventRuleApplied,
		RuleID:           result.RuleID,
		EntityType:       result.EntityType,
		EntityID:         result.EntityID,
		ResultID:         result.ID,
		Confidence:       result.ConfidenceScore,
		SensitivityLevel: result.SensitivityLevel,
		Timestamp:        result.CreatedAt,
	}
}
