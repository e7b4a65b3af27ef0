package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRulesNotSorted is returned when the caller passes rules that are not
	// in ascending priority order
	ErrRulesNotSorted = errors.New("rules are not sorted by priority")

	// ErrInvalidRuleSet is returned when a rule set fails validation
	ErrInvalidRuleSet = errors.New("invalid rule set")

	// ErrInvalidPattern marks a rule payload that could not be compiled
	ErrInvalidPattern = errors.New("invalid pattern")
)

// ErrorCategory classifies matcher failures for logs and telemetry
type ErrorCategory string

const (
	ErrorCategoryPattern    ErrorCategory = "pattern"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryEvaluation ErrorCategory = "evaluation"
	ErrorCategoryPanic      ErrorCategory = "panic"
)

// MatchError wraps a failure raised while one rule was matched against one
// entity
type MatchError struct {
	Category    ErrorCategory
	OriginalErr error
	RuleID      string
	EntityType  EntityType
	EntityID    string
	Timestamp   time.Time
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("[%s] rule %s on %s/%s: %v", e.Category, e.RuleID, e.EntityType, e.EntityID, e.OriginalErr)
}

func (e *MatchError) Unwrap() error {
	return e.OriginalErr
}

// newMatchError creates a MatchError, categorizing err when category is empty
func newMatchError(category ErrorCategory, err error, rule *Rule, entity *Entity) *MatchError {
	if category == "" {
		category = categorizeError(err)
	}
	return &MatchError{
		Category:    category,
		OriginalErr: err,
		RuleID:      rule.ID,
		EntityType:  entity.Type,
		EntityID:    entity.ID,
		Timestamp:   time.Now(),
	}
}

// categorizeError categorizes an error based on its chain and message
func categorizeError(err error) ErrorCategory {
	if errors.Is(err, ErrInvalidPattern) {
		return ErrorCategoryPattern
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline") {
		return ErrorCategoryTimeout
	}

	return ErrorCategoryEvaluation
}
