package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamuelRCrider/csp-classify/logging"
	"github.com/SamuelRCrider/csp-classify/utils"
)

var errMatcherPanic = errors.New("matcher panic")

// EvaluatorConfig configures an Evaluator
type EvaluatorConfig struct {
	// Cache holds compiled patterns; one is created when nil
	Cache *PatternCache

	// Matchers overrides the matcher registry; DefaultMatchers when nil
	Matchers map[RuleType]Matcher

	Logger *slog.Logger

	// Clock stamps results and deltas; time.Now when nil
	Clock func() time.Time

	// IDs generates result and audit event ids; NewUUID when nil
	IDs IDGenerator

	Tracer trace.Tracer
}

// Evaluator runs an ordered rule list against entities. It holds no
// per-entity state and is safe for concurrent use.
type Evaluator struct {
	cache    *PatternCache
	matchers map[RuleType]Matcher
	logger   *slog.Logger
	clock    func() time.Time
	ids      IDGenerator
	tracer   trace.Tracer
}

// NewEvaluator creates an evaluator with the given configuration
func NewEvaluator(config EvaluatorConfig) (*Evaluator, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Cache == nil {
		cache, err := NewPatternCache(PatternCacheConfig{Logger: config.Logger})
		if err != nil {
			return nil, err
		}
		config.Cache = cache
	}
	if config.Matchers == nil {
		config.Matchers = DefaultMatchers()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.IDs == nil {
		config.IDs = NewUUID
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer("csp-classify/core")
	}

	return &Evaluator{
		cache:    config.Cache,
		matchers: config.Matchers,
		logger:   config.Logger,
		clock:    config.Clock,
		ids:      config.IDs,
		tracer:   config.Tracer,
	}, nil
}

// Cache returns the evaluator's pattern cache
func (e *Evaluator) Cache() *PatternCache {
	return e.cache
}

// Evaluate runs rules in order against the entity and returns one result and
// one audit event per match, plus a stats delta for every executed rule.
//
// Rules must already be filtered for applicability and sorted by ascending
// priority; ErrRulesNotSorted is the only error returned. Matcher failures are
// recorded in the outcome and never abort the remaining rules. A match from a
// global rule at very_high or certain confidence stops evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, entity *Entity, rules []Rule) (EvaluationOutcome, error) {
	if entity == nil {
		return EvaluationOutcome{}, nil
	}

	out := EvaluationOutcome{
		EntityType: entity.Type,
		EntityID:   entity.ID,
	}

	for i := 1; i < len(rules); i++ {
		if rules[i].Priority < rules[i-1].Priority {
			return out, fmt.Errorf("%w: rule %s (priority %d) after rule %s (priority %d)",
				ErrRulesNotSorted, rules[i].ID, rules[i].Priority, rules[i-1].ID, rules[i-1].Priority)
		}
	}

	ctx, span := e.tracer.Start(ctx, "classification.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.type", string(entity.Type)),
		attribute.String("entity.id", entity.ID),
		attribute.Int("rules.count", len(rules)),
	)

	ctx = logging.WithEntity(logging.NewContext(ctx, e.logger), string(entity.Type), entity.ID)
	text := ExtractText(entity)

	for i := range rules {
		rule := &rules[i]

		start := time.Now()
		outcome, err := e.matchRule(ctx, rule, entity, text, 0)
		latency := time.Since(start)
		now := e.clock()

		out.UpdatedRuleStats = append(out.UpdatedRuleStats, RuleStatsDelta{
			RuleID:     rule.ID,
			Matched:    err == nil && outcome.Matched,
			Failed:     err != nil,
			Latency:    latency,
			ExecutedAt: now,
		})

		if err != nil {
			category := ErrorCategory("")
			if errors.Is(err, errMatcherPanic) {
				category = ErrorCategoryPanic
			}
			matchErr := newMatchError(category, err, rule, entity)
			out.Errors = append(out.Errors, matchErr)
			span.RecordError(matchErr)
			logging.WithContext(logging.WithRule(ctx, rule.ID)).Error("rule evaluation failed",
				slog.String("category", string(matchErr.Category)),
				slog.Any("error", err),
			)
			continue
		}

		if !outcome.Matched {
			continue
		}

		result := newClassificationResult(e.ids(), entity, rule, outcome, latency, now)
		out.Results = append(out.Results, result)
		out.AuditEvents = append(out.AuditEvents, NewAuditEvent(e.ids(), result))

		if rule.IsGlobal() && result.ConfidenceLevel.stopsEvaluation() {
			out.StoppedBy = rule.ID
			logging.WithContext(logging.WithRule(ctx, rule.ID)).Debug("early stop on authoritative global match",
				slog.String("confidence_level", string(result.ConfidenceLevel)),
				slog.Int("skipped_rules", len(rules)-i-1),
			)
			break
		}
	}

	span.SetAttributes(
		attribute.Int("results.count", len(out.Results)),
		attribute.Int("errors.count", len(out.Errors)),
		attribute.String("stopped_by", out.StoppedBy),
	)

	return out, nil
}

// matchRule dispatches one rule to its matcher. Panics are converted into
// errors so that a broken matcher only affects its own rule.
func (e *Evaluator) matchRule(ctx context.Context, rule *Rule, entity *Entity, text ExtractedText, depth int) (out utils.MatchOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = utils.NoMatch(), fmt.Errorf("%w: %v", errMatcherPanic, r)
		}
	}()

	ruleType := rule.Type.Normalize()
	matcher, ok := e.matchers[ruleType]
	if !ok {
		logging.WithContext(logging.WithRule(ctx, rule.ID)).Debug("unsupported rule type treated as non-match",
			slog.String("rule_type", string(rule.Type)),
		)
		return utils.NoMatch(), nil
	}

	in := MatchInput{
		Rule:     rule,
		Entity:   entity,
		Text:     text,
		Compiled: e.cache.getOrCompile(ctx, rule, depth),
	}
	if ruleType == RuleTypeComposite {
		in.matchChild = func(ctx context.Context, child *Rule) (utils.MatchOutcome, error) {
			return e.matchRule(ctx, child, entity, text, depth+1)
		}
	}

	return matcher.Match(ctx, in)
}
