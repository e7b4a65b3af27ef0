package csp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SamuelRCrider/csp-classify/config"
	"github.com/SamuelRCrider/csp-classify/core"
	"github.com/SamuelRCrider/csp-classify/store"
)

// Classification is the outcome of classifying one entity together with the
// persistence status of every record it produced
type Classification struct {
	Outcome core.EvaluationOutcome
	Report  core.DispatchReport
}

// Option customizes an Engine
type Option func(*engineOptions)

type engineOptions struct {
	ruleSet *core.RuleSet
	logger  *slog.Logger
	store   *store.Store
}

// WithRuleSet uses rs instead of loading rules_path
func WithRuleSet(rs *core.RuleSet) Option {
	return func(o *engineOptions) { o.ruleSet = rs }
}

// WithLogger sets the engine logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithStore uses an already opened store instead of db_path. The engine does
// not close it.
func WithStore(s *store.Store) Option {
	return func(o *engineOptions) { o.store = s }
}

// Engine wires rule loading, evaluation, statistics and persistence
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	redaction core.RedactionMode

	ruleSet *core.RuleSet
	rules   []core.Rule

	cache      *core.PatternCache
	evaluator  *core.Evaluator
	pool       *core.Pool
	stats      *core.StatsAggregator
	dispatcher *core.Dispatcher

	store        *store.Store
	ownsStore    bool
	dictionaries *store.FileDictionaries
	audit        *core.AuditLogger
}

// NewEngine builds an engine from configuration
func NewEngine(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	redaction, err := core.ParseRedactionMode(cfg.ValueRedaction)
	if err != nil {
		return nil, err
	}
	auditLevel, err := core.ParseAuditLogLevel(cfg.AuditLevel)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    o.logger,
		redaction: redaction,
		store:     o.store,
	}

	if err := e.loadRules(o.ruleSet); err != nil {
		return nil, err
	}

	if e.store == nil && cfg.DBPath != "" {
		if e.store, err = store.Open(cfg.DBPath); err != nil {
			return nil, err
		}
		e.ownsStore = true
	}

	var resolvers store.Chain
	if cfg.DictionariesPath != "" {
		if e.dictionaries, err = store.LoadFileDictionaries(cfg.DictionariesPath); err != nil {
			e.Close()
			return nil, err
		}
		resolvers = append(resolvers, e.dictionaries)
	}
	if e.store != nil {
		resolvers = append(resolvers, e.store)
	}

	cacheConfig := core.PatternCacheConfig{
		Size:         cfg.PatternCacheSize,
		RegexTimeout: cfg.RegexTimeout,
		Logger:       e.logger,
	}
	if len(resolvers) > 0 {
		cacheConfig.Dictionaries = resolvers
	}
	if e.cache, err = core.NewPatternCache(cacheConfig); err != nil {
		e.Close()
		return nil, err
	}
	if e.dictionaries != nil {
		e.dictionaries.Invalidate = e.cache.InvalidateDictionary
	}
	if e.store != nil {
		e.store.OnDictionaryChange = e.cache.InvalidateDictionary
		if err := e.store.LoadRuleStats(ctx, e.rules); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to load rule stats: %w", err)
		}
	}

	if e.evaluator, err = core.NewEvaluator(core.EvaluatorConfig{Cache: e.cache, Logger: e.logger}); err != nil {
		e.Close()
		return nil, err
	}

	e.stats = core.NewStatsAggregator(e.rules)
	e.pool = core.NewPool(core.PoolConfig{
		Evaluator: e.evaluator,
		Stats:     e.stats,
		Workers:   cfg.Workers,
		Logger:    e.logger,
	})

	e.dispatcher = &core.Dispatcher{Redaction: redaction, Logger: e.logger}
	if e.store != nil {
		e.dispatcher.Results = e.store
		e.dispatcher.Stats = e.store
	}
	if cfg.AuditLogPath != "" {
		if e.audit, err = core.NewAuditLogger(core.AuditLoggerConfig{
			Path:         cfg.AuditLogPath,
			Level:        auditLevel,
			RotationSize: 10 << 20,
		}); err != nil {
			e.Close()
			return nil, err
		}
		e.dispatcher.Audit = e.audit
	} else if e.store != nil {
		e.dispatcher.Audit = e.store
	}

	for _, w := range core.LintRuleSet(ctx, e.ruleSet, e.cache) {
		e.logger.Warn("rule will never match", slog.String("detail", w))
	}

	e.logger.Debug("engine ready",
		slog.Int("rules", len(e.rules)),
		slog.String("rule_set_hash", e.ruleSet.Metadata.Hash),
		slog.Bool("persistence", e.store != nil),
	)
	return e, nil
}

func (e *Engine) loadRules(rs *core.RuleSet) error {
	switch {
	case rs != nil:
	case e.cfg.RulesPath != "":
		var err error
		if rs, err = core.LoadRuleSet(e.cfg.RulesPath); err != nil {
			return err
		}
	default:
		rs = core.DefaultRuleSet()
	}

	e.ruleSet = rs
	e.rules = make([]core.Rule, len(rs.Rules))
	copy(e.rules, rs.Rules)
	core.SortRules(e.rules)
	return nil
}

// RuleSet returns the loaded rule set
func (e *Engine) RuleSet() *core.RuleSet {
	return e.ruleSet
}

// Rules returns the loaded rules in evaluation order
func (e *Engine) Rules() []core.Rule {
	rules := make([]core.Rule, len(e.rules))
	copy(rules, e.rules)
	return rules
}

// Classify evaluates one entity and returns the outcome with matched values
// redacted
func (e *Engine) Classify(ctx context.Context, entity *core.Entity, app core.Applicability) (core.EvaluationOutcome, error) {
	c, err := e.ClassifyEntity(ctx, entity, app)
	if err != nil {
		return core.EvaluationOutcome{}, err
	}
	return c.Outcome, nil
}

// ClassifyEntity evaluates one entity against the applicable rules, feeds the
// statistics aggregator and persists the outcome
func (e *Engine) ClassifyEntity(ctx context.Context, entity *core.Entity, app core.Applicability) (*Classification, error) {
	if app.DataSourceID == "" && entity != nil {
		app.DataSourceID = entity.DataSourceID
	}

	outcome, err := e.evaluator.Evaluate(ctx, entity, core.SelectRules(e.rules, app))
	if err != nil {
		return nil, err
	}
	if err := e.stats.Submit(ctx, outcome.UpdatedRuleStats...); err != nil {
		e.logger.Warn("failed to submit rule stats", slog.Any("error", err))
	}

	return e.finish(ctx, outcome), nil
}

// ClassifyBatch evaluates entities concurrently; classifications are returned
// in input order. Every entity in a batch is evaluated with the same rules,
// selected with app.
func (e *Engine) ClassifyBatch(ctx context.Context, entities []*core.Entity, app core.Applicability) ([]*Classification, error) {
	outcomes, err := e.pool.EvaluateBatch(ctx, entities, core.SelectRules(e.rules, app))
	if err != nil {
		return nil, err
	}

	out := make([]*Classification, len(outcomes))
	for i, outcome := range outcomes {
		out[i] = e.finish(ctx, outcome)
	}
	return out, nil
}

func (e *Engine) finish(ctx context.Context, outcome core.EvaluationOutcome) *Classification {
	report := e.dispatcher.Dispatch(ctx, outcome)
	outcome.Results = core.RedactResults(outcome.Results, e.redaction)
	return &Classification{Outcome: outcome, Report: report}
}

// Stats returns the live statistics of every rule
func (e *Engine) Stats(ctx context.Context) (map[string]core.RuleStats, error) {
	return e.stats.All(ctx)
}

// ReloadDictionaries re-reads the dictionary file, invalidating changed keys
func (e *Engine) ReloadDictionaries() error {
	if e.dictionaries == nil {
		return nil
	}
	return e.dictionaries.Reload()
}

// Store returns the persistence store, nil when persistence is disabled
func (e *Engine) Store() *store.Store {
	return e.store
}

// Close stops the aggregator and closes owned resources
func (e *Engine) Close() error {
	var errs []error
	if e.stats != nil {
		e.stats.Close()
	}
	if e.audit != nil {
		errs = append(errs, e.audit.Close())
	}
	if e.store != nil && e.ownsStore {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
