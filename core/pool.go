package core

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// PoolConfig configures a Pool
type PoolConfig struct {
	Evaluator *Evaluator

	// Stats receives every outcome's deltas; optional
	Stats *StatsAggregator

	// Workers bounds concurrent evaluations; GOMAXPROCS when zero
	Workers int

	Logger *slog.Logger
}

// Pool evaluates batches of entities concurrently against one rule list
type Pool struct {
	evaluator *Evaluator
	stats     *StatsAggregator
	workers   int
	logger    *slog.Logger
}

// NewPool creates a worker pool
func NewPool(config PoolConfig) *Pool {
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Pool{
		evaluator: config.Evaluator,
		stats:     config.Stats,
		workers:   config.Workers,
		logger:    config.Logger,
	}
}

// EvaluateBatch evaluates every entity and returns outcomes in input order.
// Rules are shared read-only between workers; statistics flow to the
// aggregator as deltas.
func (p *Pool) EvaluateBatch(ctx context.Context, entities []*Entity, rules []Rule) ([]EvaluationOutcome, error) {
	outcomes := make([]EvaluationOutcome, len(entities))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, entity := range entities {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			outcome, err := p.evaluator.Evaluate(ctx, entity, rules)
			if err != nil {
				return err
			}
			outcomes[i] = outcome

			if p.stats != nil {
				if err := p.stats.Submit(ctx, outcome.UpdatedRuleStats...); err != nil {
					p.logger.Warn("failed to submit rule stats",
						slog.String("entity_id", outcome.EntityID),
						slog.Any("error", err),
					)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
