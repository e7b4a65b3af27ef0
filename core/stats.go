package core

import (
	"context"
	"errors"
	"sync"
)

// ErrAggregatorClosed is returned after Close
var ErrAggregatorClosed = errors.New("stats aggregator closed")

// ApplyDelta folds one execution into rule statistics. Every execution counts,
// whether it matched, missed, or failed; the latency average is a running
// mean over all executions.
func ApplyDelta(st RuleStats, d RuleStatsDelta) RuleStats {
	st.ExecutionCount++
	if d.Matched {
		st.SuccessCount++
	}
	st.AvgExecutionTimeMs += (d.LatencyMs() - st.AvgExecutionTimeMs) / float64(st.ExecutionCount)
	if d.ExecutedAt.After(st.LastExecuted) {
		st.LastExecuted = d.ExecutedAt
	}
	return st
}

// statsOp is either a batch of deltas or a query. Both travel on one channel
// so a query always observes the deltas submitted before it.
type statsOp struct {
	deltas []RuleStatsDelta
	query  chan map[string]RuleStats
	ruleID string
}

// StatsAggregator owns rule statistics. Workers submit deltas; a single
// goroutine applies them, so no counter is ever shared between writers.
type StatsAggregator struct {
	ops     chan statsOp
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// owned by run
	stats map[string]RuleStats
}

// NewStatsAggregator starts an aggregator seeded with the rules' stored stats
func NewStatsAggregator(seed []Rule) *StatsAggregator {
	a := &StatsAggregator{
		ops:     make(chan statsOp, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		stats:   make(map[string]RuleStats, len(seed)),
	}
	for _, r := range seed {
		a.stats[r.ID] = r.Stats
	}

	go a.run()
	return a
}

func (a *StatsAggregator) run() {
	defer close(a.stopped)

	for {
		select {
		case op := <-a.ops:
			a.handle(op)
		case <-a.done:
			// drain what was already submitted
			for {
				select {
				case op := <-a.ops:
					a.handle(op)
				default:
					return
				}
			}
		}
	}
}

func (a *StatsAggregator) handle(op statsOp) {
	for _, d := range op.deltas {
		a.stats[d.RuleID] = ApplyDelta(a.stats[d.RuleID], d)
	}
	if op.query != nil {
		op.query <- a.snapshot(op.ruleID)
	}
}

func (a *StatsAggregator) snapshot(ruleID string) map[string]RuleStats {
	if ruleID != "" {
		st, ok := a.stats[ruleID]
		if !ok {
			return map[string]RuleStats{}
		}
		return map[string]RuleStats{ruleID: st}
	}

	all := make(map[string]RuleStats, len(a.stats))
	for k, v := range a.stats {
		all[k] = v
	}
	return all
}

func (a *StatsAggregator) send(ctx context.Context, op statsOp) error {
	select {
	case <-a.done:
		return ErrAggregatorClosed
	default:
	}

	select {
	case a.ops <- op:
		return nil
	case <-a.done:
		return ErrAggregatorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues deltas for application
func (a *StatsAggregator) Submit(ctx context.Context, deltas ...RuleStatsDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	batch := make([]RuleStatsDelta, len(deltas))
	copy(batch, deltas)
	return a.send(ctx, statsOp{deltas: batch})
}

// Stats returns the statistics of one rule
func (a *StatsAggregator) Stats(ctx context.Context, ruleID string) (RuleStats, bool, error) {
	res, err := a.query(ctx, ruleID)
	if err != nil {
		return RuleStats{}, false, err
	}
	st, ok := res[ruleID]
	return st, ok, nil
}

// All returns a copy of every rule's statistics
func (a *StatsAggregator) All(ctx context.Context) (map[string]RuleStats, error) {
	return a.query(ctx, "")
}

func (a *StatsAggregator) query(ctx context.Context, ruleID string) (map[string]RuleStats, error) {
	reply := make(chan map[string]RuleStats, 1)
	if err := a.send(ctx, statsOp{query: reply, ruleID: ruleID}); err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		return res, nil
	case <-a.stopped:
		// the drain in run may still have answered
		select {
		case res := <-reply:
			return res, nil
		default:
			return nil, ErrAggregatorClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the aggregator after applying already submitted deltas
func (a *StatsAggregator) Close() {
	a.once.Do(func() { close(a.done) })
	<-a.stopped
}
