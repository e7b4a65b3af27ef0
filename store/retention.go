package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule prunes once a day at 03:00
const DefaultRetentionSchedule = "0 3 * * *"

// Pruner deletes classification results older than a retention window on a
// cron schedule. Audit events are never pruned.
type Pruner struct {
	store     *Store
	retention time.Duration
	scheduler *cron.Cron
	logger    *slog.Logger

	now func() time.Time
}

// NewPruner creates a pruner keeping results for retention
func NewPruner(s *Store, retention time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     s,
		retention: retention,
		scheduler: cron.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules pruning using a standard five-field cron expression
func (p *Pruner) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}

	_, err := p.scheduler.AddFunc(schedule, func() {
		_, _ = p.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	p.scheduler.Start()
	p.logger.Info("result retention scheduled",
		slog.String("schedule", schedule),
		slog.Duration("retention", p.retention),
	)
	return nil
}

// Stop stops the scheduler and waits for a running prune to finish
func (p *Pruner) Stop() {
	<-p.scheduler.Stop().Done()
}

// RunOnce deletes every result created before now minus the retention window
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)

	n, err := p.store.PruneResults(ctx, cutoff)
	if err != nil {
		p.logger.Error("failed to prune results", slog.Time("cutoff", cutoff), slog.Any("error", err))
		return 0, fmt.Errorf("prune results: %w", err)
	}

	p.logger.Debug("pruned results", slog.Time("cutoff", cutoff), slog.Int64("deleted", n))
	return n, nil
}
