package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
)

// Pruner deletes journal rows older than a retention window on a schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	clk       clock.Clock
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

// StartPruner prunes once immediately, then every interval.
func StartPruner(store *Store, retention, interval time.Duration, logger *slog.Logger) (*Pruner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	p := &Pruner{
		store:     store,
		retention: retention,
		clk:       clock.New(),
		logger:    logger,
		scheduler: s,
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.run),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule prune: %w", err)
	}
	s.Start()
	return p, nil
}

func (p *Pruner) run() {
	if _, err := p.PruneNow(context.Background()); err != nil {
		p.logger.Warn("journal prune failed", "error", err)
	}
}

// PruneNow deletes rows older than the retention window.
func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	n, err := p.store.Prune(ctx, p.clk.Now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Debug("journal pruned", "rows", n)
	}
	return n, nil
}

// Stop shuts down the scheduler and waits for a running prune.
func (p *Pruner) Stop() error {
	if err := p.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop pruner: %w", err)
	}
	return nil
}
