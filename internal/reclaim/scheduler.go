package reclaim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/pmbus/internal/observability"
)

// Scheduler runs Reclaimer sweeps on a fixed interval.
type Scheduler struct {
	scheduler gocron.Scheduler
	reclaimer *Reclaimer
	ctx       context.Context
}

// NewScheduler creates a scheduler that sweeps every interval once started.
// Sweeps never overlap; a sweep still running when the next is due delays it.
func NewScheduler(r *Reclaimer, interval time.Duration) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	sch := &Scheduler{scheduler: s, reclaimer: r, ctx: context.Background()}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sch.sweep),
		gocron.WithName("reclaim-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create reclaim job: %w", err)
	}
	return sch, nil
}

// Start begins sweeping. Sweeps run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	observability.Log(ctx, s.reclaimer.logger, slog.LevelInfo, "Starting reclaim scheduler")
	s.scheduler.Start()
}

// Stop waits for a running sweep and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	observability.Log(s.ctx, s.reclaimer.logger, slog.LevelInfo, "Stopping reclaim scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) sweep() {
	if s.ctx.Err() != nil {
		return
	}
	_, _ = s.reclaimer.Sweep(s.ctx)
}
