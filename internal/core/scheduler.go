package core

// scheduler.go runs background maintenance for the service.
//
// The job sweeper forgets finished jobs once they are older than the
// retention window, so their progress and results stop being queryable and
// their memory is released. It is long-running and stops with its context.

import (
	"context"
	"log/slog"
	"time"
)

// SweepConfig holds configuration for the job sweeper.
type SweepConfig struct {
	Retention     time.Duration // How long finished jobs stay queryable (default: 1h)
	CheckInterval time.Duration // How often to sweep (default: 1m)
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	return c
}

// StartJobSweeper periodically removes finished jobs older than the
// retention window. It blocks until ctx is cancelled.
func (s *Service) StartJobSweeper(ctx context.Context, cfg SweepConfig) {
	cfg = cfg.withDefaults()
	slog.Info("job sweeper started",
		"retention", cfg.Retention,
		"interval", cfg.CheckInterval,
	)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job sweeper stopped")
			return
		case <-ticker.C:
			s.sweepJobs(cfg.Retention)
		}
	}
}

// sweepJobs performs one sweep and returns the number of jobs removed.
func (s *Service) sweepJobs(retention time.Duration) int {
	start := time.Now()
	removed := s.removeFinishedJobs(start.Add(-retention))
	if removed > 0 {
		slog.Info("swept finished jobs",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}
