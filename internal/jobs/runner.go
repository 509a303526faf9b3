package jobs

import (
	"context"
	"log/slog"
	"time"

	"dubhub/internal/config"
)

// Runner drives the periodic recovery pass and retention cleanup. It runs
// one pass immediately so jobs that finished while the service was down
// are reconciled at startup.
type Runner struct {
	cfg      *config.Config
	store    Store
	recovery *Recovery
	log      *slog.Logger
}

func NewRunner(cfg *config.Config, st Store, recovery *Recovery, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, store: st, recovery: recovery, log: log}
}

// Start launches the worker loop in the current goroutine. Callers
// typically run this in its own goroutine and keep the process alive.
func (r *Runner) Start(ctx context.Context) {
	interval := time.Duration(r.cfg.Worker.RecoveryIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	var lastCleanup time.Time

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.recovery.Run(ctx, nil)

		// Periodically run TTL cleanup for cancelled jobs.
		if r.cfg.Retention.Enabled {
			now := time.Now().UTC()
			if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
				stats := CleanupExpiredData(ctx, r.cfg, r.store)
				if len(stats.JobsDeleted) > 0 {
					r.log.Info("retention cleanup", "deleted", stats.JobsDeleted)
				}
				lastCleanup = now
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
