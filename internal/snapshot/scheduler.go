package snapshot

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs the materializer on a fixed interval.
// It is stateless: each tick recomputes its periods from the event log.
type Scheduler struct {
	interval     time.Duration
	materializer *Materializer
}

func NewScheduler(interval time.Duration, materializer *Materializer) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{interval: interval, materializer: materializer}
}

// Start materializes once immediately, then on every tick until ctx is cancelled,
// with a final bounded run on shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting snapshot scheduler",
		"interval", s.interval,
		"lookback_periods", s.materializer.opts.LookbackPeriods,
		"workers", s.materializer.opts.WorkerCount,
	)

	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final materialization before shutdown...")
			s.runOnce(shutdownCtx)
			slog.Info("[Scheduler] Final materialization complete")

			return nil
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.materializer.Run(ctx); err != nil {
		slog.Error("[Scheduler] Materialization failed", "error", err)
	}
}
