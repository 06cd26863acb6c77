package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/aggregation"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLookbackPeriods = 7
	defaultRealTimeDays    = 2
	defaultWorkerCount     = 4
)

// Aggregator computes a live bundle from the event log.
type Aggregator interface {
	QueryMetrics(ctx context.Context, ownerID string, scope v1.Scope, start, end time.Time) (v1.MetricsBundle, error)
}

// MaterializerParameter controls which periods are recomputed per run.
type MaterializerParameter struct {
	Granularities   []v1.Granularity
	LookbackPeriods int
	RealTimeDays    int
	WorkerCount     int
}

func (o MaterializerParameter) normalized() MaterializerParameter {
	n := o
	if len(n.Granularities) == 0 {
		n.Granularities = v1.Granularities
	}
	if n.LookbackPeriods <= 0 {
		n.LookbackPeriods = defaultLookbackPeriods
	}
	if n.RealTimeDays <= 0 {
		n.RealTimeDays = defaultRealTimeDays
	}
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	return n
}

// RunStats reports what one materializer run did.
type RunStats struct {
	Accounts int
	Written  int
	Failed   int
}

// Materializer recomputes account-level snapshots for the most recent fully
// elapsed, non-real-time periods and replaces whatever was stored.
type Materializer struct {
	accounts   storage.AccountStore
	snapshots  storage.SnapshotStore
	aggregator Aggregator
	opts       MaterializerParameter
	nowFn      func() time.Time
}

func NewMaterializer(
	accounts storage.AccountStore,
	snapshots storage.SnapshotStore,
	aggregator Aggregator,
	opts MaterializerParameter,
) *Materializer {
	return &Materializer{
		accounts:   accounts,
		snapshots:  snapshots,
		aggregator: aggregator,
		opts:       opts.normalized(),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Run materializes every account. A failed period is logged and counted; the
// run continues. Only listing accounts or cancellation fails the run.
func (m *Materializer) Run(ctx context.Context) (RunStats, error) {
	accounts, err := m.accounts.ListAccounts(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("list accounts: %w", err)
	}

	now := m.nowFn()
	var written, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.WorkerCount)

	for _, acc := range accounts {
		for _, gran := range m.opts.Granularities {
			for _, p := range PendingPeriods(now, gran, m.opts.LookbackPeriods, m.opts.RealTimeDays) {
				acc, gran, p := acc, gran, p
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					if err := m.materialize(gctx, acc, gran, p, now); err != nil {
						failed.Add(1)
						slog.Error("[Materializer] Snapshot failed",
							"account_id", acc.ID,
							"granularity", gran,
							"period_start", p.Start,
							"error", err,
						)
						return nil
					}
					written.Add(1)
					return nil
				})
			}
		}
	}

	waitErr := g.Wait()
	stats := RunStats{Accounts: len(accounts), Written: int(written.Load()), Failed: int(failed.Load())}
	if waitErr != nil {
		return stats, waitErr
	}

	slog.Info("[Materializer] Run complete",
		"accounts", stats.Accounts,
		"written", stats.Written,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (m *Materializer) materialize(ctx context.Context, acc *v1.Account, gran v1.Granularity, p aggregation.Period, now time.Time) error {
	bundle, err := m.aggregator.QueryMetrics(ctx, acc.OwnerID, v1.Scope{AccountID: acc.ID}, p.Start, p.End)
	if err != nil {
		return err
	}
	return m.snapshots.UpsertSnapshot(ctx, &v1.Snapshot{
		Key: v1.SnapshotKey{
			OwnerID:     acc.OwnerID,
			AccountID:   acc.ID,
			PeriodStart: p.Start,
			Granularity: gran,
		},
		Metrics:    bundle,
		ComputedAt: now,
	})
}

// PendingPeriods returns up to lookback of the latest periods that have fully
// elapsed and are outside the real-time window, newest first.
func PendingPeriods(now time.Time, g v1.Granularity, lookback, realTimeDays int) []aggregation.Period {
	out := make([]aggregation.Period, 0, lookback)
	start := aggregation.PeriodStart(now, g)
	for i := 0; len(out) < lookback && i < lookback+realTimeDays+1; i++ {
		p := aggregation.Period{Start: start, End: aggregation.PeriodEnd(start, g)}
		if p.Elapsed(now) && !p.IsRealTime(now, realTimeDays) {
			out = append(out, p)
		}
		start = aggregation.PeriodStart(start.Add(-time.Nanosecond), g)
	}
	return out
}
