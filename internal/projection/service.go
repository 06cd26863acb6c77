package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/aggregation"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// MetricSentCount ranks compared scopes by volume instead of a rate.
const MetricSentCount = "sent_count"

const (
	defaultMaxParallel  = 8
	defaultRealTimeDays = 2
	maxTimelinePoints   = 1000
	maxCompareScopes    = 50
)

var (
	// ErrInvalidWindow marks a window with end not after start, or an unsupported granularity.
	ErrInvalidWindow = errors.New("invalid aggregation window")

	// ErrInvalidQuery marks any other request validation error. Both map to HTTP 400.
	ErrInvalidQuery = errors.New("invalid metrics query")
)

type Option func(s *Service)

// WithSnapshots enables the snapshot read path for elapsed timeline periods.
func WithSnapshots(store storage.SnapshotStore) Option {
	return func(s *Service) { s.snapshots = store }
}

// WithMaxParallel bounds the per-period and per-scope fan-out.
func WithMaxParallel(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// WithRealTimeDays sets how many trailing days (today included) are always computed live.
func WithRealTimeDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.realTimeDays = days
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFn = now }
}

// Service answers metrics queries from the event log, reading materialized
// snapshots for fully elapsed historical periods. It never writes events.
type Service struct {
	events       storage.EventStore
	snapshots    storage.SnapshotStore
	maxParallel  int
	realTimeDays int
	nowFn        func() time.Time
}

// NewService creates a new projection service.
func NewService(events storage.EventStore, opts ...Option) *Service {
	if events == nil {
		panic("projection: event store must not be nil")
	}
	s := &Service{
		events:       events,
		maxParallel:  defaultMaxParallel,
		realTimeDays: defaultRealTimeDays,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryMetrics aggregates the owner's events in scope over [start, end).
// No matching events yields an all-zero bundle.
func (s *Service) QueryMetrics(ctx context.Context, ownerID string, scope v1.Scope, start, end time.Time) (v1.MetricsBundle, error) {
	if err := validateWindow(ownerID, start, end); err != nil {
		return v1.MetricsBundle{}, err
	}
	return s.aggregate(ctx, ownerID, scope, start, end)
}

func (s *Service) aggregate(ctx context.Context, ownerID string, scope v1.Scope, start, end time.Time) (v1.MetricsBundle, error) {
	counts, err := s.events.CountEvents(ctx, storage.EventFilter{
		OwnerID: ownerID,
		Scope:   scope,
		Start:   start,
		End:     end,
	})
	if err != nil {
		return v1.MetricsBundle{}, fmt.Errorf("count events: %w", err)
	}
	return aggregation.Compute(counts), nil
}

// QueryTimeline splits [start, end) into calendar periods and aggregates each.
func (s *Service) QueryTimeline(
	ctx context.Context,
	ownerID string,
	scope v1.Scope,
	start, end time.Time,
	granularity v1.Granularity,
) (*Timeline, error) {
	if err := validateWindow(ownerID, start, end); err != nil {
		return nil, err
	}
	if !granularity.Valid() {
		return nil, fmt.Errorf("%w: unsupported granularity %q", ErrInvalidWindow, granularity)
	}

	periods := aggregation.Periods(start, end, granularity)
	if len(periods) > maxTimelinePoints {
		return nil, invalidQueryf("window spans %d %s periods, limit is %d", len(periods), granularity, maxTimelinePoints)
	}

	now := s.nowFn()
	timeline := &Timeline{
		OwnerID:     ownerID,
		Scope:       scope,
		Start:       start,
		End:         end,
		Granularity: granularity,
		Points:      make([]TimelinePoint, len(periods)),
	}

	useSnapshots := s.snapshots != nil && snapshotScope(scope)
	eligible := make([]bool, len(periods))
	var stable []aggregation.Period
	for i, p := range periods {
		eligible[i] = useSnapshots && p.Elapsed(now) && !p.IsRealTime(now, s.realTimeDays) && !p.Clipped(start, end)
		if eligible[i] {
			stable = append(stable, p)
		}
	}
	stored := s.loadSnapshots(ctx, ownerID, scope.AccountID, granularity, stable)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	g.Go(func() error {
		totals, err := s.aggregate(gctx, ownerID, scope, start, end)
		if err != nil {
			return err
		}
		timeline.Totals = totals
		return nil
	})

	for i, p := range periods {
		i, p := i, p
		g.Go(func() error {
			point := TimelinePoint{
				PeriodStart: maxTime(p.Start, start),
				PeriodEnd:   minTime(p.End, end),
				IsRealTime:  p.IsRealTime(now, s.realTimeDays),
			}
			if snap, ok := stored[p.Start.Unix()]; ok {
				point.Metrics = snap.Metrics
				point.FromSnapshot = true
				timeline.Points[i] = point
				return nil
			}

			bundle, err := s.aggregate(gctx, ownerID, scope, point.PeriodStart, point.PeriodEnd)
			if err != nil {
				return fmt.Errorf("period %s: %w", p.Start.Format(time.RFC3339), err)
			}
			point.Metrics = bundle
			timeline.Points[i] = point

			if eligible[i] {
				s.storeSnapshot(gctx, ownerID, scope.AccountID, granularity, p, bundle, now)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return timeline, nil
}

// loadSnapshots reads the stored snapshots for the given ascending, stable periods,
// keyed by period start. A single period is a key lookup, more is one range read.
// Read failures are logged and the periods are computed live.
func (s *Service) loadSnapshots(
	ctx context.Context,
	ownerID string,
	accountID string,
	granularity v1.Granularity,
	periods []aggregation.Period,
) map[int64]*v1.Snapshot {
	out := make(map[int64]*v1.Snapshot, len(periods))
	switch len(periods) {
	case 0:
		return out
	case 1:
		snap, err := s.snapshots.GetSnapshot(ctx, v1.SnapshotKey{
			OwnerID:     ownerID,
			AccountID:   accountID,
			PeriodStart: periods[0].Start,
			Granularity: granularity,
		})
		switch {
		case err == nil:
			out[snap.Key.PeriodStart.Unix()] = snap
		case !errors.Is(err, storage.ErrNotFound):
			slog.Warn("[Projection] Snapshot read failed, computing live", "period_start", periods[0].Start, "granularity", granularity, "error", err)
		}
		return out
	}

	first, last := periods[0], periods[len(periods)-1]
	snaps, err := s.snapshots.ListSnapshots(ctx, ownerID, accountID, "", granularity, first.Start, last.End)
	if err != nil {
		slog.Warn("[Projection] Snapshot range read failed, computing live",
			"from", first.Start, "to", last.End, "granularity", granularity, "error", err)
		return out
	}
	for _, snap := range snaps {
		out[snap.Key.PeriodStart.Unix()] = snap
	}
	return out
}

func (s *Service) storeSnapshot(
	ctx context.Context,
	ownerID string,
	accountID string,
	granularity v1.Granularity,
	p aggregation.Period,
	bundle v1.MetricsBundle,
	now time.Time,
) {
	err := s.snapshots.UpsertSnapshot(ctx, &v1.Snapshot{
		Key: v1.SnapshotKey{
			OwnerID:     ownerID,
			AccountID:   accountID,
			PeriodStart: p.Start,
			Granularity: granularity,
		},
		Metrics:    bundle,
		ComputedAt: now,
	})
	if err != nil {
		slog.Warn("[Projection] Failed to store snapshot", "period_start", p.Start, "granularity", granularity, "error", err)
	}
}

// CompareScopes aggregates each scope over the same window and ranks them by metric.
// Ties go to the larger send volume, then to the earlier scope in the request.
func (s *Service) CompareScopes(
	ctx context.Context,
	ownerID string,
	scopes []v1.Scope,
	start, end time.Time,
	metric string,
) (*Comparison, error) {
	if err := validateWindow(ownerID, start, end); err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, invalidQueryf("at least one scope is required")
	}
	if len(scopes) > maxCompareScopes {
		return nil, invalidQueryf("%d scopes requested, limit is %d", len(scopes), maxCompareScopes)
	}
	if metric == "" {
		metric = aggregation.MetricOpenRate
	}
	if metric != MetricSentCount && !aggregation.ValidMetric(metric) {
		return nil, invalidQueryf("unknown metric %q", metric)
	}

	results := make([]ScopeResult, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for i, scope := range scopes {
		i, scope := i, scope
		g.Go(func() error {
			bundle, err := s.aggregate(gctx, ownerID, scope, start, end)
			if err != nil {
				return fmt.Errorf("scope %d: %w", i, err)
			}
			results[i] = ScopeResult{
				Index:   i,
				Scope:   scope,
				Value:   metricValue(bundle, metric),
				Metrics: bundle,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		if a.Metrics.SentCount != b.Metrics.SentCount {
			return a.Metrics.SentCount > b.Metrics.SentCount
		}
		return a.Index < b.Index
	})

	cmp := &Comparison{
		OwnerID: ownerID,
		Metric:  metric,
		Start:   start,
		End:     end,
		Results: results,
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	for i := range results {
		if results[i].Metrics.SentCount > 0 {
			best := results[i]
			cmp.BestPerformer = &best
			break
		}
	}
	return cmp, nil
}

func metricValue(b v1.MetricsBundle, metric string) float64 {
	if metric == MetricSentCount {
		return float64(b.SentCount)
	}
	v, _ := aggregation.Value(b, metric)
	return v
}

// snapshotScope reports whether a scope is served from account-level snapshots:
// an account with no message narrowing. Message scopes are always computed live.
func snapshotScope(scope v1.Scope) bool {
	if scope.AccountID == "" || scope.MessageID != "" {
		return false
	}
	for _, id := range scope.MessageIDs {
		if id != "" {
			return false
		}
	}
	return true
}

func validateWindow(ownerID string, start, end time.Time) error {
	if ownerID == "" {
		return invalidQueryf("owner_id is required")
	}
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidWindow)
	}
	return nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
