package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/aggregation"
	"github.com/aevon-lab/mailmetrics/internal/core/storage/memory"
	"github.com/aevon-lab/mailmetrics/internal/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 20, 15, 0, 0, 0, time.UTC)

func TestPendingPeriods(t *testing.T) {
	days := PendingPeriods(now, v1.GranularityDay, 3, 2)
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), days[0].Start, "today and yesterday stay live")
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), days[2].Start)

	weeks := PendingPeriods(now, v1.GranularityWeek, 2, 2)
	require.Len(t, weeks, 2)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), weeks[0].Start)
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), weeks[0].End)

	months := PendingPeriods(now, v1.GranularityMonth, 1, 2)
	require.Len(t, months, 1)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), months[0].Start)

	for _, p := range PendingPeriods(now, v1.GranularityYear, 2, 2) {
		assert.True(t, p.Elapsed(now))
	}
}

func TestPendingPeriods_SkipsPeriodsHoldingRealTimeDays(t *testing.T) {
	monday := time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC)
	weeks := PendingPeriods(monday, v1.GranularityWeek, 1, 2)
	require.Len(t, weeks, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), weeks[0].Start, "last week still holds yesterday")

	firstOfMonth := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	months := PendingPeriods(firstOfMonth, v1.GranularityMonth, 1, 2)
	require.Len(t, months, 1)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), months[0].Start)

	months = PendingPeriods(firstOfMonth, v1.GranularityMonth, 1, 1)
	require.Len(t, months, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), months[0].Start)
}

func TestMaterializer_SnapshotMatchesLiveAggregate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &v1.Account{ID: "acc-1", OwnerID: "owner-1", WebhookID: "wh-1"}))
	require.NoError(t, store.CreateAccount(ctx, &v1.Account{ID: "acc-2", OwnerID: "owner-2", WebhookID: "wh-2"}))

	n := 0
	add := func(account, owner string, et v1.EventType, contact string, ts time.Time) {
		n++
		require.NoError(t, store.SaveEvent(ctx, &v1.Event{
			ID: fmt.Sprintf("e%d", n), OwnerID: owner, AccountID: account, MessageID: "m1",
			Type: et, Timestamp: ts, Contact: v1.Contact{ContactID: contact}, ExternalID: fmt.Sprintf("x%d", n),
		}))
	}
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	add("acc-1", "owner-1", v1.EventSend, "c1", day.Add(time.Hour))
	add("acc-1", "owner-1", v1.EventSend, "c2", day.Add(time.Hour))
	add("acc-1", "owner-1", v1.EventOpen, "c1", day.Add(2*time.Hour))
	add("acc-1", "owner-1", v1.EventOpen, "c1", day.Add(3*time.Hour))
	add("acc-2", "owner-2", v1.EventSend, "c9", day.Add(time.Hour))

	live := projection.NewService(store)
	m := NewMaterializer(store, store, live, MaterializerParameter{
		Granularities:   []v1.Granularity{v1.GranularityDay, v1.GranularityWeek},
		LookbackPeriods: 5,
		WorkerCount:     3,
	})
	m.nowFn = func() time.Time { return now }

	stats, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accounts)
	assert.Equal(t, 2*(5+5), stats.Written)
	assert.Zero(t, stats.Failed)

	key := v1.SnapshotKey{OwnerID: "owner-1", AccountID: "acc-1", PeriodStart: day, Granularity: v1.GranularityDay}
	snap, err := store.GetSnapshot(ctx, key)
	require.NoError(t, err)

	fresh, err := live.QueryMetrics(ctx, "owner-1", v1.Scope{AccountID: "acc-1"}, day, aggregation.PeriodEnd(day, v1.GranularityDay))
	require.NoError(t, err)
	assert.Equal(t, fresh, snap.Metrics)
	assert.Equal(t, int64(2), snap.Metrics.SentCount)
	assert.Equal(t, int64(1), snap.Metrics.UniqueOpenCount)
	assert.Equal(t, 100.0, snap.Metrics.OpenRate)
	assert.Equal(t, now, snap.ComputedAt)

	week := aggregation.PeriodStart(day, v1.GranularityWeek)
	weekSnap, err := store.GetSnapshot(ctx, v1.SnapshotKey{OwnerID: "owner-1", AccountID: "acc-1", PeriodStart: week, Granularity: v1.GranularityWeek})
	require.NoError(t, err)
	assert.Equal(t, int64(2), weekSnap.Metrics.SentCount)

	other, err := store.GetSnapshot(ctx, v1.SnapshotKey{OwnerID: "owner-2", AccountID: "acc-2", PeriodStart: day, Granularity: v1.GranularityDay})
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Metrics.SentCount)
}

type mockAggregator struct {
	mock.Mock
}

func (m *mockAggregator) QueryMetrics(ctx context.Context, ownerID string, scope v1.Scope, start, end time.Time) (v1.MetricsBundle, error) {
	args := m.Called(ctx, ownerID, scope, start, end)
	return args.Get(0).(v1.MetricsBundle), args.Error(1)
}

func TestMaterializer_FailedPeriodDoesNotStopRun(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &v1.Account{ID: "acc-1", OwnerID: "owner-1", WebhookID: "wh-1"}))

	failing := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)
	agg := &mockAggregator{}
	agg.On("QueryMetrics", mock.Anything, "owner-1", v1.Scope{AccountID: "acc-1"}, failing, mock.Anything).
		Return(v1.MetricsBundle{}, errors.New("storage unavailable"))
	agg.On("QueryMetrics", mock.Anything, "owner-1", v1.Scope{AccountID: "acc-1"}, mock.Anything, mock.Anything).
		Return(v1.MetricsBundle{SentCount: 3}, nil)

	m := NewMaterializer(store, store, agg, MaterializerParameter{
		Granularities:   []v1.Granularity{v1.GranularityDay},
		LookbackPeriods: 3,
	})
	m.nowFn = func() time.Time { return now }

	stats, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Failed)

	snaps, err := store.ListSnapshots(ctx, "owner-1", "acc-1", "", v1.GranularityDay, failing.AddDate(0, 0, -5), now)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.NotEqual(t, failing, s.Key.PeriodStart)
	}
}

func TestScheduler_RunsImmediatelyAndOnShutdown(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.CreateAccount(ctx, &v1.Account{ID: "acc-1", OwnerID: "owner-1", WebhookID: "wh-1"}))

	agg := &mockAggregator{}
	agg.On("QueryMetrics", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(v1.MetricsBundle{SentCount: 1}, nil)

	m := NewMaterializer(store, store, agg, MaterializerParameter{
		Granularities:   []v1.Granularity{v1.GranularityDay},
		LookbackPeriods: 1,
	})
	m.nowFn = func() time.Time { return now }

	done := make(chan error, 1)
	go func() { done <- NewScheduler(time.Hour, m).Start(ctx) }()

	require.Eventually(t, func() bool {
		snaps, _ := store.ListSnapshots(context.Background(), "owner-1", "acc-1", "", v1.GranularityDay, now.AddDate(0, 0, -7), now)
		return len(snaps) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	agg.AssertNumberOfCalls(t, "QueryMetrics", 2)
}
