package aggregation

import (
	"testing"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounts_AddAndGet(t *testing.T) {
	var c Counts
	for _, et := range v1.EventTypes {
		c.Add(et, 2)
	}
	c.Add("viewed", 5)
	c.AddUnique(v1.EventOpen, 1)
	c.AddUnique(v1.EventClick, 1)
	c.AddUnique(v1.EventSend, 9)

	for _, et := range v1.EventTypes {
		assert.Equal(t, int64(2), c.Get(et), et)
	}
	assert.Equal(t, int64(0), c.Get("viewed"))
	assert.Equal(t, int64(1), c.UniqueOpen)
	assert.Equal(t, int64(1), c.UniqueClick)
}

func TestCounts_Merge(t *testing.T) {
	a := Counts{Sent: 1, Open: 2, UniqueOpen: 1}
	a.Merge(Counts{Sent: 3, Open: 1, UniqueOpen: 1, Complaint: 1})
	require.Equal(t, Counts{Sent: 4, Open: 3, UniqueOpen: 2, Complaint: 1}, a)
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		check  func(t *testing.T, b v1.MetricsBundle)
	}{
		{
			name:   "empty counts give zero rates",
			counts: Counts{},
			check: func(t *testing.T, b v1.MetricsBundle) {
				assert.Equal(t, v1.MetricsBundle{}, b)
			},
		},
		{
			name:   "send and open without delivery",
			counts: Counts{Sent: 1, Open: 1, UniqueOpen: 1},
			check: func(t *testing.T, b v1.MetricsBundle) {
				assert.Equal(t, int64(1), b.SentCount)
				assert.Equal(t, 100.0, b.OpenRate)
				assert.Equal(t, 100.0, b.UniqueOpenRate)
				assert.Equal(t, 0.0, b.UnsubscribeRate)
				assert.Equal(t, 0.0, b.DeliveryRate)
			},
		},
		{
			name: "mixed traffic",
			counts: Counts{
				Sent: 3, Delivered: 2, Open: 2, UniqueOpen: 1,
				Click: 1, UniqueClick: 1, Bounce: 1, Unsubscribe: 1,
			},
			check: func(t *testing.T, b v1.MetricsBundle) {
				assert.Equal(t, 66.67, b.OpenRate)
				assert.Equal(t, 33.33, b.UniqueOpenRate)
				assert.Equal(t, 33.33, b.ClickRate)
				assert.Equal(t, 100.0, b.ClickToOpenRate)
				assert.Equal(t, 33.33, b.BounceRate)
				assert.Equal(t, 50.0, b.UnsubscribeRate)
				assert.Equal(t, 66.67, b.DeliveryRate)
			},
		},
		{
			name:   "unique rates stay within bounds",
			counts: Counts{Sent: 7, Open: 30, UniqueOpen: 7, Click: 12, UniqueClick: 5},
			check: func(t *testing.T, b v1.MetricsBundle) {
				assert.LessOrEqual(t, b.UniqueOpenRate, 100.0)
				assert.LessOrEqual(t, b.UniqueClickRate, 100.0)
				assert.GreaterOrEqual(t, b.UniqueClickRate, 0.0)
				assert.Equal(t, 428.57, b.OpenRate)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, Compute(tc.counts))
		})
	}
}

func TestValue(t *testing.T) {
	b := Compute(Counts{Sent: 4, Open: 1, UniqueOpen: 1})

	v, ok := Value(b, MetricOpenRate)
	require.True(t, ok)
	require.Equal(t, 25.0, v)

	_, ok = Value(b, "revenue")
	require.False(t, ok)

	require.True(t, ValidMetric(MetricClickToOpenRate))
	require.False(t, ValidMetric(""))
}

func TestCountsFromBundle_RoundTripsCounts(t *testing.T) {
	c := Counts{Sent: 9, Delivered: 8, Open: 7, UniqueOpen: 6, Click: 5, UniqueClick: 4, Bounce: 3, Unsubscribe: 2, Complaint: 1}
	require.Equal(t, c, CountsFromBundle(Compute(c)))
}
