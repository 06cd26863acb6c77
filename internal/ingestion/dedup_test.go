package ingestion

import (
	"context"
	"testing"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKey(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base := func(et v1.EventType) *v1.Event {
		return &v1.Event{
			MessageID: "m1",
			Type:      et,
			Timestamp: ts,
			Contact:   v1.Contact{ContactID: "c1", Email: "a@example.com"},
		}
	}

	t.Run("send has no key", func(t *testing.T) {
		assert.Empty(t, IdentityKey(base(v1.EventSend)))
	})

	t.Run("no contact identity has no key", func(t *testing.T) {
		evt := base(v1.EventOpen)
		evt.Contact = v1.Contact{}
		assert.Empty(t, IdentityKey(evt))
	})

	t.Run("delivery ignores timestamp", func(t *testing.T) {
		a := base(v1.EventDelivery)
		b := base(v1.EventDelivery)
		b.Timestamp = ts.Add(time.Hour)
		assert.Equal(t, IdentityKey(a), IdentityKey(b))
		assert.Len(t, IdentityKey(a), 64)
	})

	t.Run("open collides within the same second only", func(t *testing.T) {
		a := base(v1.EventOpen)
		b := base(v1.EventOpen)
		b.Timestamp = ts.Add(400 * time.Millisecond)
		assert.Equal(t, IdentityKey(a), IdentityKey(b))

		b.Timestamp = ts.Add(2 * time.Second)
		assert.NotEqual(t, IdentityKey(a), IdentityKey(b))
	})

	t.Run("click includes url", func(t *testing.T) {
		a := base(v1.EventClick)
		a.URL = "https://shop.test/a"
		b := base(v1.EventClick)
		b.URL = "https://shop.test/b"
		assert.NotEqual(t, IdentityKey(a), IdentityKey(b))
	})

	t.Run("click ignores timestamp", func(t *testing.T) {
		a := base(v1.EventClick)
		a.URL = "https://shop.test/a"
		b := base(v1.EventClick)
		b.URL = "https://shop.test/a"
		b.Timestamp = ts.Add(time.Minute)
		assert.Equal(t, IdentityKey(a), IdentityKey(b))
	})

	t.Run("type, message and contact all matter", func(t *testing.T) {
		open := IdentityKey(base(v1.EventOpen))
		click := base(v1.EventClick)
		assert.NotEqual(t, open, IdentityKey(click))

		other := base(v1.EventOpen)
		other.MessageID = "m2"
		assert.NotEqual(t, open, IdentityKey(other))

		byEmail := base(v1.EventOpen)
		byEmail.Contact.ContactID = ""
		assert.NotEqual(t, open, IdentityKey(byEmail))
	})
}

func TestClassifier_IsFirstInteraction(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := NewClassifier(store, 0)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	open := &v1.Event{
		ID: "e1", OwnerID: "o", AccountID: "a", MessageID: "m1", ExternalID: "x1",
		Type: v1.EventOpen, Timestamp: ts, Contact: v1.Contact{ContactID: "c1"},
	}

	first, err := c.IsFirstInteraction(ctx, open)
	require.NoError(t, err)
	require.True(t, first)
	require.NoError(t, store.SaveEvent(ctx, open))

	later := *open
	later.ID, later.ExternalID, later.Timestamp = "e2", "x2", ts.Add(time.Minute)
	first, err = c.IsFirstInteraction(ctx, &later)
	require.NoError(t, err)
	assert.False(t, first)

	earlier := *open
	earlier.ID, earlier.ExternalID, earlier.Timestamp = "e3", "x3", ts.Add(-time.Minute)
	first, err = c.IsFirstInteraction(ctx, &earlier)
	require.NoError(t, err)
	assert.True(t, first, "nothing precedes an earlier out-of-order event")

	click := later
	click.Type = v1.EventClick
	first, err = c.IsFirstInteraction(ctx, &click)
	require.NoError(t, err)
	assert.True(t, first, "types are classified independently")

	send := later
	send.Type = v1.EventSend
	first, err = c.IsFirstInteraction(ctx, &send)
	require.NoError(t, err)
	assert.False(t, first)

	anonymous := later
	anonymous.Contact = v1.Contact{}
	first, err = c.IsFirstInteraction(ctx, &anonymous)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestClassifier_IsRefire(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 900_000_000, time.UTC)

	open := &v1.Event{
		ID: "e1", OwnerID: "o", AccountID: "a", MessageID: "m1", ExternalID: "x1",
		Type: v1.EventOpen, Timestamp: ts, Contact: v1.Contact{ContactID: "c1"},
	}
	require.NoError(t, store.SaveEvent(ctx, open))

	next := func(ext string, d time.Duration) *v1.Event {
		e := *open
		e.ID, e.ExternalID, e.Timestamp = "e-"+ext, ext, ts.Add(d)
		return &e
	}

	c := NewClassifier(store, 2*time.Second)

	tests := []struct {
		name string
		evt  *v1.Event
		want bool
	}{
		{"across a second boundary", next("x2", 200*time.Millisecond), true},
		{"arriving out of order", next("x3", -1500*time.Millisecond), true},
		{"minutes later", next("x4", 3*time.Minute), false},
		{"other contact", func() *v1.Event {
			e := next("x5", 100*time.Millisecond)
			e.Contact = v1.Contact{ContactID: "c2"}
			return e
		}(), false},
		{"clicks are not re-fires", func() *v1.Event {
			e := next("x6", 100*time.Millisecond)
			e.Type = v1.EventClick
			return e
		}(), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.IsRefire(ctx, tc.evt)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	disabled, err := NewClassifier(store, 0).IsRefire(ctx, next("x7", 200*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, disabled)
}
