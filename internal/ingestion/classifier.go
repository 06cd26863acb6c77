package ingestion

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
)

// Classifier stamps opens and clicks that are the contact's first of their
// type on a message. The check and the later insert are not atomic, so two
// distinct concurrent interactions may both be stamped; the flag only feeds
// the message summary cache.
type Classifier struct {
	events       storage.EventStore
	refireWindow time.Duration
}

func NewClassifier(events storage.EventStore, refireWindow time.Duration) *Classifier {
	return &Classifier{events: events, refireWindow: refireWindow}
}

// IsRefire reports whether the contact already opened the message within the
// re-fire window around the event. Pixels re-fired by mail clients arrive with
// a fresh provider id and a timestamp that may straddle a second boundary, so
// the identity key alone misses them.
func (c *Classifier) IsRefire(ctx context.Context, evt *v1.Event) (bool, error) {
	if evt.Type != v1.EventOpen || c.refireWindow <= 0 {
		return false, nil
	}
	contact := evt.Contact.Key()
	if contact == "" {
		return false, nil
	}

	near, err := c.events.HasInteractionBetween(ctx, evt.OwnerID, contact, evt.MessageID, evt.Type,
		evt.Timestamp.Add(-c.refireWindow), evt.Timestamp.Add(c.refireWindow))
	if err != nil {
		return false, fmt.Errorf("checking open re-fire: %w", err)
	}
	return near, nil
}

// IsFirstInteraction reports whether no earlier event of the same type exists
// for the event's contact and message. Non-interaction types and events
// without a contact identity are never first.
func (c *Classifier) IsFirstInteraction(ctx context.Context, evt *v1.Event) (bool, error) {
	if !evt.Type.IsInteraction() {
		return false, nil
	}
	contact := evt.Contact.Key()
	if contact == "" {
		return false, nil
	}

	prior, err := c.events.HasPriorInteraction(ctx, evt.OwnerID, contact, evt.MessageID, evt.Type, evt.Timestamp)
	if err != nil {
		return false, fmt.Errorf("classifying first interaction: %w", err)
	}
	return !prior, nil
}
