package v1

import (
	"fmt"
	"strings"
	"time"
)

// EventType is the canonical engagement event kind.
type EventType string

const (
	EventSend        EventType = "send"
	EventDelivery    EventType = "delivery"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventUnsubscribe EventType = "unsubscribe"
	EventComplaint   EventType = "complaint"
)

// EventTypes lists every canonical event type in reporting order.
var EventTypes = []EventType{
	EventSend,
	EventDelivery,
	EventOpen,
	EventClick,
	EventBounce,
	EventUnsubscribe,
	EventComplaint,
}

// Valid reports whether t is one of the canonical event types.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsInteraction reports whether the type is tracked for first-interaction stamping.
func (t EventType) IsInteraction() bool {
	return t == EventOpen || t == EventClick
}

// BounceType classifies a bounce by its effect on deliverability.
type BounceType string

const (
	BounceHard         BounceType = "hard"
	BounceSoft         BounceType = "soft"
	BounceBlock        BounceType = "block"
	BounceUndetermined BounceType = "undetermined"
)

// Contact identifies the recipient an event is about.
type Contact struct {
	Email     string `json:"email,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
}

// Key returns the identity used for dedup and distinct counting:
// the provider contact id when present, otherwise the lowercased email.
func (c Contact) Key() string {
	if id := strings.TrimSpace(c.ContactID); id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// Event is the append-only engagement fact.
// Events are written once by ingestion and never updated.
type Event struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	AccountID string    `json:"account_id"`
	MessageID string    `json:"message_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Contact   Contact   `json:"contact"`

	// ExternalID is the provider's own event id; (OwnerID, ExternalID) is unique.
	ExternalID string `json:"external_id"`

	// IsFirstInteraction is stamped at write time for open/click. Advisory only.
	IsFirstInteraction bool `json:"is_first_interaction"`

	// UniqueIdentifier is the derived logical identity key. Empty means absent;
	// absent keys never collide with each other.
	UniqueIdentifier string `json:"unique_identifier,omitempty"`

	URL          string     `json:"url,omitempty"`
	BounceType   BounceType `json:"bounce_type,omitempty"`
	BounceReason string     `json:"bounce_reason,omitempty"`

	Provider   Provider  `json:"provider"`
	IngestedAt time.Time `json:"ingested_at"`

	// IngestSeq is assigned by the database and only used for ordering.
	IngestSeq int64 `json:"-"`
}

// Validate ensures the event carries everything the store needs.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if e.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if e.MessageID == "" {
		return fmt.Errorf("message_id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
	if e.ExternalID == "" {
		return fmt.Errorf("external_id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
