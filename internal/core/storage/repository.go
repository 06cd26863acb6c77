package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/aggregation"
)

var (
	// ErrDuplicate is returned when an insert trips either uniqueness guard:
	// (owner_id, external_id) or the sparse unique_identifier index.
	ErrDuplicate = errors.New("event already exists")

	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable marks transient storage failures (timeouts, lost connections).
	// Callers own the retry policy; the store never retries writes itself.
	ErrUnavailable = errors.New("storage unavailable")
)

// EventFilter selects events for counting. The window is [Start, End).
type EventFilter struct {
	OwnerID string
	Scope   v1.Scope
	Start   time.Time
	End     time.Time
}

// EventStore is the append-only engagement log.
type EventStore interface {
	// SaveEvent inserts the event and populates IngestSeq.
	// Returns ErrDuplicate when either uniqueness guard rejects the insert.
	SaveEvent(ctx context.Context, event *v1.Event) error

	// HasPriorInteraction reports whether an event of the same type exists for the
	// same contact and message with a timestamp strictly before `before`.
	HasPriorInteraction(
		ctx context.Context,
		ownerID string,
		contactKey string,
		messageID string,
		eventType v1.EventType,
		before time.Time,
	) (bool, error)

	// HasInteractionBetween reports whether an event of the same type exists for the
	// same contact and message with a timestamp in [from, to].
	HasInteractionBetween(
		ctx context.Context,
		ownerID string,
		contactKey string,
		messageID string,
		eventType v1.EventType,
		from, to time.Time,
	) (bool, error)

	// CountEvents returns per-type counts and distinct interacting contacts
	// for the filter. Empty results are all-zero counts, not errors.
	CountEvents(ctx context.Context, filter EventFilter) (aggregation.Counts, error)
}

// AccountStore resolves provider connections.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *v1.Account) error
	GetAccount(ctx context.Context, id string) (*v1.Account, error)

	// GetAccountByWebhookID resolves the pre-shared webhook identifier.
	// Returns ErrNotFound when no account owns it.
	GetAccountByWebhookID(ctx context.Context, webhookID string) (*v1.Account, error)

	ListAccounts(ctx context.Context) ([]*v1.Account, error)
	TouchLastSync(ctx context.Context, accountID string, at time.Time) error
}

// MessageStore holds messages and their embedded summary cache.
type MessageStore interface {
	// GetOrCreateMessage returns the message for (AccountID, ExternalID), inserting
	// msg when none exists. created reports whether msg was inserted.
	GetOrCreateMessage(ctx context.Context, msg *v1.Message) (stored *v1.Message, created bool, err error)

	GetMessage(ctx context.Context, id string) (*v1.Message, error)

	// FindMessage looks a message up by its provider id. Returns ErrNotFound when absent.
	FindMessage(ctx context.Context, accountID, externalID string) (*v1.Message, error)

	UpdateMessageMetadata(ctx context.Context, id string, meta v1.MessageMetadata) error

	// IncrementSummary bumps the summary counter for eventType, and the unique
	// counter as well when firstInteraction is set.
	IncrementSummary(ctx context.Context, messageID string, eventType v1.EventType, firstInteraction bool) error
}

// SnapshotStore persists materialized period metrics with replace-on-conflict semantics.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot *v1.Snapshot) error

	// GetSnapshot returns ErrNotFound when no snapshot exists for key.
	GetSnapshot(ctx context.Context, key v1.SnapshotKey) (*v1.Snapshot, error)

	// ListSnapshots returns snapshots with PeriodStart in [start, end), ordered by PeriodStart.
	ListSnapshots(
		ctx context.Context,
		ownerID string,
		accountID string,
		messageID string,
		granularity v1.Granularity,
		start time.Time,
		end time.Time,
	) ([]*v1.Snapshot, error)
}

// SequenceStore issues strictly increasing numbers per entity type.
type SequenceStore interface {
	// NextValue must read-increment-return in one atomic step.
	NextValue(ctx context.Context, entityType string) (int64, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	EventStore
	AccountStore
	MessageStore
	SnapshotStore
	SequenceStore
}
