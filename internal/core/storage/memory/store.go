// Package memory is an in-process storage.Store for tests and local runs.
// Every method runs under one mutex so uniqueness checks and counters are atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/aggregation"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
)

type Store struct {
	mu sync.Mutex

	events     []v1.Event
	externalID map[string]struct{} // owner|external_id
	uniqueID   map[string]struct{}
	ingestSeq  int64

	accounts        map[string]v1.Account
	accountsWebhook map[string]string // webhook_id -> account id

	messages         map[string]v1.Message
	messagesExternal map[string]string // account|external_id -> message id

	snapshots map[string]v1.Snapshot
	sequences map[string]int64

	nowFn func() time.Time
}

func New() *Store {
	return &Store{
		externalID:       make(map[string]struct{}),
		uniqueID:         make(map[string]struct{}),
		accounts:         make(map[string]v1.Account),
		accountsWebhook:  make(map[string]string),
		messages:         make(map[string]v1.Message),
		messagesExternal: make(map[string]string),
		snapshots:        make(map[string]v1.Snapshot),
		sequences:        make(map[string]int64),
		nowFn:            time.Now,
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func snapshotKey(k v1.SnapshotKey) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d",
		k.OwnerID, k.AccountID, k.MessageID, k.Granularity, k.PeriodStart.UTC().Unix())
}

func (s *Store) SaveEvent(_ context.Context, event *v1.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := pairKey(event.OwnerID, event.ExternalID)
	if _, ok := s.externalID[ext]; ok {
		return storage.ErrDuplicate
	}
	if event.UniqueIdentifier != "" {
		if _, ok := s.uniqueID[event.UniqueIdentifier]; ok {
			return storage.ErrDuplicate
		}
		s.uniqueID[event.UniqueIdentifier] = struct{}{}
	}
	s.externalID[ext] = struct{}{}

	s.ingestSeq++
	event.IngestSeq = s.ingestSeq
	s.events = append(s.events, *event)
	return nil
}

func (s *Store) HasPriorInteraction(
	_ context.Context,
	ownerID string,
	contactKey string,
	messageID string,
	eventType v1.EventType,
	before time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		e := &s.events[i]
		if e.OwnerID == ownerID &&
			e.MessageID == messageID &&
			e.Type == eventType &&
			e.Contact.Key() == contactKey &&
			e.Timestamp.Before(before) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HasInteractionBetween(
	_ context.Context,
	ownerID string,
	contactKey string,
	messageID string,
	eventType v1.EventType,
	from, to time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		e := &s.events[i]
		if e.OwnerID == ownerID &&
			e.MessageID == messageID &&
			e.Type == eventType &&
			e.Contact.Key() == contactKey &&
			!e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountEvents(_ context.Context, filter storage.EventFilter) (aggregation.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messageSet := make(map[string]struct{})
	if filter.Scope.MessageID != "" {
		messageSet[filter.Scope.MessageID] = struct{}{}
	}
	for _, id := range filter.Scope.MessageIDs {
		messageSet[id] = struct{}{}
	}

	var counts aggregation.Counts
	distinct := make(map[v1.EventType]map[string]struct{})

	for i := range s.events {
		e := &s.events[i]
		if e.OwnerID != filter.OwnerID {
			continue
		}
		if e.Timestamp.Before(filter.Start) || !e.Timestamp.Before(filter.End) {
			continue
		}
		if filter.Scope.AccountID != "" && e.AccountID != filter.Scope.AccountID {
			continue
		}
		if len(messageSet) > 0 {
			if _, ok := messageSet[e.MessageID]; !ok {
				continue
			}
		}

		counts.Add(e.Type, 1)
		if key := e.Contact.Key(); key != "" {
			if distinct[e.Type] == nil {
				distinct[e.Type] = make(map[string]struct{})
			}
			distinct[e.Type][key] = struct{}{}
		}
	}

	for et, contacts := range distinct {
		counts.AddUnique(et, int64(len(contacts)))
	}
	return counts, nil
}

// Events returns a copy of the log in ingest order.
func (s *Store) Events() []v1.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) CreateAccount(_ context.Context, account *v1.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return storage.ErrDuplicate
	}
	if _, ok := s.accountsWebhook[account.WebhookID]; ok {
		return storage.ErrDuplicate
	}
	now := s.nowFn().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	s.accounts[account.ID] = *account
	s.accountsWebhook[account.WebhookID] = account.ID
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*v1.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &acc, nil
}

func (s *Store) GetAccountByWebhookID(_ context.Context, webhookID string) (*v1.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.accountsWebhook[webhookID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	acc := s.accounts[id]
	return &acc, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*v1.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*v1.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		acc := acc
		out = append(out, &acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TouchLastSync(_ context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return storage.ErrNotFound
	}
	if acc.LastSyncAt == nil || at.After(*acc.LastSyncAt) {
		t := at.UTC()
		acc.LastSyncAt = &t
	}
	acc.UpdatedAt = s.nowFn().UTC()
	s.accounts[accountID] = acc
	return nil
}

func (s *Store) GetOrCreateMessage(_ context.Context, msg *v1.Message) (*v1.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.messagesExternal[pairKey(msg.AccountID, msg.ExternalID)]; ok {
		existing := s.messages[id]
		return &existing, false, nil
	}

	now := s.nowFn().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	s.messages[msg.ID] = *msg
	s.messagesExternal[pairKey(msg.AccountID, msg.ExternalID)] = msg.ID
	created := *msg
	return &created, true, nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*v1.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &msg, nil
}

func (s *Store) FindMessage(_ context.Context, accountID, externalID string) (*v1.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.messagesExternal[pairKey(accountID, externalID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	msg := s.messages[id]
	return &msg, nil
}

func (s *Store) UpdateMessageMetadata(_ context.Context, id string, meta v1.MessageMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	msg.Subject = meta.Subject
	msg.FromName = meta.FromName
	msg.FromEmail = meta.FromEmail
	msg.Placeholder = false
	msg.UpdatedAt = s.nowFn().UTC()
	s.messages[id] = msg
	return nil
}

func (s *Store) IncrementSummary(_ context.Context, messageID string, eventType v1.EventType, firstInteraction bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return storage.ErrNotFound
	}

	sum := &msg.Summary
	switch eventType {
	case v1.EventSend:
		sum.SentCount++
	case v1.EventDelivery:
		sum.DeliveredCount++
	case v1.EventOpen:
		sum.OpenCount++
		if firstInteraction {
			sum.UniqueOpenCount++
		}
	case v1.EventClick:
		sum.ClickCount++
		if firstInteraction {
			sum.UniqueClickCount++
		}
	case v1.EventBounce:
		sum.BounceCount++
	case v1.EventUnsubscribe:
		sum.UnsubscribeCount++
	case v1.EventComplaint:
		sum.ComplaintCount++
	default:
		return fmt.Errorf("no summary counter for event type %q", eventType)
	}

	msg.UpdatedAt = s.nowFn().UTC()
	s.messages[messageID] = msg
	return nil
}

func (s *Store) UpsertSnapshot(_ context.Context, snapshot *v1.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := *snapshot
	snap.Key.PeriodStart = snap.Key.PeriodStart.UTC()
	s.snapshots[snapshotKey(snap.Key)] = snap
	return nil
}

func (s *Store) GetSnapshot(_ context.Context, key v1.SnapshotKey) (*v1.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotKey(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &snap, nil
}

func (s *Store) ListSnapshots(
	_ context.Context,
	ownerID string,
	accountID string,
	messageID string,
	granularity v1.Granularity,
	start time.Time,
	end time.Time,
) ([]*v1.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*v1.Snapshot
	for _, snap := range s.snapshots {
		k := snap.Key
		if k.OwnerID != ownerID || k.AccountID != accountID || k.MessageID != messageID || k.Granularity != granularity {
			continue
		}
		if k.PeriodStart.Before(start) || !k.PeriodStart.Before(end) {
			continue
		}
		snap := snap
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.PeriodStart.Before(out[j].Key.PeriodStart)
	})
	return out, nil
}

func (s *Store) NextValue(_ context.Context, entityType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[entityType]++
	return s.sequences[entityType], nil
}

var _ storage.Store = (*Store)(nil)
