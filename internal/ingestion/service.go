package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/sequence"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/aevon-lab/mailmetrics/internal/directory"
	"github.com/aevon-lab/mailmetrics/internal/normalize"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultOpenRefireWindow collapses opens of one contact and message this close together.
const DefaultOpenRefireWindow = 2 * time.Second

// ErrMissingParentAccount is returned when the webhook identifier resolves to no account.
var ErrMissingParentAccount = errors.New("missing parent account")

// Outcome is the per-item result of a delivery.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"

	// OutcomeFailed marks a transient storage failure; the provider should redeliver.
	OutcomeFailed Outcome = "failed"
)

type ItemResult struct {
	Index      int          `json:"index"`
	Outcome    Outcome      `json:"outcome"`
	EventID    string       `json:"event_id,omitempty"`
	ExternalID string       `json:"external_id,omitempty"`
	Type       v1.EventType `json:"event_type,omitempty"`
	Reason     string       `json:"reason,omitempty"`

	err error
}

// Err returns the error behind a rejected or failed item.
func (r ItemResult) Err() error { return r.err }

// Result summarizes one webhook delivery. Duplicates count as accepted.
type Result struct {
	Accepted int          `json:"accepted"`
	Items    []ItemResult `json:"items"`
}

// Count returns how many items ended with outcome o.
func (r Result) Count(o Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == o {
			n++
		}
	}
	return n
}

// AllRejected reports whether a non-empty delivery had every item rejected.
func (r Result) AllRejected() bool {
	return len(r.Items) > 0 && r.Count(OutcomeRejected) == len(r.Items)
}

// Store is what ingestion writes to.
type Store interface {
	storage.EventStore
	storage.MessageStore
	storage.AccountStore
}

type Option func(s *Service)

// WithMaxBodySizeMB caps the webhook request body.
func WithMaxBodySizeMB(mb int) Option {
	return func(s *Service) {
		if mb > 0 {
			s.maxBodySizeBytes = mb * 1024 * 1024
		}
	}
}

// WithBackfillTimeout bounds the directory lookup made for new placeholder messages.
// Zero disables backfill.
func WithBackfillTimeout(d time.Duration) Option {
	return func(s *Service) { s.backfillTimeout = d }
}

// WithOpenRefireWindow sets how close two opens of one contact and message must
// be to count as one. Zero leaves only the identity key.
func WithOpenRefireWindow(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.openRefireWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFn = now }
}

type Service struct {
	directory  directory.Directory
	normalizer *normalize.Registry
	store      Store
	sequences  *sequence.Allocator
	classifier *Classifier

	maxBodySizeBytes int
	backfillTimeout  time.Duration
	openRefireWindow time.Duration
	nowFn            func() time.Time
}

func NewService(dir directory.Directory, reg *normalize.Registry, store Store, seq *sequence.Allocator, opts ...Option) *Service {
	if dir == nil {
		panic("ingestion: directory must not be nil")
	}
	if reg == nil {
		panic("ingestion: normalizer registry must not be nil")
	}
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if seq == nil {
		panic("ingestion: sequence allocator must not be nil")
	}
	s := &Service{
		directory:        dir,
		normalizer:       reg,
		store:            store,
		sequences:        seq,
		maxBodySizeBytes: 1024 * 1024,
		backfillTimeout:  5 * time.Second,
		openRefireWindow: DefaultOpenRefireWindow,
		nowFn:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.classifier = NewClassifier(store, s.openRefireWindow)
	return s
}

// RegisterRoutes registers the webhook receiver.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/webhooks/:webhook_id", s.WebhookHandler)
}

// Ingest records one webhook delivery. It fails as a whole only when the
// account cannot be resolved or the batch cannot be split; every item is
// otherwise processed independently and reported in the Result.
func (s *Service) Ingest(ctx context.Context, webhookID string, payload []byte) (Result, error) {
	acc, err := s.directory.ResolveWebhook(ctx, webhookID)
	if err != nil {
		if errors.Is(err, directory.ErrUnknownWebhook) {
			return Result{}, fmt.Errorf("%w: webhook %q", ErrMissingParentAccount, webhookID)
		}
		return Result{}, fmt.Errorf("resolving account: %w", err)
	}

	items, err := s.normalizer.Split(acc.Provider, payload)
	if err != nil {
		return Result{}, err
	}

	res := Result{Items: make([]ItemResult, 0, len(items))}
	for i, item := range items {
		r := s.ingestItem(ctx, acc, item)
		r.Index = i
		if r.Outcome == OutcomeRecorded || r.Outcome == OutcomeDuplicate {
			res.Accepted++
		}
		res.Items = append(res.Items, r)
	}

	if res.Count(OutcomeRecorded) > 0 {
		if err := s.store.TouchLastSync(ctx, acc.ID, s.nowFn().UTC()); err != nil {
			slog.Warn("[Ingestion] Failed to update account last sync", "account_id", acc.ID, "error", err)
		}
	}

	slog.Info("[Ingestion] Processed delivery",
		"account_id", acc.ID,
		"provider", acc.Provider,
		"items", len(res.Items),
		"recorded", res.Count(OutcomeRecorded),
		"duplicates", res.Count(OutcomeDuplicate),
		"rejected", res.Count(OutcomeRejected),
		"failed", res.Count(OutcomeFailed))
	return res, nil
}

func (s *Service) ingestItem(ctx context.Context, acc *v1.Account, item json.RawMessage) ItemResult {
	n, err := s.normalizer.Normalize(acc.Provider, item)
	if err != nil {
		slog.Warn("[Ingestion] Item rejected", "account_id", acc.ID, "error", err)
		return ItemResult{Outcome: OutcomeRejected, Reason: err.Error(), err: err}
	}
	res := ItemResult{ExternalID: n.ExternalID, Type: n.Type}

	msg, err := s.resolveMessage(ctx, acc, n)
	if err != nil {
		slog.Error("[Ingestion] Failed to resolve message", "account_id", acc.ID, "message_external_id", n.MessageExternalID, "error", err)
		return storeFailure(res, err)
	}

	evt := &v1.Event{
		ID:           uuid.NewString(),
		OwnerID:      acc.OwnerID,
		AccountID:    acc.ID,
		MessageID:    msg.ID,
		Type:         n.Type,
		Timestamp:    n.Timestamp,
		Contact:      n.Contact,
		ExternalID:   n.ExternalID,
		URL:          n.URL,
		BounceType:   n.BounceType,
		BounceReason: n.BounceReason,
		Provider:     acc.Provider,
		IngestedAt:   s.nowFn().UTC(),
	}
	evt.UniqueIdentifier = IdentityKey(evt)
	res.EventID = evt.ID

	if err := evt.Validate(); err != nil {
		res.EventID = ""
		res.Outcome = OutcomeRejected
		res.Reason = err.Error()
		res.err = fmt.Errorf("%w: %v", normalize.ErrMalformedPayload, err)
		return res
	}

	refire, err := s.classifier.IsRefire(ctx, evt)
	if err != nil {
		return storeFailure(res, err)
	}
	if refire {
		slog.Debug("[Ingestion] Re-fired open", "external_id", evt.ExternalID, "message_id", msg.ID)
		res.EventID = ""
		res.Outcome = OutcomeDuplicate
		return res
	}

	first, err := s.classifier.IsFirstInteraction(ctx, evt)
	if err != nil {
		return storeFailure(res, err)
	}
	evt.IsFirstInteraction = first

	if err := s.store.SaveEvent(ctx, evt); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Debug("[Ingestion] Duplicate event", "external_id", evt.ExternalID, "event_type", evt.Type)
			res.EventID = ""
			res.Outcome = OutcomeDuplicate
			return res
		}
		slog.Error("[Ingestion] Failed to persist event", "external_id", evt.ExternalID, "error", err)
		return storeFailure(res, err)
	}

	if err := s.store.IncrementSummary(ctx, msg.ID, evt.Type, evt.IsFirstInteraction); err != nil {
		slog.Warn("[Ingestion] Failed to update message summary", "message_id", msg.ID, "event_type", evt.Type, "error", err)
	}

	slog.Debug("[Ingestion] Recorded event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"message_id", msg.ID,
		"contact", maskEmail(evt.Contact.Email),
		"first_interaction", evt.IsFirstInteraction)
	res.Outcome = OutcomeRecorded
	return res
}

// storeFailure marks the item failed when storage is unavailable, so the
// provider redelivers. Any other storage error would fail again on
// redelivery, so the item is rejected instead.
func storeFailure(res ItemResult, err error) ItemResult {
	res.EventID = ""
	res.Outcome = OutcomeRejected
	if errors.Is(err, storage.ErrUnavailable) {
		res.Outcome = OutcomeFailed
	}
	res.Reason = err.Error()
	res.err = err
	return res
}

// resolveMessage finds the event's parent message or creates a placeholder for it.
// A numeric id is only allocated on a miss, so redeliveries do not burn sequence values.
func (s *Service) resolveMessage(ctx context.Context, acc *v1.Account, n *normalize.Normalized) (*v1.Message, error) {
	msg, err := s.store.FindMessage(ctx, acc.ID, n.MessageExternalID)
	if err == nil {
		if msg.Placeholder && n.Metadata != nil {
			s.applyMetadata(ctx, msg, *n.Metadata)
		}
		return msg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	numericID, err := s.sequences.Next(ctx, sequence.EntityMessage)
	if err != nil {
		return nil, err
	}

	candidate := &v1.Message{
		ID:          uuid.NewString(),
		OwnerID:     acc.OwnerID,
		AccountID:   acc.ID,
		ExternalID:  n.MessageExternalID,
		NumericID:   numericID,
		Subject:     v1.PlaceholderSubject,
		Placeholder: true,
	}
	if meta := n.Metadata; meta != nil && meta.Subject != "" {
		candidate.Subject = meta.Subject
		candidate.FromName = meta.FromName
		candidate.FromEmail = meta.FromEmail
		candidate.Placeholder = false
	}

	stored, created, err := s.store.GetOrCreateMessage(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if created {
		slog.Info("[Ingestion] Created message", "message_id", stored.ID, "external_id", stored.ExternalID, "placeholder", stored.Placeholder)
		if stored.Placeholder {
			s.backfill(ctx, acc, stored)
		}
	}
	return stored, nil
}

func (s *Service) applyMetadata(ctx context.Context, msg *v1.Message, meta v1.MessageMetadata) {
	if meta.Subject == "" {
		return
	}
	if err := s.store.UpdateMessageMetadata(ctx, msg.ID, meta); err != nil {
		slog.Warn("[Ingestion] Failed to update message metadata", "message_id", msg.ID, "error", err)
		return
	}
	msg.Subject = meta.Subject
	msg.FromName = meta.FromName
	msg.FromEmail = meta.FromEmail
	msg.Placeholder = false
}

// backfill asks the provider for the new message's metadata. Best effort.
func (s *Service) backfill(ctx context.Context, acc *v1.Account, msg *v1.Message) {
	if s.backfillTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.backfillTimeout)
	defer cancel()

	remote, err := s.directory.FetchRemoteMessageList(ctx, acc)
	if err != nil {
		if errors.Is(err, directory.ErrNoClient) || errors.Is(err, directory.ErrUnsupportedProvider) {
			slog.Debug("[Ingestion] Message backfill unavailable", "provider", acc.Provider, "error", err)
			return
		}
		slog.Warn("[Ingestion] Message backfill failed", "account_id", acc.ID, "message_id", msg.ID, "error", err)
		return
	}
	for _, meta := range remote {
		if meta.ExternalID == msg.ExternalID {
			s.applyMetadata(ctx, msg, meta)
			return
		}
	}
	slog.Debug("[Ingestion] Message not listed by provider", "account_id", acc.ID, "external_id", msg.ExternalID)
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
