package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
)

// summaryColumns is the whitelist of counter columns IncrementSummary may touch.
var summaryColumns = map[v1.EventType]string{
	v1.EventSend:        "sent_count",
	v1.EventDelivery:    "delivered_count",
	v1.EventOpen:        "open_count",
	v1.EventClick:       "click_count",
	v1.EventBounce:      "bounce_count",
	v1.EventUnsubscribe: "unsubscribe_count",
	v1.EventComplaint:   "complaint_count",
}

var uniqueSummaryColumns = map[v1.EventType]string{
	v1.EventOpen:  "unique_open_count",
	v1.EventClick: "unique_click_count",
}

// CreateAccount inserts a provider connection.
func (a *Adapter) CreateAccount(ctx context.Context, account *v1.Account) error {
	credentials, err := json.Marshal(account.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if account.Credentials == nil {
		credentials = []byte(`{}`)
	}

	now := a.nowFn().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	_, err = a.db.ExecContext(ctx, queryCreateAccount,
		account.ID,
		account.OwnerID,
		account.Name,
		string(account.Provider),
		account.BaseURL,
		credentials,
		string(account.Status),
		account.WebhookID,
		nullTime(account.LastSyncAt),
		account.NumericID,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return classifyErr("failed to create account", err)
}

func (a *Adapter) GetAccount(ctx context.Context, id string) (*v1.Account, error) {
	acc, err := scanAccount(a.db.QueryRowContext(ctx, queryGetAccount, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classifyErr("failed to get account", err)
	}
	return acc, nil
}

func (a *Adapter) GetAccountByWebhookID(ctx context.Context, webhookID string) (*v1.Account, error) {
	acc, err := scanAccount(a.stmtAccountByWebhook.QueryRowContext(ctx, webhookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classifyErr("failed to resolve webhook", err)
	}
	return acc, nil
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]*v1.Account, error) {
	rows, err := a.db.QueryContext(ctx, queryListAccounts)
	if err != nil {
		return nil, classifyErr("failed to list accounts", err)
	}
	defer rows.Close()

	var accounts []*v1.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr("error iterating accounts", err)
	}
	return accounts, nil
}

// TouchLastSync moves LastSyncAt forward; it never moves it back.
func (a *Adapter) TouchLastSync(ctx context.Context, accountID string, at time.Time) error {
	res, err := a.db.ExecContext(ctx, queryTouchLastSync, accountID, at.UTC(), a.nowFn().UTC())
	if err != nil {
		return classifyErr("failed to touch last sync", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (a *Adapter) GetMessage(ctx context.Context, id string) (*v1.Message, error) {
	msg, err := scanMessage(a.db.QueryRowContext(ctx, queryGetMessage, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classifyErr("failed to get message", err)
	}
	return msg, nil
}

func (a *Adapter) FindMessage(ctx context.Context, accountID, externalID string) (*v1.Message, error) {
	msg, err := scanMessage(a.stmtFindMessage.QueryRowContext(ctx, accountID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classifyErr("failed to find message", err)
	}
	return msg, nil
}

// GetOrCreateMessage inserts msg unless (AccountID, ExternalID) already exists.
// Losing a concurrent insert race re-reads and returns the winner with created=false.
func (a *Adapter) GetOrCreateMessage(ctx context.Context, msg *v1.Message) (*v1.Message, bool, error) {
	now := a.nowFn().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	var id string
	err := a.stmtInsertMessage.QueryRowContext(ctx,
		msg.ID,
		msg.OwnerID,
		msg.AccountID,
		msg.ExternalID,
		msg.NumericID,
		msg.Subject,
		msg.FromName,
		msg.FromEmail,
		msg.Placeholder,
		msg.CreatedAt,
		msg.UpdatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := a.FindMessage(ctx, msg.AccountID, msg.ExternalID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, classifyErr("failed to create message", err)
	}

	slog.Debug("[Postgres] Created message",
		"message_id", id,
		"account_id", msg.AccountID,
		"external_id", msg.ExternalID,
		"placeholder", msg.Placeholder)

	created := *msg
	return &created, true, nil
}

// UpdateMessageMetadata fills subject/sender and clears the placeholder flag.
func (a *Adapter) UpdateMessageMetadata(ctx context.Context, id string, meta v1.MessageMetadata) error {
	res, err := a.db.ExecContext(ctx, queryUpdateMessageMetadata,
		id, meta.Subject, meta.FromName, meta.FromEmail, a.nowFn().UTC())
	if err != nil {
		return classifyErr("failed to update message metadata", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementSummary is a single UPDATE with column-relative increments, so
// concurrent increments never lose updates.
func (a *Adapter) IncrementSummary(ctx context.Context, messageID string, eventType v1.EventType, firstInteraction bool) error {
	query, ok := incrementSummaryQuery(eventType, firstInteraction)
	if !ok {
		return fmt.Errorf("no summary counter for event type %q", eventType)
	}

	res, err := a.db.ExecContext(ctx, query, messageID, a.nowFn().UTC())
	if err != nil {
		return classifyErr("failed to increment summary", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func incrementSummaryQuery(eventType v1.EventType, firstInteraction bool) (string, bool) {
	col, ok := summaryColumns[eventType]
	if !ok {
		return "", false
	}
	sets := []string{fmt.Sprintf("%[1]s = %[1]s + 1", col)}
	if firstInteraction {
		if uniqueCol, ok := uniqueSummaryColumns[eventType]; ok {
			sets = append(sets, fmt.Sprintf("%[1]s = %[1]s + 1", uniqueCol))
		}
	}
	return fmt.Sprintf(queryIncrementSummaryTemplate, strings.Join(sets, ", ")), true
}
