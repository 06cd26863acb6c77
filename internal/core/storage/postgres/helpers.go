package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/lib/pq"
)

const codeUniqueViolation = "23505"

// classifyErr maps driver errors onto the storage sentinels.
// Connection-class failures become storage.ErrUnavailable so the HTTP layer can
// answer 503 and the provider retries the delivery.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == codeUniqueViolation {
			return storage.ErrDuplicate
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// nullString stores "" as SQL NULL. Used for the sparse unique_identifier column.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*v1.Account, error) {
	var (
		acc         v1.Account
		credentials []byte
		lastSync    sql.NullTime
	)

	err := row.Scan(
		&acc.ID,
		&acc.OwnerID,
		&acc.Name,
		&acc.Provider,
		&acc.BaseURL,
		&credentials,
		&acc.Status,
		&acc.WebhookID,
		&lastSync,
		&acc.NumericID,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &acc.Credentials); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
		}
	}
	if lastSync.Valid {
		t := lastSync.Time
		acc.LastSyncAt = &t
	}
	return &acc, nil
}

func scanMessage(row scanner) (*v1.Message, error) {
	var msg v1.Message
	s := &msg.Summary

	err := row.Scan(
		&msg.ID,
		&msg.OwnerID,
		&msg.AccountID,
		&msg.ExternalID,
		&msg.NumericID,
		&msg.Subject,
		&msg.FromName,
		&msg.FromEmail,
		&msg.Placeholder,
		&s.SentCount,
		&s.DeliveredCount,
		&s.OpenCount,
		&s.UniqueOpenCount,
		&s.ClickCount,
		&s.UniqueClickCount,
		&s.BounceCount,
		&s.UnsubscribeCount,
		&s.ComplaintCount,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func scanSnapshot(row scanner) (*v1.Snapshot, error) {
	var snap v1.Snapshot
	m := &snap.Metrics

	err := row.Scan(
		&snap.Key.OwnerID,
		&snap.Key.AccountID,
		&snap.Key.MessageID,
		&snap.Key.Granularity,
		&snap.Key.PeriodStart,
		&m.SentCount,
		&m.DeliveredCount,
		&m.OpenCount,
		&m.UniqueOpenCount,
		&m.ClickCount,
		&m.UniqueClickCount,
		&m.BounceCount,
		&m.UnsubscribeCount,
		&m.ComplaintCount,
		&m.OpenRate,
		&m.UniqueOpenRate,
		&m.ClickRate,
		&m.UniqueClickRate,
		&m.ClickToOpenRate,
		&m.BounceRate,
		&m.UnsubscribeRate,
		&m.ComplaintRate,
		&m.DeliveryRate,
		&snap.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.Key.PeriodStart = snap.Key.PeriodStart.UTC()
	return &snap, nil
}
