package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
)

// UpsertSnapshot replaces every stored field for the key; nothing is merged.
func (a *Adapter) UpsertSnapshot(ctx context.Context, snapshot *v1.Snapshot) error {
	k := snapshot.Key
	m := snapshot.Metrics

	_, err := a.stmtUpsertSnapshot.ExecContext(ctx,
		k.OwnerID,
		k.AccountID,
		k.MessageID,
		string(k.Granularity),
		k.PeriodStart.UTC(),
		m.SentCount,
		m.DeliveredCount,
		m.OpenCount,
		m.UniqueOpenCount,
		m.ClickCount,
		m.UniqueClickCount,
		m.BounceCount,
		m.UnsubscribeCount,
		m.ComplaintCount,
		m.OpenRate,
		m.UniqueOpenRate,
		m.ClickRate,
		m.UniqueClickRate,
		m.ClickToOpenRate,
		m.BounceRate,
		m.UnsubscribeRate,
		m.ComplaintRate,
		m.DeliveryRate,
		snapshot.ComputedAt.UTC(),
	)
	if err != nil {
		return classifyErr("failed to upsert snapshot", err)
	}

	slog.Debug("[Postgres] Upserted snapshot",
		"owner_id", k.OwnerID,
		"account_id", k.AccountID,
		"message_id", k.MessageID,
		"granularity", k.Granularity,
		"period_start", k.PeriodStart)
	return nil
}

func (a *Adapter) GetSnapshot(ctx context.Context, key v1.SnapshotKey) (*v1.Snapshot, error) {
	snap, err := scanSnapshot(a.stmtGetSnapshot.QueryRowContext(ctx,
		key.OwnerID,
		key.AccountID,
		key.MessageID,
		string(key.Granularity),
		key.PeriodStart.UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classifyErr("failed to get snapshot", err)
	}
	return snap, nil
}

func (a *Adapter) ListSnapshots(
	ctx context.Context,
	ownerID string,
	accountID string,
	messageID string,
	granularity v1.Granularity,
	start time.Time,
	end time.Time,
) ([]*v1.Snapshot, error) {
	rows, err := a.db.QueryContext(ctx, queryListSnapshots,
		ownerID, accountID, messageID, string(granularity), start.UTC(), end.UTC())
	if err != nil {
		return nil, classifyErr("failed to list snapshots", err)
	}
	defer rows.Close()

	var out []*v1.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr("error iterating snapshots", err)
	}
	return out, nil
}

// NextValue atomically increments and returns the counter for entityType.
func (a *Adapter) NextValue(ctx context.Context, entityType string) (int64, error) {
	var value int64
	if err := a.stmtNextSequence.QueryRowContext(ctx, entityType).Scan(&value); err != nil {
		return 0, classifyErr("failed to allocate sequence", err)
	}
	return value, nil
}
