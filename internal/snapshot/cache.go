// Package snapshot materializes per-period metrics and caches them in Redis.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL = 24 * time.Hour
	keyPrefix       = "mailmetrics:snapshot:"
)

// CachedStore is a read-through, write-through Redis cache in front of a
// SnapshotStore. Redis failures degrade to the backing store.
type CachedStore struct {
	backing storage.SnapshotStore
	client  redis.UniversalClient
	ttl     time.Duration
	loads   singleflight.Group // Dedupe concurrent misses for one key
}

func NewCachedStore(backing storage.SnapshotStore, client redis.UniversalClient, ttl time.Duration) *CachedStore {
	if backing == nil {
		panic("snapshot: backing store must not be nil")
	}
	if client == nil {
		panic("snapshot: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{backing: backing, client: client, ttl: ttl}
}

func cacheKey(k v1.SnapshotKey) string {
	return fmt.Sprintf("%s%s:%s:%s:%s:%d",
		keyPrefix, k.OwnerID, k.AccountID, k.MessageID, k.Granularity, k.PeriodStart.UTC().Unix())
}

// GetSnapshot returns the cached snapshot, loading it from the backing store on a miss.
// Misses in the backing store are not cached.
func (c *CachedStore) GetSnapshot(ctx context.Context, key v1.SnapshotKey) (*v1.Snapshot, error) {
	ck := cacheKey(key)

	raw, err := c.client.Get(ctx, ck).Bytes()
	switch {
	case err == nil:
		var snap v1.Snapshot
		jsonErr := json.Unmarshal(raw, &snap)
		if jsonErr == nil {
			return &snap, nil
		}
		slog.Warn("[SnapshotCache] Dropping undecodable entry", "key", ck, "error", jsonErr)
		c.client.Del(ctx, ck)
	case !errors.Is(err, redis.Nil):
		slog.Warn("[SnapshotCache] Cache read failed, using backing store", "key", ck, "error", err)
	}

	v, err, _ := c.loads.Do(ck, func() (interface{}, error) {
		snap, err := c.backing.GetSnapshot(ctx, key)
		if err != nil {
			return nil, err
		}
		c.set(ctx, ck, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap := *v.(*v1.Snapshot)
	return &snap, nil
}

// UpsertSnapshot writes the backing store first, then refreshes the cache.
func (c *CachedStore) UpsertSnapshot(ctx context.Context, snapshot *v1.Snapshot) error {
	if err := c.backing.UpsertSnapshot(ctx, snapshot); err != nil {
		return err
	}
	c.set(ctx, cacheKey(snapshot.Key), snapshot)
	return nil
}

// ListSnapshots always reads the backing store.
func (c *CachedStore) ListSnapshots(
	ctx context.Context,
	ownerID string,
	accountID string,
	messageID string,
	granularity v1.Granularity,
	start time.Time,
	end time.Time,
) ([]*v1.Snapshot, error) {
	return c.backing.ListSnapshots(ctx, ownerID, accountID, messageID, granularity, start, end)
}

func (c *CachedStore) set(ctx context.Context, ck string, snap *v1.Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("[SnapshotCache] Failed to encode snapshot", "key", ck, "error", err)
		return
	}
	if err := c.client.Set(ctx, ck, raw, c.ttl).Err(); err != nil {
		slog.Warn("[SnapshotCache] Cache write failed", "key", ck, "error", err)
	}
}

var _ storage.SnapshotStore = (*CachedStore)(nil)
