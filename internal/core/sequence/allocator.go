package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/aevon-lab/mailmetrics/internal/core/storage"
)

// Entity types with a numeric identifier.
const (
	EntityAccount = "account"
	EntityMessage = "message"
)

var ErrUnknownEntity = errors.New("unknown sequence entity type")

var entities = map[string]struct{}{
	EntityAccount: {},
	EntityMessage: {},
}

// Allocator issues strictly increasing numbers per entity type.
// Atomicity lives in the store; a failed call may leave a gap but never a duplicate.
type Allocator struct {
	store storage.SequenceStore
}

func NewAllocator(store storage.SequenceStore) *Allocator {
	return &Allocator{store: store}
}

func (a *Allocator) Next(ctx context.Context, entityType string) (int64, error) {
	if _, ok := entities[entityType]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEntity, entityType)
	}
	v, err := a.store.NextValue(ctx, entityType)
	if err != nil {
		return 0, fmt.Errorf("allocating %s sequence: %w", entityType, err)
	}
	return v, nil
}
