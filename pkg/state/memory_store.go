package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps snapshots in process, keyed by Ref.Identifier(). It
// stamps metadata like BoltStore and stores snapshots JSON encoded, so a
// loaded dictionary never aliases the one that was saved.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	payload []byte
	meta    Meta
}

// NewMemoryStore returns an empty store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{now: time.Now, records: map[string]memoryRecord{}}
}

func (s *MemoryStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return zero, Meta{}, false, nil
	}
	var snapshot T
	if err := json.Unmarshal(record.payload, &snapshot); err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return snapshot, cloneMeta(record.meta), true, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return Meta{}, fmt.Errorf("state: encode %q: %w", key, err)
	}
	saved := stamp(meta, s.now)

	s.mu.Lock()
	s.records[key] = memoryRecord{payload: payload, meta: saved}
	s.mu.Unlock()
	return cloneMeta(saved), nil
}

// stamp assigns a SnapshotID when missing, rotates the ETag and defaults
// UpdatedAt.
func stamp(meta Meta, now func() time.Time) Meta {
	saved := cloneMeta(meta)
	if saved.SnapshotID == "" {
		saved.SnapshotID = uuid.NewString()
	}
	saved.ETag = uuid.NewString()
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = now().UTC()
	}
	return saved
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.Extra = maps.Clone(meta.Extra)
	return out
}
