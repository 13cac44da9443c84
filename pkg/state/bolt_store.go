package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const defaultBoltBucket = "fieldstore_snapshots"

// BoltOption configures a BoltStore.
type BoltOption func(*boltConfig)

type boltConfig struct {
	bucket string
	now    func() time.Time
}

// WithBucket overrides the bucket snapshots are stored in.
func WithBucket(name string) BoltOption {
	return func(cfg *boltConfig) {
		if name != "" {
			cfg.bucket = name
		}
	}
}

// WithBoltClock overrides the clock used to stamp Meta.UpdatedAt.
func WithBoltClock(now func() time.Time) BoltOption {
	return func(cfg *boltConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// BoltStore persists JSON encoded snapshots in a bbolt database keyed by
// Ref.Identifier(). Every save rotates the ETag and, when the caller did not
// supply one, assigns a SnapshotID.
type BoltStore[T any] struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

type boltRecord[T any] struct {
	Snapshot T    `json:"snapshot"`
	Meta     Meta `json:"meta"`
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore[T any](path string, opts ...BoltOption) (*BoltStore[T], error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("state: open bolt %q: %w", path, err)
	}
	store, err := NewBoltStore[T](db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewBoltStore wraps an open database, creating the bucket when missing.
func NewBoltStore[T any](db *bolt.DB, opts ...BoltOption) (*BoltStore[T], error) {
	if db == nil {
		return nil, fmt.Errorf("state: bolt db is required")
	}
	cfg := boltConfig{bucket: defaultBoltBucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	bucket := []byte(cfg.bucket)
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("state: create bucket %q: %w", cfg.bucket, err)
	}
	return &BoltStore[T]{db: db, bucket: bucket, now: cfg.now}, nil
}

// Close closes the underlying database.
func (s *BoltStore[T]) Close() error {
	return s.db.Close()
}

func (s *BoltStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, Meta{}, false, err
	}

	var payload []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(s.bucket).Get([]byte(key)); raw != nil {
			payload = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: bolt view %q: %w", key, err)
	}
	if payload == nil {
		return zero, Meta{}, false, nil
	}

	var record boltRecord[T]
	if err := json.Unmarshal(payload, &record); err != nil {
		return zero, Meta{}, false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return record.Snapshot, record.Meta, true, nil
}

func (s *BoltStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}

	saved := stamp(meta, s.now)

	payload, err := json.Marshal(boltRecord[T]{Snapshot: snapshot, Meta: saved})
	if err != nil {
		return Meta{}, fmt.Errorf("state: encode %q: %w", key, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), payload)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("state: bolt put %q: %w", key, err)
	}
	return saved, nil
}
