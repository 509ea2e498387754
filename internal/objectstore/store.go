package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/storage"
	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// Store writes and reads partitioned raw objects through a storage
// connection. Writes are append-only: no operation mutates or removes a
// previously written object, which is what lets backfill and regular
// extraction share the write path without coordination.
type Store struct {
	conn   storage.Connection
	bucket string
	prefix string
	// now supplies ingestion timestamps; overridable in tests.
	now func() time.Time
}

// NewStore creates a Store over the given storage connection.
func NewStore(conn storage.Connection, bucket, prefix string) *Store {
	return &Store{
		conn:   conn,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// Bucket returns the bucket objects are written to.
func (s *Store) Bucket() string { return s.bucket }

// Prefix returns the key prefix objects are partitioned under.
func (s *Store) Prefix() string { return s.prefix }

// Put writes one payload as a new immutable object for the given entity and
// slot and returns the object key.
func (s *Store) Put(ctx context.Context, entity string, slot time.Time, payload *Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for entity %q slot %s: %w", entity, slot, err)
	}
	key := BuildKey(s.prefix, entity, slot, s.now())
	if err := s.conn.Upload(ctx, s.bucket, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload object %q: %w", key, err)
	}
	logger.Debugf("Wrote raw object '%s' (%d bytes).", key, len(body))
	return key, nil
}

// Get fetches and decodes one object. The raw body is returned alongside the
// decoded payload so callers can fingerprint exactly what was stored.
func (s *Store) Get(ctx context.Context, key string) (*Payload, []byte, error) {
	rc, err := s.conn.Download(ctx, s.bucket, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download object %q: %w", key, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to decode object %q: %w", key, err)
	}
	return &payload, body, nil
}

// List calls fn for every object key under the store's prefix.
func (s *Store) List(ctx context.Context, fn func(key string) error) error {
	return s.conn.ListObjects(ctx, s.bucket, s.prefix+"/", fn)
}
