// Package content implements the content store: a content-addressed,
// reference-counted blob layer sitting directly on top of storage.Store.
// It exists as its own package, distinct from internal/storage/dolt, because
// the ingestion engine needs to reason about "what's missing" and "what
// can I skip sending" independently of any one storage backend.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/types"
)

// Store is the Content Store façade a caller holding a storage.Store (or a
// storage.Tx, which satisfies the same interface) can use for content
// operations without importing internal/storage/dolt directly.
type Store struct {
	db storage.Store
}

func New(db storage.Store) *Store {
	return &Store{db: db}
}

// Hash returns the canonical content hash of a blob: lowercase hex SHA-256.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MissingHashes reports which of hashes have no stored bytes yet, letting a
// client (e.g. a report-bundle uploader) skip retransmitting content the
// server already has.
func (s *Store) MissingHashes(ctx context.Context, hashes []string) ([]string, error) {
	return s.db.MissingContentHashes(ctx, hashes)
}

// MissingBlameHashes reports which hashes are present but still lack blame
// annotations, so a client can backfill blame without resending file bytes.
func (s *Store) MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error) {
	return s.db.MissingBlameHashes(ctx, hashes)
}

// Put stores data under its content hash, validating the caller's claimed
// hash matches SHA-256(data). Re-putting the same hash is a no-op for bytes
// (idempotent); a non-nil blame is merged in regardless.
func (s *Store) Put(ctx context.Context, hash string, data []byte, blame []byte) error {
	return s.db.PutContent(ctx, hash, data, blame)
}

// Get fetches a blob by hash.
func (s *Store) Get(ctx context.Context, hash string) (*types.FileContent, error) {
	fc, err := s.db.GetContent(ctx, hash)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// Acquire increments a blob's reference count, called once per File row
// that starts pointing at hash.
func (s *Store) Acquire(ctx context.Context, hash string) error {
	return s.db.ReleaseContent(ctx, hash, 1)
}

// Release decrements a blob's reference count and garbage collects it once
// no File references it.
func (s *Store) Release(ctx context.Context, hash string) error {
	return s.db.ReleaseContent(ctx, hash, -1)
}

// ErrContentNotFound is returned (wrapped) when a requested hash has no
// stored blob.
var ErrContentNotFound = corekit.ErrNotFound
