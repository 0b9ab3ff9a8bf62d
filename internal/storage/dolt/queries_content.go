//go:build cgo

package dolt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

// errInvalidContent signals a hash/bytes mismatch in PutContent.
var errInvalidContent = fmt.Errorf("sha256(bytes) does not match supplied hash")

func missingHashes(ctx context.Context, q queryer, table string, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	present := make(map[string]bool, len(hashes))
	placeholders := make([]string, len(hashes))
	args := make([]any, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h
	}
	// #nosec G201 - table is a package constant, placeholders are bound params
	query := fmt.Sprintf("SELECT content_hash FROM %s WHERE content_hash IN (%s)", table, strings.Join(placeholders, ", "))
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("missing_content_hashes", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, corekit.WrapDB("missing_content_hashes scan", err)
		}
		present[h] = true
	}
	var missing []string
	for _, h := range hashes {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	return missing, corekit.WrapDB("missing_content_hashes rows", rows.Err())
}

func qMissingContentHashes(ctx context.Context, q queryer, hashes []string) ([]string, error) {
	return missingHashes(ctx, q, "file_contents", hashes)
}

// qMissingBlameHashes treats a content row with a NULL blame_bytes column as
// "blame not stored", even if the file bytes themselves are present.
func qMissingBlameHashes(ctx context.Context, q queryer, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	present := make(map[string]bool, len(hashes))
	placeholders := make([]string, len(hashes))
	args := make([]any, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h
	}
	query := fmt.Sprintf(
		"SELECT content_hash FROM file_contents WHERE blame_bytes IS NOT NULL AND content_hash IN (%s)",
		strings.Join(placeholders, ", "),
	)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("missing_blame_hashes", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, corekit.WrapDB("missing_blame_hashes scan", err)
		}
		present[h] = true
	}
	var missing []string
	for _, h := range hashes {
		if !present[h] {
			missing = append(missing, h)
		}
	}
	return missing, corekit.WrapDB("missing_blame_hashes rows", rows.Err())
}

// qPutContent validates SHA256(bytes) == hash and inserts (or updates the
// blame column of) the blob. Idempotent: inserting the same hash twice is a
// no-op for the bytes column.
func qPutContent(ctx context.Context, q queryer, hash string, data []byte, blame []byte) error {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != strings.ToLower(hash) {
		return corekit.New(corekit.KindIOError, "put_content", errInvalidContent)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO file_contents (content_hash, bytes, blame_bytes, ref_count)
		VALUES (?, ?, ?, 0)
		ON DUPLICATE KEY UPDATE
			blame_bytes = COALESCE(VALUES(blame_bytes), blame_bytes)
	`, hash, data, blame)
	return corekit.WrapDB("put_content", err)
}

func qGetContent(ctx context.Context, q queryer, hash string) (*types.FileContent, error) {
	fc := &types.FileContent{ContentHash: hash}
	err := q.QueryRowContext(ctx, `
		SELECT bytes, blame_bytes, ref_count FROM file_contents WHERE content_hash = ?
	`, hash).Scan(&fc.Bytes, &fc.BlameBytes, &fc.RefCount)
	if err != nil {
		return nil, corekit.WrapDB("get_content", err)
	}
	return fc, nil
}

// qReleaseContent adjusts a blob's reference count by refDelta (positive
// when a File starts pointing at it, negative when one stops) and garbage
// collects the row once it reaches zero: a blob no File points at has
// no owner left.
func qReleaseContent(ctx context.Context, q queryer, hash string, refDelta int) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE file_contents SET ref_count = ref_count + ? WHERE content_hash = ?
	`, refDelta, hash); err != nil {
		return corekit.WrapDB("release_content", err)
	}
	if _, err := q.ExecContext(ctx, `
		DELETE FROM file_contents WHERE content_hash = ? AND ref_count <= 0
	`, hash); err != nil {
		return corekit.WrapDB("release_content gc", err)
	}
	return nil
}
