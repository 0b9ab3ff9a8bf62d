//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

func qGetOrCreateRun(ctx context.Context, q queryer, name string) (*types.Run, error) {
	run := &types.Run{}
	err := q.QueryRowContext(ctx, `SELECT id, name, created_at, latest_duration_ms FROM runs WHERE name = ?`, name).
		Scan(&run.ID, &run.Name, &run.CreatedAt, &run.LatestDuration)
	if err == nil {
		run.LatestDuration = run.LatestDuration * time.Millisecond
		return run, nil
	}
	if err != sql.ErrNoRows {
		return nil, corekit.WrapDB("get_or_create_run select", err)
	}

	now := time.Now().UTC()
	res, err := q.ExecContext(ctx, `INSERT INTO runs (name, created_at, latest_duration_ms) VALUES (?, ?, 0)`, name, now)
	if err != nil {
		return nil, corekit.WrapDB("get_or_create_run insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("get_or_create_run last_insert_id", err)
	}
	return &types.Run{ID: id, Name: name, CreatedAt: now}, nil
}

func qCreateRunHistory(ctx context.Context, q queryer, runID int64, rh *types.RunHistory) (*types.RunHistory, error) {
	if rh.StoredAt.IsZero() {
		rh.StoredAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO run_history (run_id, version_tag, stored_at, user, cc_client_version, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, rh.VersionTag, rh.StoredAt, rh.User, rh.CCClientVersion, rh.Description)
	if err != nil {
		return nil, corekit.WrapDB("create_run_history", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("create_run_history last_insert_id", err)
	}
	rh.ID = id
	rh.RunID = runID
	return rh, nil
}

// qUpdateRunHistoryCounts persists the per-status aggregate refreshed at
// the end of ingestion.
func qUpdateRunHistoryCounts(ctx context.Context, q queryer, runHistoryID int64, counts map[types.DetectionStatus]int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE run_history SET
			count_new = ?, count_resolved = ?, count_unresolved = ?,
			count_reopened = ?, count_off = ?, count_unavailable = ?
		WHERE id = ?
	`, counts[types.DetectionNew], counts[types.DetectionResolved], counts[types.DetectionUnresolved],
		counts[types.DetectionReopened], counts[types.DetectionOff], counts[types.DetectionUnavailable], runHistoryID)
	return corekit.WrapDB("update_run_history_counts", err)
}

func qListRuns(ctx context.Context, q queryer) ([]*types.Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, created_at, latest_duration_ms FROM runs ORDER BY name`)
	if err != nil {
		return nil, corekit.WrapDB("list_runs", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Run
	for rows.Next() {
		r := &types.Run{}
		var ms int64
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &ms); err != nil {
			return nil, corekit.WrapDB("list_runs scan", err)
		}
		r.LatestDuration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, corekit.WrapDB("list_runs rows", rows.Err())
}

// qDeleteRun cascades to RunHistory, Reports (and their bug-path/extended
// data), and the Run's File rows. FileContent is released
// (not deleted outright) so reference counting across Files stays correct.
func qDeleteRun(ctx context.Context, q queryer, runID int64) error {
	rows, err := q.QueryContext(ctx, `SELECT content_hash FROM files WHERE run_id = ?`, runID)
	if err != nil {
		return corekit.WrapDB("delete_run list files", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			_ = rows.Close()
			return corekit.WrapDB("delete_run scan file hash", err)
		}
		hashes = append(hashes, h)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return corekit.WrapDB("delete_run rows", err)
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{"DELETE FROM bug_path_events WHERE report_id IN (SELECT id FROM reports WHERE run_id = ?)", []any{runID}},
		{"DELETE FROM extended_report_data WHERE report_id IN (SELECT id FROM reports WHERE run_id = ?)", []any{runID}},
		{"DELETE FROM comments WHERE report_id IN (SELECT id FROM reports WHERE run_id = ?)", []any{runID}},
		{"DELETE FROM reports WHERE run_id = ?", []any{runID}},
		{"DELETE FROM run_history WHERE run_id = ?", []any{runID}},
		{"DELETE FROM files WHERE run_id = ?", []any{runID}},
		{"DELETE FROM runs WHERE id = ?", []any{runID}},
	}
	for _, s := range stmts {
		if _, err := q.ExecContext(ctx, s.query, s.args...); err != nil {
			return corekit.WrapDB("delete_run cascade", err)
		}
	}
	for _, h := range hashes {
		if err := qReleaseContent(ctx, q, h, -1); err != nil {
			return err
		}
	}
	return nil
}

func qUpsertFile(ctx context.Context, q queryer, f *types.File) (*types.File, error) {
	var existingID int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM files WHERE run_id = ? AND filepath = ?
	`, f.RunID, f.Filepath).Scan(&existingID)
	if err == nil {
		if _, err := q.ExecContext(ctx, `UPDATE files SET content_hash = ? WHERE id = ?`, f.ContentHash, existingID); err != nil {
			return nil, corekit.WrapDB("upsert_file update", err)
		}
		f.ID = existingID
		return f, nil
	}
	if err != sql.ErrNoRows {
		return nil, corekit.WrapDB("upsert_file select", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO files (run_id, filepath, content_hash) VALUES (?, ?, ?)
	`, f.RunID, f.Filepath, f.ContentHash)
	if err != nil {
		return nil, corekit.WrapDB("upsert_file insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("upsert_file last_insert_id", err)
	}
	f.ID = id
	return f, nil
}

func qGetFile(ctx context.Context, q queryer, fileID int64) (*types.File, error) {
	f := &types.File{ID: fileID}
	err := q.QueryRowContext(ctx, `SELECT run_id, filepath, content_hash FROM files WHERE id = ?`, fileID).
		Scan(&f.RunID, &f.Filepath, &f.ContentHash)
	if err != nil {
		return nil, corekit.WrapDB("get_file", err)
	}
	return f, nil
}

// qGetFileByPath looks up a File row by its (run_id, filepath) key, used
// by the ingestion engine to diff a re-ingested path's old content hash
// against its new one before adjusting FileContent reference counts.
func qGetFileByPath(ctx context.Context, q queryer, runID int64, filepath string) (*types.File, error) {
	f := &types.File{RunID: runID, Filepath: filepath}
	err := q.QueryRowContext(ctx, `SELECT id, content_hash FROM files WHERE run_id = ? AND filepath = ?`, runID, filepath).
		Scan(&f.ID, &f.ContentHash)
	if err != nil {
		return nil, corekit.WrapDB("get_file_by_path", err)
	}
	return f, nil
}

// marshalAnnotations/unmarshalAnnotations store the string→string
// annotation map as JSON text; the column is never filtered on directly in
// SQL (ReportFilter.Annotations matching happens in the query builder), so
// a plain TEXT column with JSON round-tripping is sufficient.
func marshalAnnotations(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalAnnotations(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
