//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/types"
)

var _ storage.Store = (*DoltStore)(nil)
var _ storage.Tx = (*doltTx)(nil)

// initSchemaOnDB creates every table in schema.go if missing, seeds
// defaultConfig, runs RunMigrations, and records currentSchemaVersion. A
// database already at the current version short-circuits after a single
// SELECT.
func initSchemaOnDB(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, "SELECT `value` FROM config WHERE `key` = 'schema_version'").Scan(&version)
	if err == nil && version >= currentSchemaVersion {
		return nil
	}

	for _, stmt := range splitStatements(schema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w\nstatement: %s", err, truncateForError(stmt))
		}
	}
	for _, stmt := range splitStatements(defaultConfig) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("insert default config: %w", err)
		}
	}

	if err := RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO config (`key`, `value`) VALUES ('schema_version', ?) ON DUPLICATE KEY UPDATE `value` = ?",
		currentSchemaVersion, currentSchemaVersion)
	return err
}

// splitStatements breaks a multi-statement DDL script on top-level
// semicolons, respecting quoted/backtick strings, since the embedded engine
// does not accept multi-statement Exec calls.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	var stringChar byte

	for i := 0; i < len(script); i++ {
		c := script[i]
		if inString {
			current.WriteByte(c)
			if c == stringChar && (i == 0 || script[i-1] != '\\') {
				inString = false
			}
			continue
		}
		if c == '\'' || c == '"' || c == '`' {
			inString = true
			stringChar = c
			current.WriteByte(c)
			continue
		}
		if c == ';' {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

func truncateForError(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}

// SchemaStatus compares the persisted schema_version against
// currentSchemaVersion, returning the DBStatus values
func (s *DoltStore) SchemaStatus(ctx context.Context) (types.DBStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.DBStatusFailedToConnect, corekit.New(corekit.KindDatabase, "schema_status", fmt.Errorf("store is closed"))
	}
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT `value` FROM config WHERE `key` = 'schema_version'").Scan(&version)
	if err == sql.ErrNoRows {
		return types.DBStatusSchemaMissing, nil
	}
	if err != nil {
		return types.DBStatusFailedToConnect, corekit.WrapDB("schema_status", err)
	}
	switch {
	case version == currentSchemaVersion:
		return types.DBStatusOK, nil
	case version < currentSchemaVersion:
		return types.DBStatusMismatchOK, nil
	default:
		return types.DBStatusMismatchNo, nil
	}
}

// Upgrade re-runs schema creation/migrations against a database that
// SchemaStatus reported as DBStatusMismatchOK.
func (s *DoltStore) Upgrade(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corekit.New(corekit.KindDatabase, "upgrade", fmt.Errorf("store is closed"))
	}
	if err := initSchemaOnDB(ctx, s.db); err != nil {
		return corekit.New(corekit.KindDatabase, "upgrade", err)
	}
	return nil
}

// doltTx binds every Store method to a single *sql.Tx, so callers inside
// WithTx see the same interface as the autocommit DoltStore but with
// transactional isolation.
type doltTx struct {
	tx *sql.Tx
}

func (s *DoltStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return corekit.New(corekit.KindDatabase, "with_tx", fmt.Errorf("store is closed"))
	}
	start := time.Now()
	sqlTx, err := s.db.BeginTx(ctx, nil)
	doltMetrics.lockWaitMs.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return corekit.WrapDB("with_tx begin", err)
	}
	tx := &doltTx{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return corekit.WrapDB("with_tx commit", err)
	}
	return nil
}

func (t *doltTx) Commit() error   { return corekit.WrapDB("tx_commit", t.tx.Commit()) }
func (t *doltTx) Rollback() error { return corekit.WrapDB("tx_rollback", t.tx.Rollback()) }

// doltTx's lifecycle/WithTx methods delegate to a no-op/disallowed
// implementation: nested transactions aren't supported; a nested WithTx
// reuses the outer transaction.
func (t *doltTx) Close() error { return nil }
func (t *doltTx) SchemaStatus(ctx context.Context) (types.DBStatus, error) {
	return types.DBStatusOK, nil
}
func (t *doltTx) Upgrade(ctx context.Context) error { return nil }
func (t *doltTx) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return fn(t)
}

func (s *DoltStore) MissingContentHashes(ctx context.Context, hashes []string) ([]string, error) {
	return qMissingContentHashes(ctx, s.db, hashes)
}
func (t *doltTx) MissingContentHashes(ctx context.Context, hashes []string) ([]string, error) {
	return qMissingContentHashes(ctx, t.tx, hashes)
}

func (s *DoltStore) MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error) {
	return qMissingBlameHashes(ctx, s.db, hashes)
}
func (t *doltTx) MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error) {
	return qMissingBlameHashes(ctx, t.tx, hashes)
}

func (s *DoltStore) PutContent(ctx context.Context, hash string, bytes []byte, blame []byte) error {
	return qPutContent(ctx, s.db, hash, bytes, blame)
}
func (t *doltTx) PutContent(ctx context.Context, hash string, bytes []byte, blame []byte) error {
	return qPutContent(ctx, t.tx, hash, bytes, blame)
}

func (s *DoltStore) GetContent(ctx context.Context, hash string) (*types.FileContent, error) {
	return qGetContent(ctx, s.db, hash)
}
func (t *doltTx) GetContent(ctx context.Context, hash string) (*types.FileContent, error) {
	return qGetContent(ctx, t.tx, hash)
}

func (s *DoltStore) ReleaseContent(ctx context.Context, hash string, refDelta int) error {
	return qReleaseContent(ctx, s.db, hash, refDelta)
}
func (t *doltTx) ReleaseContent(ctx context.Context, hash string, refDelta int) error {
	return qReleaseContent(ctx, t.tx, hash, refDelta)
}

func (s *DoltStore) GetOrCreateRun(ctx context.Context, name string) (*types.Run, error) {
	return qGetOrCreateRun(ctx, s.db, name)
}
func (t *doltTx) GetOrCreateRun(ctx context.Context, name string) (*types.Run, error) {
	return qGetOrCreateRun(ctx, t.tx, name)
}

func (s *DoltStore) CreateRunHistory(ctx context.Context, runID int64, rh *types.RunHistory) (*types.RunHistory, error) {
	return qCreateRunHistory(ctx, s.db, runID, rh)
}
func (t *doltTx) CreateRunHistory(ctx context.Context, runID int64, rh *types.RunHistory) (*types.RunHistory, error) {
	return qCreateRunHistory(ctx, t.tx, runID, rh)
}

func (s *DoltStore) UpdateRunHistoryCounts(ctx context.Context, runHistoryID int64, counts map[types.DetectionStatus]int) error {
	return qUpdateRunHistoryCounts(ctx, s.db, runHistoryID, counts)
}
func (t *doltTx) UpdateRunHistoryCounts(ctx context.Context, runHistoryID int64, counts map[types.DetectionStatus]int) error {
	return qUpdateRunHistoryCounts(ctx, t.tx, runHistoryID, counts)
}

func (s *DoltStore) ListRuns(ctx context.Context) ([]*types.Run, error) {
	return qListRuns(ctx, s.db)
}
func (t *doltTx) ListRuns(ctx context.Context) ([]*types.Run, error) {
	return qListRuns(ctx, t.tx)
}

func (s *DoltStore) DeleteRun(ctx context.Context, runID int64) error {
	return qDeleteRun(ctx, s.db, runID)
}
func (t *doltTx) DeleteRun(ctx context.Context, runID int64) error {
	return qDeleteRun(ctx, t.tx, runID)
}

func (s *DoltStore) UpsertFile(ctx context.Context, f *types.File) (*types.File, error) {
	return qUpsertFile(ctx, s.db, f)
}
func (t *doltTx) UpsertFile(ctx context.Context, f *types.File) (*types.File, error) {
	return qUpsertFile(ctx, t.tx, f)
}

func (s *DoltStore) GetFile(ctx context.Context, fileID int64) (*types.File, error) {
	return qGetFile(ctx, s.db, fileID)
}
func (t *doltTx) GetFile(ctx context.Context, fileID int64) (*types.File, error) {
	return qGetFile(ctx, t.tx, fileID)
}

func (s *DoltStore) GetFileByPath(ctx context.Context, runID int64, filepath string) (*types.File, error) {
	return qGetFileByPath(ctx, s.db, runID, filepath)
}
func (t *doltTx) GetFileByPath(ctx context.Context, runID int64, filepath string) (*types.File, error) {
	return qGetFileByPath(ctx, t.tx, runID, filepath)
}

func (s *DoltStore) CurrentReportsForRun(ctx context.Context, runID int64) ([]*types.Report, error) {
	return qCurrentReportsForRun(ctx, s.db, runID)
}
func (t *doltTx) CurrentReportsForRun(ctx context.Context, runID int64) ([]*types.Report, error) {
	return qCurrentReportsForRun(ctx, t.tx, runID)
}

func (s *DoltStore) InsertReport(ctx context.Context, r *types.Report) (*types.Report, error) {
	return qInsertReport(ctx, s.db, r)
}
func (t *doltTx) InsertReport(ctx context.Context, r *types.Report) (*types.Report, error) {
	return qInsertReport(ctx, t.tx, r)
}

func (s *DoltStore) DeleteReport(ctx context.Context, reportID int64) error {
	return qDeleteReport(ctx, s.db, reportID)
}
func (t *doltTx) DeleteReport(ctx context.Context, reportID int64) error {
	return qDeleteReport(ctx, t.tx, reportID)
}

func (s *DoltStore) MarkFixed(ctx context.Context, reportID int64, fixedAt time.Time) error {
	return qMarkFixed(ctx, s.db, reportID, fixedAt)
}
func (t *doltTx) MarkFixed(ctx context.Context, reportID int64, fixedAt time.Time) error {
	return qMarkFixed(ctx, t.tx, reportID, fixedAt)
}

func (s *DoltStore) UpdateDetectionStatus(ctx context.Context, reportID int64, status types.DetectionStatus) error {
	return qUpdateDetectionStatus(ctx, s.db, reportID, status)
}
func (t *doltTx) UpdateDetectionStatus(ctx context.Context, reportID int64, status types.DetectionStatus) error {
	return qUpdateDetectionStatus(ctx, t.tx, reportID, status)
}

func (s *DoltStore) QueryReports(ctx context.Context, runIDs []int64, f types.ReportFilter, sorts []types.SortMode, limit, offset int) ([]*types.Report, error) {
	return qQueryReports(ctx, s.db, runIDs, f, sorts, clampLimit(limit), offset)
}
func (t *doltTx) QueryReports(ctx context.Context, runIDs []int64, f types.ReportFilter, sorts []types.SortMode, limit, offset int) ([]*types.Report, error) {
	return qQueryReports(ctx, t.tx, runIDs, f, sorts, clampLimit(limit), offset)
}

func (s *DoltStore) CountReports(ctx context.Context, runIDs []int64, f types.ReportFilter) (int64, error) {
	return qCountReports(ctx, s.db, runIDs, f)
}
func (t *doltTx) CountReports(ctx context.Context, runIDs []int64, f types.ReportFilter) (int64, error) {
	return qCountReports(ctx, t.tx, runIDs, f)
}

func (s *DoltStore) GetReportDetails(ctx context.Context, reportID int64) (*types.Report, error) {
	return qGetReportDetails(ctx, s.db, reportID)
}
func (t *doltTx) GetReportDetails(ctx context.Context, reportID int64) (*types.Report, error) {
	return qGetReportDetails(ctx, t.tx, reportID)
}

func (s *DoltStore) AggregateBy(ctx context.Context, runIDs []int64, f types.ReportFilter, field types.AggregateField) (map[string]int64, error) {
	return qAggregateBy(ctx, s.db, runIDs, f, field)
}
func (t *doltTx) AggregateBy(ctx context.Context, runIDs []int64, f types.ReportFilter, field types.AggregateField) (map[string]int64, error) {
	return qAggregateBy(ctx, t.tx, runIDs, f, field)
}

func (s *DoltStore) ReportHashes(ctx context.Context, runIDs []int64, openDate *time.Time, tagIDs []int64, skipStatuses []types.DetectionStatus) ([]string, error) {
	return qReportHashes(ctx, s.db, runIDs, openDate, tagIDs, skipStatuses)
}
func (t *doltTx) ReportHashes(ctx context.Context, runIDs []int64, openDate *time.Time, tagIDs []int64, skipStatuses []types.DetectionStatus) ([]string, error) {
	return qReportHashes(ctx, t.tx, runIDs, openDate, tagIDs, skipStatuses)
}

func (s *DoltStore) UpsertReviewStatusRule(ctx context.Context, rule *types.ReviewStatusRule) error {
	return qUpsertReviewStatusRule(ctx, s.db, rule)
}
func (t *doltTx) UpsertReviewStatusRule(ctx context.Context, rule *types.ReviewStatusRule) error {
	return qUpsertReviewStatusRule(ctx, t.tx, rule)
}

func (s *DoltStore) GetReviewStatusRule(ctx context.Context, reportHash string) (*types.ReviewStatusRule, error) {
	return qGetReviewStatusRule(ctx, s.db, reportHash)
}
func (t *doltTx) GetReviewStatusRule(ctx context.Context, reportHash string) (*types.ReviewStatusRule, error) {
	return qGetReviewStatusRule(ctx, t.tx, reportHash)
}

func (s *DoltStore) ListReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	return qListReviewStatusRules(ctx, s.db, f, clampLimit(limit), offset)
}
func (t *doltTx) ListReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	return qListReviewStatusRules(ctx, t.tx, f, clampLimit(limit), offset)
}

func (s *DoltStore) RemoveReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter) (int64, error) {
	return qRemoveReviewStatusRules(ctx, s.db, f)
}
func (t *doltTx) RemoveReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter) (int64, error) {
	return qRemoveReviewStatusRules(ctx, t.tx, f)
}

func (s *DoltStore) AddComment(ctx context.Context, c *types.Comment) (*types.Comment, error) {
	return qAddComment(ctx, s.db, c)
}
func (t *doltTx) AddComment(ctx context.Context, c *types.Comment) (*types.Comment, error) {
	return qAddComment(ctx, t.tx, c)
}

func (s *DoltStore) UpdateComment(ctx context.Context, id int64, message string) error {
	return qUpdateComment(ctx, s.db, id, message)
}
func (t *doltTx) UpdateComment(ctx context.Context, id int64, message string) error {
	return qUpdateComment(ctx, t.tx, id, message)
}

func (s *DoltStore) RemoveComment(ctx context.Context, id int64) error {
	return qRemoveComment(ctx, s.db, id)
}
func (t *doltTx) RemoveComment(ctx context.Context, id int64) error {
	return qRemoveComment(ctx, t.tx, id)
}

func (s *DoltStore) GetComments(ctx context.Context, reportID int64) ([]*types.Comment, error) {
	return qGetComments(ctx, s.db, reportID)
}
func (t *doltTx) GetComments(ctx context.Context, reportID int64) ([]*types.Comment, error) {
	return qGetComments(ctx, t.tx, reportID)
}

func (s *DoltStore) GetCommentCount(ctx context.Context, reportID int64) (int64, error) {
	return qGetCommentCount(ctx, s.db, reportID)
}
func (t *doltTx) GetCommentCount(ctx context.Context, reportID int64) (int64, error) {
	return qGetCommentCount(ctx, t.tx, reportID)
}

func (s *DoltStore) GetComment(ctx context.Context, id int64) (*types.Comment, error) {
	return qGetComment(ctx, s.db, id)
}
func (t *doltTx) GetComment(ctx context.Context, id int64) (*types.Comment, error) {
	return qGetComment(ctx, t.tx, id)
}

func (s *DoltStore) CreateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	return qCreateCleanupPlan(ctx, s.db, plan)
}
func (t *doltTx) CreateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	return qCreateCleanupPlan(ctx, t.tx, plan)
}

func (s *DoltStore) UpdateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) error {
	return qUpdateCleanupPlan(ctx, s.db, plan)
}
func (t *doltTx) UpdateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) error {
	return qUpdateCleanupPlan(ctx, t.tx, plan)
}

func (s *DoltStore) RemoveCleanupPlan(ctx context.Context, id int64) error {
	return qRemoveCleanupPlan(ctx, s.db, id)
}
func (t *doltTx) RemoveCleanupPlan(ctx context.Context, id int64) error {
	return qRemoveCleanupPlan(ctx, t.tx, id)
}

func (s *DoltStore) SetCleanupPlanClosed(ctx context.Context, id int64, closed bool) error {
	return qSetCleanupPlanClosed(ctx, s.db, id, closed)
}
func (t *doltTx) SetCleanupPlanClosed(ctx context.Context, id int64, closed bool) error {
	return qSetCleanupPlanClosed(ctx, t.tx, id, closed)
}

func (s *DoltStore) SetCleanupPlanMembers(ctx context.Context, id int64, hashes []string, add bool) error {
	return qSetCleanupPlanMembers(ctx, s.db, id, hashes, add)
}
func (t *doltTx) SetCleanupPlanMembers(ctx context.Context, id int64, hashes []string, add bool) error {
	return qSetCleanupPlanMembers(ctx, t.tx, id, hashes, add)
}

func (s *DoltStore) ListCleanupPlans(ctx context.Context, includeClosed bool) ([]*types.CleanupPlan, error) {
	return qListCleanupPlans(ctx, s.db, includeClosed)
}
func (t *doltTx) ListCleanupPlans(ctx context.Context, includeClosed bool) ([]*types.CleanupPlan, error) {
	return qListCleanupPlans(ctx, t.tx, includeClosed)
}

func (s *DoltStore) UpsertSourceComponent(ctx context.Context, c *types.SourceComponent) error {
	return qUpsertSourceComponent(ctx, s.db, c)
}
func (t *doltTx) UpsertSourceComponent(ctx context.Context, c *types.SourceComponent) error {
	return qUpsertSourceComponent(ctx, t.tx, c)
}

func (s *DoltStore) GetSourceComponent(ctx context.Context, name string) (*types.SourceComponent, error) {
	return qGetSourceComponent(ctx, s.db, name)
}
func (t *doltTx) GetSourceComponent(ctx context.Context, name string) (*types.SourceComponent, error) {
	return qGetSourceComponent(ctx, t.tx, name)
}

func (s *DoltStore) ListSourceComponents(ctx context.Context) ([]*types.SourceComponent, error) {
	return qListSourceComponents(ctx, s.db)
}
func (t *doltTx) ListSourceComponents(ctx context.Context) ([]*types.SourceComponent, error) {
	return qListSourceComponents(ctx, t.tx)
}

func (s *DoltStore) RemoveSourceComponent(ctx context.Context, name string) error {
	return qRemoveSourceComponent(ctx, s.db, name)
}
func (t *doltTx) RemoveSourceComponent(ctx context.Context, name string) error {
	return qRemoveSourceComponent(ctx, t.tx, name)
}

// clampLimit enforces MaxQuerySize regardless of what a
// caller asked for, and substitutes the ceiling for non-positive values.
func clampLimit(limit int) int {
	if limit <= 0 || limit > types.MaxQuerySize {
		return types.MaxQuerySize
	}
	return limit
}
