//go:build !cgo

package dolt

import (
	"context"
	"fmt"
	"time"

	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/types"
)

// DoltStore is a stub for non-CGO builds. The embedded Dolt engine links
// against CGO-only dependencies, so every method here reports a clear error
// instead of silently no-op'ing. This lets the rest of the module build
// (and its non-storage tests run) without CGO, while a CGO-less server
// binary fails loudly at startup rather than serving a broken store.
type DoltStore struct{}

var errNoCGO = fmt.Errorf("embedded dolt storage requires building with CGO_ENABLED=1")

var _ storage.Store = (*DoltStore)(nil)

// Open always fails on non-CGO builds.
func Open(ctx context.Context, cfg *Config) (*DoltStore, error) {
	return nil, errNoCGO
}

func (s *DoltStore) Close() error { return nil }

func (s *DoltStore) SchemaStatus(ctx context.Context) (types.DBStatus, error) {
	return types.DBStatusFailedToConnect, errNoCGO
}

func (s *DoltStore) Upgrade(ctx context.Context) error { return errNoCGO }

func (s *DoltStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return errNoCGO
}

func (s *DoltStore) MissingContentHashes(ctx context.Context, hashes []string) ([]string, error) {
	return nil, errNoCGO
}

func (s *DoltStore) MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error) {
	return nil, errNoCGO
}

func (s *DoltStore) PutContent(ctx context.Context, hash string, bytes []byte, blame []byte) error {
	return errNoCGO
}

func (s *DoltStore) GetContent(ctx context.Context, hash string) (*types.FileContent, error) {
	return nil, errNoCGO
}

func (s *DoltStore) ReleaseContent(ctx context.Context, hash string, refDelta int) error {
	return errNoCGO
}

func (s *DoltStore) GetOrCreateRun(ctx context.Context, name string) (*types.Run, error) {
	return nil, errNoCGO
}

func (s *DoltStore) CreateRunHistory(ctx context.Context, runID int64, rh *types.RunHistory) (*types.RunHistory, error) {
	return nil, errNoCGO
}

func (s *DoltStore) UpdateRunHistoryCounts(ctx context.Context, runHistoryID int64, counts map[types.DetectionStatus]int) error {
	return errNoCGO
}

func (s *DoltStore) ListRuns(ctx context.Context) ([]*types.Run, error) { return nil, errNoCGO }

func (s *DoltStore) DeleteRun(ctx context.Context, runID int64) error { return errNoCGO }

func (s *DoltStore) UpsertFile(ctx context.Context, f *types.File) (*types.File, error) {
	return nil, errNoCGO
}

func (s *DoltStore) GetFile(ctx context.Context, fileID int64) (*types.File, error) {
	return nil, errNoCGO
}

func (s *DoltStore) GetFileByPath(ctx context.Context, runID int64, filepath string) (*types.File, error) {
	return nil, errNoCGO
}

func (s *DoltStore) CurrentReportsForRun(ctx context.Context, runID int64) ([]*types.Report, error) {
	return nil, errNoCGO
}

func (s *DoltStore) InsertReport(ctx context.Context, r *types.Report) (*types.Report, error) {
	return nil, errNoCGO
}

func (s *DoltStore) MarkFixed(ctx context.Context, reportID int64, fixedAt time.Time) error {
	return errNoCGO
}

func (s *DoltStore) UpdateDetectionStatus(ctx context.Context, reportID int64, status types.DetectionStatus) error {
	return errNoCGO
}

func (s *DoltStore) QueryReports(ctx context.Context, runIDs []int64, f types.ReportFilter, sorts []types.SortMode, limit, offset int) ([]*types.Report, error) {
	return nil, errNoCGO
}

func (s *DoltStore) CountReports(ctx context.Context, runIDs []int64, f types.ReportFilter) (int64, error) {
	return 0, errNoCGO
}

func (s *DoltStore) GetReportDetails(ctx context.Context, reportID int64) (*types.Report, error) {
	return nil, errNoCGO
}

func (s *DoltStore) AggregateBy(ctx context.Context, runIDs []int64, f types.ReportFilter, field types.AggregateField) (map[string]int64, error) {
	return nil, errNoCGO
}

func (s *DoltStore) UpsertReviewStatusRule(ctx context.Context, rule *types.ReviewStatusRule) error {
	return errNoCGO
}

func (s *DoltStore) GetReviewStatusRule(ctx context.Context, reportHash string) (*types.ReviewStatusRule, error) {
	return nil, errNoCGO
}

func (s *DoltStore) ListReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	return nil, errNoCGO
}

func (s *DoltStore) RemoveReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter) (int64, error) {
	return 0, errNoCGO
}

func (s *DoltStore) AddComment(ctx context.Context, c *types.Comment) (*types.Comment, error) {
	return nil, errNoCGO
}

func (s *DoltStore) UpdateComment(ctx context.Context, id int64, message string) error {
	return errNoCGO
}

func (s *DoltStore) RemoveComment(ctx context.Context, id int64) error { return errNoCGO }

func (s *DoltStore) GetComments(ctx context.Context, reportID int64) ([]*types.Comment, error) {
	return nil, errNoCGO
}

func (s *DoltStore) GetCommentCount(ctx context.Context, reportID int64) (int64, error) {
	return 0, errNoCGO
}

func (s *DoltStore) CreateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	return nil, errNoCGO
}

func (s *DoltStore) UpdateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) error {
	return errNoCGO
}

func (s *DoltStore) RemoveCleanupPlan(ctx context.Context, id int64) error { return errNoCGO }

func (s *DoltStore) SetCleanupPlanClosed(ctx context.Context, id int64, closed bool) error {
	return errNoCGO
}

func (s *DoltStore) SetCleanupPlanMembers(ctx context.Context, id int64, hashes []string, add bool) error {
	return errNoCGO
}

func (s *DoltStore) ReportHashes(ctx context.Context, runIDs []int64, openDate *time.Time, tagIDs []int64, skipStatuses []types.DetectionStatus) ([]string, error) {
	return nil, errNoCGO
}

func (s *DoltStore) GetComment(ctx context.Context, id int64) (*types.Comment, error) {
	return nil, errNoCGO
}

func (s *DoltStore) ListCleanupPlans(ctx context.Context, includeClosed bool) ([]*types.CleanupPlan, error) {
	return nil, errNoCGO
}

func (s *DoltStore) UpsertSourceComponent(ctx context.Context, c *types.SourceComponent) error {
	return errNoCGO
}

func (s *DoltStore) GetSourceComponent(ctx context.Context, name string) (*types.SourceComponent, error) {
	return nil, errNoCGO
}

func (s *DoltStore) ListSourceComponents(ctx context.Context) ([]*types.SourceComponent, error) {
	return nil, errNoCGO
}

func (s *DoltStore) RemoveSourceComponent(ctx context.Context, name string) error {
	return errNoCGO
}

func (s *DoltStore) DeleteReport(ctx context.Context, reportID int64) error { return errNoCGO }
