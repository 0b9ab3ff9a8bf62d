// Package storage declares the per-product persistence contract. Concrete
// backends (internal/storage/dolt, internal/storage/memory) implement
// Store; everything above this layer (canon, ingest, query, triage)
// programs against the interface only.
package storage

import (
	"context"
	"time"

	"github.com/findingstore/findingstore/internal/types"
)

// Tx is a unit-of-work handle. Every ingestion and every triage mutation
// that must be atomic runs inside one Tx. Store.WithTx manages begin,
// commit and rollback-on-error; callers only see the Store-shaped view of
// operations bound to the transaction.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Store is the full per-product persistence contract: schema bootstrap,
// content-addressed blobs, runs/reports, and triage state. A Store value
// returned by Registry.Open is safe for concurrent use by multiple
// goroutines; WithTx serializes writers that need a consistent view.
type Store interface {
	// Lifecycle
	Close() error
	SchemaStatus(ctx context.Context) (types.DBStatus, error)
	Upgrade(ctx context.Context) error

	// WithTx runs fn inside a single serializable transaction, committing
	// if fn returns nil and rolling back otherwise. Nested calls reuse the
	// outer transaction rather than opening a second one.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ContentStore
	RunStore
	ReportStore
	TriageStore
	ComponentStore
}

// ContentStore is the content-addressed blob layer.
type ContentStore interface {
	MissingContentHashes(ctx context.Context, hashes []string) ([]string, error)
	MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error)
	PutContent(ctx context.Context, hash string, bytes []byte, blame []byte) error
	GetContent(ctx context.Context, hash string) (*types.FileContent, error)
	ReleaseContent(ctx context.Context, hash string, refDelta int) error
}

// RunStore manages Run/RunHistory/File rows.
type RunStore interface {
	GetOrCreateRun(ctx context.Context, name string) (*types.Run, error)
	CreateRunHistory(ctx context.Context, runID int64, rh *types.RunHistory) (*types.RunHistory, error)
	UpdateRunHistoryCounts(ctx context.Context, runHistoryID int64, counts map[types.DetectionStatus]int) error
	ListRuns(ctx context.Context) ([]*types.Run, error)
	DeleteRun(ctx context.Context, runID int64) error
	UpsertFile(ctx context.Context, f *types.File) (*types.File, error)
	GetFile(ctx context.Context, fileID int64) (*types.File, error)
	GetFileByPath(ctx context.Context, runID int64, filepath string) (*types.File, error)
}

// ReportStore is the query-side of C5 plus the write-side the ingestion
// engine needs for reconciliation.
type ReportStore interface {
	CurrentReportsForRun(ctx context.Context, runID int64) ([]*types.Report, error)
	InsertReport(ctx context.Context, r *types.Report) (*types.Report, error)
	DeleteReport(ctx context.Context, reportID int64) error
	MarkFixed(ctx context.Context, reportID int64, fixedAt time.Time) error
	UpdateDetectionStatus(ctx context.Context, reportID int64, status types.DetectionStatus) error
	QueryReports(ctx context.Context, runIDs []int64, f types.ReportFilter, sorts []types.SortMode, limit, offset int) ([]*types.Report, error)
	CountReports(ctx context.Context, runIDs []int64, f types.ReportFilter) (int64, error)
	GetReportDetails(ctx context.Context, reportID int64) (*types.Report, error)
	AggregateBy(ctx context.Context, runIDs []int64, f types.ReportFilter, field types.AggregateField) (map[string]int64, error)

	// ReportHashes returns the distinct report hashes present in runIDs,
	// optionally narrowed to the "as-of" snapshot of openDate or of the
	// run-history rows in tagIDs, and excluding reports whose detection
	// status is in skipStatuses. This is the set primitive the diff
	// operations are built from.
	ReportHashes(ctx context.Context, runIDs []int64, openDate *time.Time, tagIDs []int64, skipStatuses []types.DetectionStatus) ([]string, error)
}

// TriageStore covers review-status rules, comments, and cleanup plans.
type TriageStore interface {
	UpsertReviewStatusRule(ctx context.Context, rule *types.ReviewStatusRule) error
	GetReviewStatusRule(ctx context.Context, reportHash string) (*types.ReviewStatusRule, error)
	ListReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error)
	RemoveReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter) (int64, error)

	AddComment(ctx context.Context, c *types.Comment) (*types.Comment, error)
	UpdateComment(ctx context.Context, id int64, message string) error
	RemoveComment(ctx context.Context, id int64) error
	GetComments(ctx context.Context, reportID int64) ([]*types.Comment, error)
	GetCommentCount(ctx context.Context, reportID int64) (int64, error)

	GetComment(ctx context.Context, id int64) (*types.Comment, error)

	CreateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) (*types.CleanupPlan, error)
	UpdateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) error
	RemoveCleanupPlan(ctx context.Context, id int64) error
	SetCleanupPlanClosed(ctx context.Context, id int64, closed bool) error
	SetCleanupPlanMembers(ctx context.Context, id int64, hashes []string, add bool) error

	// ListCleanupPlans returns every plan with its member hashes
	// populated, so the query engine can fold cleanup_plan_names filters
	// into concrete report-hash sets.
	ListCleanupPlans(ctx context.Context, includeClosed bool) ([]*types.CleanupPlan, error)
}

// ComponentStore manages the named path-glob filters (SourceComponent)
// queries and UI grouping use.
type ComponentStore interface {
	UpsertSourceComponent(ctx context.Context, c *types.SourceComponent) error
	GetSourceComponent(ctx context.Context, name string) (*types.SourceComponent, error)
	ListSourceComponents(ctx context.Context) ([]*types.SourceComponent, error)
	RemoveSourceComponent(ctx context.Context, name string) error
}
