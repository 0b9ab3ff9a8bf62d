// Package types defines the entities of the report-store data model:
// plain record structs plus the small closed enums attached to them. There
// is no behavior here beyond constructors and enum validation; the query
// builders and storage backends are the packages that know how to persist
// and filter these.
package types

import "time"

// ReviewStatus is the human triage verdict attached to a report via its
// report hash (shared across every report carrying that hash).
type ReviewStatus string

const (
	ReviewUnreviewed     ReviewStatus = "UNREVIEWED"
	ReviewConfirmed      ReviewStatus = "CONFIRMED"
	ReviewFalsePositive  ReviewStatus = "FALSE_POSITIVE"
	ReviewIntentional    ReviewStatus = "INTENTIONAL"
)

func (r ReviewStatus) Valid() bool {
	switch r {
	case ReviewUnreviewed, ReviewConfirmed, ReviewFalsePositive, ReviewIntentional:
		return true
	}
	return false
}

// DetectionStatus is the automated per-ingestion state of a report,
// driven by the reconciliation rules the ingestion engine applies.
type DetectionStatus string

const (
	DetectionNew         DetectionStatus = "NEW"
	DetectionResolved     DetectionStatus = "RESOLVED"
	DetectionUnresolved   DetectionStatus = "UNRESOLVED"
	DetectionReopened     DetectionStatus = "REOPENED"
	DetectionOff          DetectionStatus = "OFF"
	DetectionUnavailable  DetectionStatus = "UNAVAILABLE"
)

// ExtendedKind tags an ExtendedReportData entry.
type ExtendedKind string

const (
	ExtendedNote  ExtendedKind = "NOTE"
	ExtendedMacro ExtendedKind = "MACRO"
	ExtendedFixit ExtendedKind = "FIXIT"
)

// CommentKind distinguishes author-written comments from ones the triage
// manager emits automatically on review-status transitions.
type CommentKind string

const (
	CommentUser   CommentKind = "USER"
	CommentSystem CommentKind = "SYSTEM"
)

// TaskStatus is the lifecycle state of a background Task.
type TaskStatus string

const (
	TaskAllocated TaskStatus = "ALLOCATED"
	TaskEnqueued  TaskStatus = "ENQUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskDropped   TaskStatus = "DROPPED"
)

// Terminal reports whether s is one of the terminal task statuses.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskDropped:
		return true
	}
	return false
}

// DBStatus is the outcome of comparing a product's persisted schema
// revision against the code's expected revision.
type DBStatus string

const (
	DBStatusOK                 DBStatus = "OK"
	DBStatusMissing             DBStatus = "MISSING"
	DBStatusMismatchOK          DBStatus = "SCHEMA_MISMATCH_OK"
	DBStatusMismatchNo          DBStatus = "SCHEMA_MISMATCH_NO"
	DBStatusSchemaMissing       DBStatus = "SCHEMA_MISSING"
	DBStatusSchemaInitError     DBStatus = "SCHEMA_INIT_ERROR"
	DBStatusSchemaUpgradeFailed DBStatus = "SCHEMA_UPGRADE_FAILED"
	DBStatusFailedToConnect     DBStatus = "FAILED_TO_CONNECT"
)

// Servable reports whether queries may run against a product in this state.
func (s DBStatus) Servable() bool {
	return s == DBStatusOK || s == DBStatusMismatchOK
}

// Product is a tenant: it owns exactly one database.
type Product struct {
	ID                        int64
	Endpoint                  string // unique URL-safe slug
	DisplayedName             string
	Description               string
	DBConnectionSpec          string
	RunLimit                  int
	ReviewStatusChangeDisabled bool
}

// Run is a named stream of analyses over time, scoped to one product.
type Run struct {
	ID             int64
	ProductID      int64
	Name           string
	CreatedAt      time.Time
	LatestDuration time.Duration
}

// RunHistory is one storage snapshot on a Run's timeline.
type RunHistory struct {
	ID              int64
	RunID           int64
	VersionTag      string
	StoredAt        time.Time
	User            string
	CCClientVersion string
	Description     string

	// Counts is the refreshed per-status aggregate,
	// keyed by DetectionStatus.
	Counts map[DetectionStatus]int
}

// File is a logical path within a run, pointing at a FileContent
// blob by hash.
type File struct {
	ID          int64
	RunID       int64
	Filepath    string
	ContentHash string
}

// FileContent is a content-addressed, immutable blob.
type FileContent struct {
	ContentHash string
	Bytes       []byte
	BlameBytes  []byte // optional blame info, nil if absent
	RefCount    int
}

// BugPathPosition is one point in a bug path.
type BugPathPosition struct {
	FileID   int64
	StartLine, StartCol int
	EndLine, EndCol     int
}

func (p BugPathPosition) Empty() bool {
	return p.StartLine == 0 && p.StartCol == 0 && p.EndLine == 0 && p.EndCol == 0
}

// BugPathEvent is one step in the ordered trace attached to a Report.
type BugPathEvent struct {
	Position BugPathPosition
	Msg      string
}

// ExtendedReportData is a NOTE/MACRO/FIXIT annotation attached to a Report,
// structurally identical to a BugPathEvent but tagged with a Kind.
type ExtendedReportData struct {
	Position BugPathPosition
	Msg      string
	Kind     ExtendedKind
}

// Report is a single finding.
type Report struct {
	ID              int64
	RunID           int64
	FileID          int64
	Line, Column    int
	CheckerID       string
	AnalyzerName    string
	CheckerMsg      string
	Severity        string
	ReportHash      string
	BugPathLength   int
	DetectedAt      time.Time
	FixedAt         *time.Time
	DetectionStatus DetectionStatus
	Annotations     map[string]string

	BugPath      []BugPathEvent
	ExtendedData []ExtendedReportData
}

// ReviewStatusRule is the triage rule keyed by report hash, shared by
// every Report in the product carrying that hash.
type ReviewStatusRule struct {
	ReportHash string
	Status     ReviewStatus
	Comment    string
	Author     string
	Date       time.Time
	IsInSource bool
}

// Comment is a free-text note on a single Report.
type Comment struct {
	ID        int64
	ReportID  int64
	Author    string
	Message   string
	CreatedAt time.Time
	Kind      CommentKind
}

// SourceComponent is a named `{+pattern|-pattern}*` path-glob filter.
type SourceComponent struct {
	Name     string
	Patterns []string
}

// CleanupPlan is a named bucket of report hashes with a due date.
type CleanupPlan struct {
	ID       int64
	Name     string
	DueDate  time.Time
	Closed   bool
	Hashes   []string
}

// Task is a background job record.
type Task struct {
	Token          string
	Kind           string
	Status         TaskStatus
	ProductID      *int64
	Actor          string
	EnqueuedAt     time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LastHeartbeat  time.Time
	CancelFlag     bool
	ConsumedFlag   bool
	ErrorMessage   string
}
