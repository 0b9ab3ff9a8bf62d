package types

import "time"

// ReportFilter is the closed set of optional report query fields. There
// is deliberately no open key/value map here: a filter a caller can
// express is a field this struct names, and unknown fields are rejected
// at the façade. List-valued fields are OR'd together; distinct fields
// are AND'd.
type ReportFilter struct {
	Filepath              []string
	CheckerMsg            []string
	CheckerName           []string
	ReportHash            []string
	Severity              []string
	ReviewStatus          []ReviewStatus
	DetectionStatus       []DetectionStatus
	RunName               []string
	RunTag                []string
	ComponentNames        []string
	AnalyzerNames         []string
	CleanupPlanNames      []string

	BugPathLengthMin, BugPathLengthMax *int

	DateDetectedAfter, DateDetectedBefore time.Time
	DateFixedAfter, DateFixedBefore       time.Time
	OpenReportsDate                       *time.Time

	FileMatchesAnyPoint      []string
	ComponentMatchesAnyPoint []string

	// FilepathLike and FilepathExclude are not settable by API callers:
	// the query engine fills them with verbatim LIKE patterns when
	// expanding ComponentNames, since component globs are anchored and
	// an exclusion cannot be folded into the substring-matched Filepath
	// list.
	FilepathLike    []string
	FilepathExclude []string

	// Annotations: values under the same key are OR'd, keys are AND'd.
	Annotations map[string][]string

	// IsUnique collapses rows by ReportHash, choosing the lowest-ID
	// representative; aggregations then count unique hashes.
	IsUnique bool
}

// DiffType is the kind of run-to-run comparison requested.
type DiffType string

const (
	DiffNew        DiffType = "NEW"
	DiffResolved   DiffType = "RESOLVED"
	DiffUnresolved DiffType = "UNRESOLVED"
)

// CompareData specifies a second set of runIds to diff the primary set
// against, plus the kind of diff.
type CompareData struct {
	RunIDs         []int64
	DiffType       DiffType
	OpenReportsDate *time.Time
	SkipStatuses    []DetectionStatus
	TagIDs          []int64
}

// SortField enumerates the stable multi-key sort dimensions
type SortField string

const (
	SortFilename        SortField = "FILENAME"
	SortCheckerName     SortField = "CHECKER_NAME"
	SortSeverity        SortField = "SEVERITY"
	SortReviewStatus    SortField = "REVIEW_STATUS"
	SortDetectionStatus SortField = "DETECTION_STATUS"
	SortBugPathLength   SortField = "BUG_PATH_LENGTH"
	SortTimestamp       SortField = "TIMESTAMP"
)

// SortDirection is ASC or DESC.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortMode is one key of a stable multi-key ordering. Ties across all
// SortModes are always broken by report id ASC.
type SortMode struct {
	Field     SortField
	Direction SortDirection
}

// MaxQuerySize is the hard pagination ceiling every list operation
// clamps to.
const MaxQuerySize = 500

// ReviewStatusRuleFilter scopes review-status rule listing and removal.
type ReviewStatusRuleFilter struct {
	ReportHashes        []string
	ReviewStatuses      []ReviewStatus
	Authors             []string
	NoAssociatedReports bool
}

// AggregateField enumerates the dimensions the get_*_counts aggregation
// family groups by. Distinct from SortField: not every
// aggregation dimension is sortable and vice versa.
type AggregateField string

const (
	AggSeverity        AggregateField = "SEVERITY"
	AggCheckerMsg      AggregateField = "CHECKER_MSG"
	AggReviewStatus    AggregateField = "REVIEW_STATUS"
	AggDetectionStatus AggregateField = "DETECTION_STATUS"
	AggFile            AggregateField = "FILE"
	AggChecker         AggregateField = "CHECKER"
	AggAnalyzerName    AggregateField = "ANALYZER_NAME"
	AggRunHistoryTag   AggregateField = "RUN_HISTORY_TAG"
)

// CommentFilter scopes Comment queries.
type CommentFilter struct {
	ReportID int64
	Kind     *CommentKind
}

// TaskFilter scopes the admin-only get_tasks query.
type TaskFilter struct {
	Kinds      []string
	Statuses   []TaskStatus
	ProductID  *int64
	Actor      string
}
