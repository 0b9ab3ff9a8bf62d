// Package query implements the query engine: filtered, sorted,
// paginated report queries, the aggregation counters, run-to-run diffs,
// and report/source detail lookups, all against one product's store.
package query

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/types"
)

// Engine answers queries for a single product. It is cheap to construct;
// the façade builds one per resolved product store.
type Engine struct {
	st  storage.Store
	log *zap.SugaredLogger
}

func New(st storage.Store, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{st: st, log: log}
}

// resolveFilter expands the indirect filter fields (component names,
// cleanup plan names, any-point globs) into the concrete path patterns
// and hash sets the storage layer understands. The input filter is not
// mutated.
func (e *Engine) resolveFilter(ctx context.Context, f types.ReportFilter) (types.ReportFilter, error) {
	out := f

	if len(f.ComponentNames) > 0 || len(f.ComponentMatchesAnyPoint) > 0 {
		components, err := e.st.ListSourceComponents(ctx)
		if err != nil {
			return out, err
		}
		if len(f.ComponentNames) > 0 {
			expandComponents(components, f.ComponentNames, &out, false)
			out.ComponentNames = nil
		}
		if len(f.ComponentMatchesAnyPoint) > 0 {
			expandComponents(components, f.ComponentMatchesAnyPoint, &out, true)
			out.ComponentMatchesAnyPoint = nil
		}
	}

	if len(f.FileMatchesAnyPoint) > 0 {
		globs := make([]string, len(f.FileMatchesAnyPoint))
		for i, g := range f.FileMatchesAnyPoint {
			globs[i] = globToLike(g)
		}
		out.FileMatchesAnyPoint = globs
	}

	if len(f.CleanupPlanNames) > 0 {
		plans, err := e.st.ListCleanupPlans(ctx, true)
		if err != nil {
			return out, err
		}
		wanted := make(map[string]bool, len(f.CleanupPlanNames))
		for _, n := range f.CleanupPlanNames {
			wanted[n] = true
		}
		var hashes []string
		for _, p := range plans {
			if wanted[p.Name] {
				hashes = append(hashes, p.Hashes...)
			}
		}
		if len(hashes) == 0 {
			hashes = []string{likeMatchNothing}
		}
		out.ReportHash = intersectOrSet(out.ReportHash, hashes)
		out.CleanupPlanNames = nil
	}

	return out, nil
}

// intersectOrSet ANDs a derived hash set into an existing ReportHash
// filter: with no prior hashes the derived set stands alone, otherwise
// only hashes in both survive.
func intersectOrSet(existing, derived []string) []string {
	if len(existing) == 0 {
		return derived
	}
	in := make(map[string]bool, len(derived))
	for _, h := range derived {
		in[h] = true
	}
	var out []string
	for _, h := range existing {
		if in[h] {
			out = append(out, h)
		}
	}
	if out == nil {
		out = []string{likeMatchNothing}
	}
	return out
}

// applyCompareData narrows the filter to the hashes selected by a run
// diff and returns the run set the surviving rows are read from: NEW
// findings live in the comparison runs, RESOLVED ones in the baseline,
// UNRESOLVED in either.
func (e *Engine) applyCompareData(ctx context.Context, runIDs []int64, f *types.ReportFilter, cmp *types.CompareData) ([]int64, error) {
	if cmp == nil {
		return runIDs, nil
	}
	skip := defaultSkip(cmp.SkipStatuses)
	left, err := e.st.ReportHashes(ctx, runIDs, cmp.OpenReportsDate, nil, skip)
	if err != nil {
		return nil, err
	}
	right, err := e.st.ReportHashes(ctx, cmp.RunIDs, cmp.OpenReportsDate, cmp.TagIDs, skip)
	if err != nil {
		return nil, err
	}
	diff := DiffHashes(toSet(left), toSet(right), cmp.DiffType)
	if len(diff) == 0 {
		diff = []string{likeMatchNothing}
	}
	f.ReportHash = intersectOrSet(f.ReportHash, diff)

	switch cmp.DiffType {
	case types.DiffNew:
		return cmp.RunIDs, nil
	case types.DiffUnresolved:
		return append(append([]int64{}, runIDs...), cmp.RunIDs...), nil
	default:
		return runIDs, nil
	}
}

// GetRunResults is the primary report listing. With cmp set the result is
// restricted to the requested diff; with getDetails every row additionally
// carries its bug path, extended data, and comments.
func (e *Engine) GetRunResults(ctx context.Context, runIDs []int64, limit, offset int, sorts []types.SortMode, f types.ReportFilter, cmp *types.CompareData, getDetails bool) ([]*types.Report, error) {
	start := time.Now()
	defer func() {
		metrics.latencyMs.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	resolved, err := e.resolveFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	effective, err := e.applyCompareData(ctx, runIDs, &resolved, cmp)
	if err != nil {
		return nil, err
	}
	reports, err := e.st.QueryReports(ctx, effective, resolved, sorts, limit, offset)
	if err != nil {
		return nil, err
	}
	if getDetails {
		for i, r := range reports {
			detailed, err := e.st.GetReportDetails(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			reports[i] = detailed
		}
	}
	metrics.rows.Add(ctx, int64(len(reports)))
	return reports, nil
}

// GetRunResultCount counts the rows GetRunResults would return, without
// pagination.
func (e *Engine) GetRunResultCount(ctx context.Context, runIDs []int64, f types.ReportFilter, cmp *types.CompareData) (int64, error) {
	resolved, err := e.resolveFilter(ctx, f)
	if err != nil {
		return 0, err
	}
	effective, err := e.applyCompareData(ctx, runIDs, &resolved, cmp)
	if err != nil {
		return 0, err
	}
	return e.st.CountReports(ctx, effective, resolved)
}

// GetCounts is the aggregation family: report counts grouped by the
// requested dimension, honoring the same filter semantics as
// GetRunResults (unique mode counts distinct hashes).
func (e *Engine) GetCounts(ctx context.Context, runIDs []int64, f types.ReportFilter, cmp *types.CompareData, field types.AggregateField) (map[string]int64, error) {
	resolved, err := e.resolveFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	effective, err := e.applyCompareData(ctx, runIDs, &resolved, cmp)
	if err != nil {
		return nil, err
	}
	return e.st.AggregateBy(ctx, effective, resolved, field)
}

// GetDiffResultsHash compares the stored state of runIDs (the "left" or
// baseline side) against a caller-supplied hash list (the "right" or local
// side, e.g. a not-yet-stored local analysis):
//
//	NEW        → in the supplied list, absent from the baseline
//	RESOLVED   → in the baseline, absent from the supplied list
//	UNRESOLVED → in both
func (e *Engine) GetDiffResultsHash(ctx context.Context, runIDs []int64, hashes []string, diffType types.DiffType, skipStatuses []types.DetectionStatus, tagIDs []int64) ([]string, error) {
	stored, err := e.st.ReportHashes(ctx, runIDs, nil, tagIDs, defaultSkip(skipStatuses))
	if err != nil {
		return nil, err
	}
	result := DiffHashes(toSet(stored), toSet(hashes), diffType)
	sort.Strings(result)
	return result, nil
}

// DiffHashes computes the hash set a diff request selects. left is the
// baseline, right the comparison target.
func DiffHashes(left, right map[string]struct{}, diffType types.DiffType) []string {
	var out []string
	switch diffType {
	case types.DiffNew:
		for h := range right {
			if _, ok := left[h]; !ok {
				out = append(out, h)
			}
		}
	case types.DiffResolved:
		for h := range left {
			if _, ok := right[h]; !ok {
				out = append(out, h)
			}
		}
	case types.DiffUnresolved:
		for h := range right {
			if _, ok := left[h]; ok {
				out = append(out, h)
			}
		}
	}
	return out
}

// defaultSkip makes a diff side the *open* reports of its runs: unless
// the caller chose an explicit skip set, RESOLVED reports are excluded,
// so a finding fixed two uploads ago does not keep appearing in diffs.
func defaultSkip(skip []types.DetectionStatus) []types.DetectionStatus {
	if len(skip) > 0 {
		return skip
	}
	return []types.DetectionStatus{types.DetectionResolved}
}

func toSet(hashes []string) map[string]struct{} {
	s := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		s[h] = struct{}{}
	}
	return s
}

// GetReportDetails returns one report with its full bug path, extended
// data, and comments.
func (e *Engine) GetReportDetails(ctx context.Context, reportID int64) (*types.Report, []*types.Comment, error) {
	r, err := e.st.GetReportDetails(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	comments, err := e.st.GetComments(ctx, reportID)
	if err != nil {
		return nil, nil, err
	}
	return r, comments, nil
}

// Encoding selects how GetSourceFileData returns file bytes.
type Encoding string

const (
	EncodingDefault Encoding = "DEFAULT"
	EncodingBase64  Encoding = "BASE64"
)

// SourceFileData is one source file, optionally with content.
type SourceFileData struct {
	FileID   int64
	Filepath string
	Content  string
}

// GetSourceFileData returns a file's path and, when asked, its content in
// the requested encoding.
func (e *Engine) GetSourceFileData(ctx context.Context, fileID int64, includeContent bool, enc Encoding) (*SourceFileData, error) {
	f, err := e.st.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	out := &SourceFileData{FileID: f.ID, Filepath: f.Filepath}
	if !includeContent {
		return out, nil
	}
	fc, err := e.st.GetContent(ctx, f.ContentHash)
	if err != nil {
		return nil, err
	}
	switch enc {
	case EncodingBase64:
		out.Content = base64.StdEncoding.EncodeToString(fc.Bytes)
	case EncodingDefault, "":
		out.Content = string(fc.Bytes)
	default:
		return nil, corekit.New(corekit.KindGeneral, "get_source_file_data", fmt.Errorf("unknown encoding %q", enc))
	}
	return out, nil
}

// ListRuns returns the product's runs.
func (e *Engine) ListRuns(ctx context.Context) ([]*types.Run, error) {
	return e.st.ListRuns(ctx)
}

// OpenReportsAsOf narrows a filter to reports open at the given wall time,
// interpreting the timestamp as server time.
func OpenReportsAsOf(f types.ReportFilter, at time.Time) types.ReportFilter {
	f.OpenReportsDate = &at
	return f
}
