//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

func qInsertReport(ctx context.Context, q queryer, r *types.Report) (*types.Report, error) {
	annotations, err := marshalAnnotations(r.Annotations)
	if err != nil {
		return nil, corekit.New(corekit.KindGeneral, "insert_report marshal annotations", err)
	}
	if r.DetectedAt.IsZero() {
		r.DetectedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO reports (
			run_id, file_id, line, column_no, checker_id, analyzer_name, checker_msg,
			severity, report_hash, bug_path_length, detected_at, fixed_at, detection_status, annotations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.FileID, r.Line, r.Column, r.CheckerID, r.AnalyzerName, r.CheckerMsg,
		r.Severity, r.ReportHash, r.BugPathLength, r.DetectedAt, r.FixedAt, string(r.DetectionStatus), annotations)
	if err != nil {
		return nil, corekit.WrapDB("insert_report", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("insert_report last_insert_id", err)
	}
	r.ID = id

	for i, ev := range r.BugPath {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO bug_path_events (report_id, seq, file_id, start_line, start_col, end_line, end_col, msg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, ev.Position.FileID, ev.Position.StartLine, ev.Position.StartCol, ev.Position.EndLine, ev.Position.EndCol, ev.Msg); err != nil {
			return nil, corekit.WrapDB("insert_report bug_path_events", err)
		}
	}
	for i, ex := range r.ExtendedData {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO extended_report_data (report_id, seq, kind, file_id, start_line, start_col, end_line, end_col, msg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, string(ex.Kind), ex.Position.FileID, ex.Position.StartLine, ex.Position.StartCol, ex.Position.EndLine, ex.Position.EndCol, ex.Msg); err != nil {
			return nil, corekit.WrapDB("insert_report extended_report_data", err)
		}
	}
	return r, nil
}

// qDeleteReport removes one report row together with its owned bug-path
// and extended-data sequences and its comments.
func qDeleteReport(ctx context.Context, q queryer, reportID int64) error {
	stmts := []string{
		"DELETE FROM bug_path_events WHERE report_id = ?",
		"DELETE FROM extended_report_data WHERE report_id = ?",
		"DELETE FROM comments WHERE report_id = ?",
		"DELETE FROM reports WHERE id = ?",
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, reportID); err != nil {
			return corekit.WrapDB("delete_report", err)
		}
	}
	return nil
}

func qMarkFixed(ctx context.Context, q queryer, reportID int64, fixedAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE reports SET detection_status = ?, fixed_at = ? WHERE id = ?
	`, string(types.DetectionResolved), fixedAt, reportID)
	return corekit.WrapDB("mark_fixed", err)
}

// qUpdateDetectionStatus keeps fixed_at non-null iff detection_status is
// RESOLVED: entering RESOLVED stamps it if unset, leaving it
// (REOPENED, UNRESOLVED, ...) clears it.
func qUpdateDetectionStatus(ctx context.Context, q queryer, reportID int64, status types.DetectionStatus) error {
	if status == types.DetectionResolved {
		_, err := q.ExecContext(ctx, `
			UPDATE reports SET detection_status = ?, fixed_at = COALESCE(fixed_at, ?) WHERE id = ?
		`, string(status), time.Now().UTC(), reportID)
		return corekit.WrapDB("update_detection_status", err)
	}
	_, err := q.ExecContext(ctx, `
		UPDATE reports SET detection_status = ?, fixed_at = NULL WHERE id = ?
	`, string(status), reportID)
	return corekit.WrapDB("update_detection_status", err)
}

// qCurrentReportsForRun returns every Report row belonging to a Run,
// RESOLVED ones included. The ingestion engine's reconciliation needs the
// full prior state to detect a RESOLVED-to-REOPENED transition, not just
// the currently-open subset.
func qCurrentReportsForRun(ctx context.Context, q queryer, runID int64) ([]*types.Report, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, run_id, file_id, line, column_no, checker_id, analyzer_name, checker_msg,
			severity, report_hash, bug_path_length, detected_at, fixed_at, detection_status, annotations
		FROM reports WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, corekit.WrapDB("current_reports_for_run", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReports(rows)
}

func scanReports(rows *sql.Rows) ([]*types.Report, error) {
	var out []*types.Report
	for rows.Next() {
		r := &types.Report{}
		var fixedAt sql.NullTime
		var annotations string
		var status string
		if err := rows.Scan(&r.ID, &r.RunID, &r.FileID, &r.Line, &r.Column, &r.CheckerID, &r.AnalyzerName,
			&r.CheckerMsg, &r.Severity, &r.ReportHash, &r.BugPathLength, &r.DetectedAt, &fixedAt, &status, &annotations); err != nil {
			return nil, corekit.WrapDB("scan_reports", err)
		}
		if fixedAt.Valid {
			t := fixedAt.Time
			r.FixedAt = &t
		}
		r.DetectionStatus = types.DetectionStatus(status)
		r.Annotations = unmarshalAnnotations(annotations)
		out = append(out, r)
	}
	return out, corekit.WrapDB("scan_reports rows", rows.Err())
}

// reportFilterSQL builds the WHERE clause and args for a ReportFilter over
// `reports r JOIN files fl ON fl.id = r.file_id`. List-valued fields OR
// within the field; fields AND across each other.
func reportFilterSQL(runIDs []int64, f types.ReportFilter) (string, []any) {
	var clauses []string
	var args []any

	if len(runIDs) > 0 {
		ph := make([]string, len(runIDs))
		for i, id := range runIDs {
			ph[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, fmt.Sprintf("r.run_id IN (%s)", strings.Join(ph, ",")))
	}

	orIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = "?"
			args = append(args, v)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(ph, ",")))
	}
	orLike := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		var sub []string
		for _, v := range values {
			sub = append(sub, fmt.Sprintf("%s LIKE ?", column))
			args = append(args, "%"+v+"%")
		}
		clauses = append(clauses, "("+strings.Join(sub, " OR ")+")")
	}

	orLike("fl.filepath", f.Filepath)
	orLike("r.checker_msg", f.CheckerMsg)
	orIn("r.checker_id", f.CheckerName)
	orIn("r.report_hash", f.ReportHash)
	orIn("r.severity", f.Severity)

	if len(f.ReviewStatus) > 0 {
		vals := make([]string, len(f.ReviewStatus))
		for i, v := range f.ReviewStatus {
			vals[i] = string(v)
		}
		clauses = append(clauses, "COALESCE(rsr.status, 'UNREVIEWED') IN ("+strings.Join(placeholders(len(vals)), ",")+")")
		for _, v := range vals {
			args = append(args, v)
		}
	}
	if len(f.DetectionStatus) > 0 {
		vals := make([]string, len(f.DetectionStatus))
		for i, v := range f.DetectionStatus {
			vals[i] = string(v)
		}
		orIn("r.detection_status", vals)
	}
	orIn("rn.name", f.RunName)
	if len(f.RunTag) > 0 {
		ph := make([]string, len(f.RunTag))
		for i, tag := range f.RunTag {
			ph[i] = "?"
			args = append(args, tag)
		}
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM run_history rh
			WHERE rh.run_id = r.run_id AND rh.version_tag IN (%s))`, strings.Join(ph, ",")))
	}
	orIn("r.analyzer_name", f.AnalyzerNames)

	if f.BugPathLengthMin != nil {
		clauses = append(clauses, "r.bug_path_length >= ?")
		args = append(args, *f.BugPathLengthMin)
	}
	if f.BugPathLengthMax != nil {
		clauses = append(clauses, "r.bug_path_length <= ?")
		args = append(args, *f.BugPathLengthMax)
	}
	if !f.DateDetectedAfter.IsZero() {
		clauses = append(clauses, "r.detected_at >= ?")
		args = append(args, f.DateDetectedAfter)
	}
	if !f.DateDetectedBefore.IsZero() {
		clauses = append(clauses, "r.detected_at <= ?")
		args = append(args, f.DateDetectedBefore)
	}
	if !f.DateFixedAfter.IsZero() {
		clauses = append(clauses, "r.fixed_at >= ?")
		args = append(args, f.DateFixedAfter)
	}
	if !f.DateFixedBefore.IsZero() {
		clauses = append(clauses, "r.fixed_at <= ?")
		args = append(args, f.DateFixedBefore)
	}

	// component_names and cleanup_plan_names are resolved against their
	// definitions at the query package level (internal/query expands them
	// into concrete FilepathLike/FilepathExclude or FileMatchesAnyPoint
	// patterns and ReportHash sets
	// before calling down to storage); by the time a ReportFilter reaches
	// here they have been folded into the fields handled above and below.

	if len(f.FilepathLike) > 0 {
		var sub []string
		for _, v := range f.FilepathLike {
			sub = append(sub, "fl.filepath LIKE ?")
			args = append(args, v)
		}
		clauses = append(clauses, "("+strings.Join(sub, " OR ")+")")
	}
	for _, v := range f.FilepathExclude {
		clauses = append(clauses, "fl.filepath NOT LIKE ?")
		args = append(args, v)
	}

	if len(f.FileMatchesAnyPoint) > 0 {
		var sub []string
		for _, v := range f.FileMatchesAnyPoint {
			sub = append(sub, "pf.filepath LIKE ?")
			args = append(args, v)
		}
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM bug_path_events bpe
			JOIN files pf ON pf.id = bpe.file_id
			WHERE bpe.report_id = r.id AND (%s))`, strings.Join(sub, " OR ")))
	}

	if f.OpenReportsDate != nil {
		clauses = append(clauses, "r.detected_at <= ? AND (r.fixed_at IS NULL OR r.fixed_at > ?)")
		args = append(args, *f.OpenReportsDate, *f.OpenReportsDate)
	}

	for key, values := range f.Annotations {
		if len(values) == 0 {
			continue
		}
		var sub []string
		for _, v := range values {
			sub = append(sub, "JSON_EXTRACT(r.annotations, ?) = ?")
			args = append(args, "$."+key, v)
		}
		clauses = append(clauses, "("+strings.Join(sub, " OR ")+")")
	}

	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) []string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return ph
}

func sortSQL(sorts []types.SortMode) string {
	var cols []string
	fieldCol := map[types.SortField]string{
		types.SortFilename:        "fl.filepath",
		types.SortCheckerName:     "r.checker_id",
		types.SortSeverity:        "r.severity",
		types.SortReviewStatus:    "COALESCE(rsr.status, 'UNREVIEWED')",
		types.SortDetectionStatus: "r.detection_status",
		types.SortBugPathLength:   "r.bug_path_length",
		types.SortTimestamp:       "r.detected_at",
	}
	for _, s := range sorts {
		col, ok := fieldCol[s.Field]
		if !ok {
			continue
		}
		dir := "ASC"
		if s.Direction == types.SortDesc {
			dir = "DESC"
		}
		cols = append(cols, col+" "+dir)
	}
	// Ties are always broken by report id ASC.
	cols = append(cols, "r.id ASC")
	return strings.Join(cols, ", ")
}

// reportJoinBase deliberately does not join run_history: a run with
// several snapshots would duplicate every report row. Tag filtering uses
// an EXISTS subquery and the tag aggregation a scalar subquery instead.
const reportJoinBase = `
	FROM reports r
	JOIN files fl ON fl.id = r.file_id
	JOIN runs rn ON rn.id = r.run_id
	LEFT JOIN review_status_rules rsr ON rsr.report_hash = r.report_hash
`

func qQueryReports(ctx context.Context, q queryer, runIDs []int64, f types.ReportFilter, sorts []types.SortMode, limit, offset int) ([]*types.Report, error) {
	where, args := reportFilterSQL(runIDs, f)

	selectCols := "r.id, r.run_id, r.file_id, r.line, r.column_no, r.checker_id, r.analyzer_name, r.checker_msg, r.severity, r.report_hash, r.bug_path_length, r.detected_at, r.fixed_at, r.detection_status, r.annotations"
	group := ""
	if f.IsUnique {
		selectCols = "MIN(r.id), r.run_id, MIN(r.file_id), MIN(r.line), MIN(r.column_no), r.checker_id, r.analyzer_name, MIN(r.checker_msg), MIN(r.severity), r.report_hash, MIN(r.bug_path_length), MIN(r.detected_at), MIN(r.fixed_at), MIN(r.detection_status), MIN(r.annotations)"
		group = " GROUP BY r.report_hash"
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s%s ORDER BY %s LIMIT ? OFFSET ?",
		selectCols, reportJoinBase, where, group, sortSQL(sorts))
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("get_run_results", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReports(rows)
}

func qCountReports(ctx context.Context, q queryer, runIDs []int64, f types.ReportFilter) (int64, error) {
	where, args := reportFilterSQL(runIDs, f)
	var query string
	if f.IsUnique {
		query = fmt.Sprintf("SELECT COUNT(DISTINCT r.report_hash) %s WHERE %s", reportJoinBase, where)
	} else {
		query = fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", reportJoinBase, where)
	}
	var count int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, corekit.WrapDB("get_run_result_count", err)
}

func qGetReportDetails(ctx context.Context, q queryer, reportID int64) (*types.Report, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, run_id, file_id, line, column_no, checker_id, analyzer_name, checker_msg,
			severity, report_hash, bug_path_length, detected_at, fixed_at, detection_status, annotations
		FROM reports WHERE id = ?
	`, reportID)
	if err != nil {
		return nil, corekit.WrapDB("get_report_details", err)
	}
	reports, err := scanReports(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, corekit.New(corekit.KindGeneral, "get_report_details", corekit.ErrNotFound)
	}
	r := reports[0]

	bpRows, err := q.QueryContext(ctx, `
		SELECT file_id, start_line, start_col, end_line, end_col, msg
		FROM bug_path_events WHERE report_id = ? ORDER BY seq
	`, reportID)
	if err != nil {
		return nil, corekit.WrapDB("get_report_details bug_path", err)
	}
	for bpRows.Next() {
		var ev types.BugPathEvent
		if err := bpRows.Scan(&ev.Position.FileID, &ev.Position.StartLine, &ev.Position.StartCol, &ev.Position.EndLine, &ev.Position.EndCol, &ev.Msg); err != nil {
			_ = bpRows.Close()
			return nil, corekit.WrapDB("get_report_details scan bug_path", err)
		}
		r.BugPath = append(r.BugPath, ev)
	}
	_ = bpRows.Close()

	exRows, err := q.QueryContext(ctx, `
		SELECT kind, file_id, start_line, start_col, end_line, end_col, msg
		FROM extended_report_data WHERE report_id = ? ORDER BY seq
	`, reportID)
	if err != nil {
		return nil, corekit.WrapDB("get_report_details extended", err)
	}
	for exRows.Next() {
		var ex types.ExtendedReportData
		var kind string
		if err := exRows.Scan(&kind, &ex.Position.FileID, &ex.Position.StartLine, &ex.Position.StartCol, &ex.Position.EndLine, &ex.Position.EndCol, &ex.Msg); err != nil {
			_ = exRows.Close()
			return nil, corekit.WrapDB("get_report_details scan extended", err)
		}
		ex.Kind = types.ExtendedKind(kind)
		r.ExtendedData = append(r.ExtendedData, ex)
	}
	_ = exRows.Close()

	return r, nil
}

func qAggregateBy(ctx context.Context, q queryer, runIDs []int64, f types.ReportFilter, field types.AggregateField) (map[string]int64, error) {
	col, ok := map[types.AggregateField]string{
		types.AggSeverity:        "r.severity",
		types.AggChecker:         "r.checker_id",
		types.AggCheckerMsg:      "r.checker_msg",
		types.AggDetectionStatus: "r.detection_status",
		types.AggFile:            "fl.filepath",
		types.AggAnalyzerName:    "r.analyzer_name",
		types.AggRunHistoryTag:   "COALESCE((SELECT rh.version_tag FROM run_history rh WHERE rh.run_id = r.run_id ORDER BY rh.stored_at DESC LIMIT 1), '')",
		types.AggReviewStatus:    "COALESCE(rsr.status, 'UNREVIEWED')",
	}[field]
	if !ok {
		return nil, corekit.New(corekit.KindGeneral, "aggregate_by", fmt.Errorf("unsupported aggregation field %q", field))
	}
	where, args := reportFilterSQL(runIDs, f)
	countExpr := "COUNT(*)"
	if f.IsUnique {
		countExpr = "COUNT(DISTINCT r.report_hash)"
	}
	query := fmt.Sprintf("SELECT %s, %s %s WHERE %s GROUP BY %s", col, countExpr, reportJoinBase, where, col)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("aggregate_by", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, corekit.WrapDB("aggregate_by scan", err)
		}
		out[key] = count
	}
	return out, corekit.WrapDB("aggregate_by rows", rows.Err())
}

// qReportHashes is the set primitive run diffs are built from: the
// distinct report hashes present in runIDs, optionally narrowed to an
// as-of snapshot. A tag pins the snapshot to the tagged run-history rows'
// stored_at times; an explicit openDate pins it to server wall time. With
// neither, the current rows are used as-is.
func qReportHashes(ctx context.Context, q queryer, runIDs []int64, openDate *time.Time, tagIDs []int64, skipStatuses []types.DetectionStatus) ([]string, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	var clauses []string
	var args []any

	ph := make([]string, len(runIDs))
	for i, id := range runIDs {
		ph[i] = "?"
		args = append(args, id)
	}
	clauses = append(clauses, fmt.Sprintf("r.run_id IN (%s)", strings.Join(ph, ",")))

	asOf := openDate
	if asOf == nil && len(tagIDs) > 0 {
		tph := make([]string, len(tagIDs))
		targs := make([]any, len(tagIDs))
		for i, id := range tagIDs {
			tph[i] = "?"
			targs[i] = id
		}
		var stored sql.NullTime
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT MAX(stored_at) FROM run_history WHERE id IN (%s)", strings.Join(tph, ",")),
			targs...).Scan(&stored)
		if err != nil {
			return nil, corekit.WrapDB("report_hashes tag lookup", err)
		}
		if stored.Valid {
			asOf = &stored.Time
		}
	}
	if asOf != nil {
		clauses = append(clauses, "r.detected_at <= ? AND (r.fixed_at IS NULL OR r.fixed_at > ?)")
		args = append(args, *asOf, *asOf)
	}

	if len(skipStatuses) > 0 {
		sph := make([]string, len(skipStatuses))
		for i, s := range skipStatuses {
			sph[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, fmt.Sprintf("r.detection_status NOT IN (%s)", strings.Join(sph, ",")))
	}

	query := "SELECT DISTINCT r.report_hash FROM reports r WHERE " + strings.Join(clauses, " AND ")
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("report_hashes", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, corekit.WrapDB("report_hashes scan", err)
		}
		out = append(out, h)
	}
	return out, corekit.WrapDB("report_hashes rows", rows.Err())
}
