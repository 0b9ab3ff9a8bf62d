// Package memory is an in-memory storage.Store backend. It backs unit
// tests of the engines above the storage layer and small ephemeral
// deployments; it is not transactional: WithTx serializes writers but a
// mid-transaction failure does not roll back already-applied writes.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/types"
)

var _ storage.Store = (*Store)(nil)

type contentRow struct {
	bytes    []byte
	blame    []byte
	refCount int
}

// Store holds one product's state in maps keyed the way the relational
// schema is.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	nextID   int64
	contents map[string]*contentRow
	runs     map[int64]*types.Run
	history  map[int64]*types.RunHistory
	files    map[int64]*types.File
	reports  map[int64]*types.Report
	rules    map[string]*types.ReviewStatusRule
	comments map[int64]*types.Comment
	plans    map[int64]*types.CleanupPlan
	members  map[int64]map[string]bool // plan id → hash set
	comps    map[string]*types.SourceComponent
}

func New() *Store {
	return &Store{
		contents: make(map[string]*contentRow),
		runs:     make(map[int64]*types.Run),
		history:  make(map[int64]*types.RunHistory),
		files:    make(map[int64]*types.File),
		reports:  make(map[int64]*types.Report),
		rules:    make(map[string]*types.ReviewStatusRule),
		comments: make(map[int64]*types.Comment),
		plans:    make(map[int64]*types.CleanupPlan),
		members:  make(map[int64]map[string]bool),
		comps:    make(map[string]*types.SourceComponent),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Close() error { return nil }

func (s *Store) SchemaStatus(ctx context.Context) (types.DBStatus, error) {
	return types.DBStatusOK, nil
}

func (s *Store) Upgrade(ctx context.Context) error { return nil }

// memTx binds the same store; there is no isolation, only mutual
// exclusion of concurrent WithTx bodies.
type memTx struct{ *Store }

func (t memTx) Commit() error   { return nil }
func (t memTx) Rollback() error { return nil }
func (t memTx) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return fn(t)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(memTx{s})
}

// --- Content ---

func (s *Store) MissingContentHashes(ctx context.Context, hashes []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, h := range hashes {
		if _, ok := s.contents[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

func (s *Store) MissingBlameHashes(ctx context.Context, hashes []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, h := range hashes {
		if c, ok := s.contents[h]; !ok || c.blame == nil {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

func (s *Store) PutContent(ctx context.Context, hash string, data []byte, blame []byte) error {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != strings.ToLower(hash) {
		return corekit.New(corekit.KindIOError, "put_content",
			fmt.Errorf("sha256(bytes) does not match supplied hash"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.contents[hash]; ok {
		if blame != nil {
			existing.blame = blame
		}
		return nil
	}
	s.contents[hash] = &contentRow{bytes: data, blame: blame}
	return nil
}

func (s *Store) GetContent(ctx context.Context, hash string) (*types.FileContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[hash]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_content", corekit.ErrNotFound)
	}
	return &types.FileContent{ContentHash: hash, Bytes: c.bytes, BlameBytes: c.blame, RefCount: c.refCount}, nil
}

func (s *Store) ReleaseContent(ctx context.Context, hash string, refDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[hash]
	if !ok {
		return nil
	}
	c.refCount += refDelta
	if c.refCount <= 0 {
		delete(s.contents, hash)
	}
	return nil
}

// --- Runs and files ---

func (s *Store) GetOrCreateRun(ctx context.Context, name string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	r := &types.Run{ID: s.id(), Name: name, CreatedAt: time.Now().UTC()}
	s.runs[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *Store) CreateRunHistory(ctx context.Context, runID int64, rh *types.RunHistory) (*types.RunHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rh.StoredAt.IsZero() {
		rh.StoredAt = time.Now().UTC()
	}
	rh.ID = s.id()
	rh.RunID = runID
	cp := *rh
	s.history[rh.ID] = &cp
	return rh, nil
}

func (s *Store) UpdateRunHistoryCounts(ctx context.Context, runHistoryID int64, counts map[types.DetectionStatus]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rh, ok := s.history[runHistoryID]
	if !ok {
		return corekit.New(corekit.KindDatabase, "update_run_history_counts", corekit.ErrNotFound)
	}
	rh.Counts = counts
	return nil
}

func (s *Store) ListRuns(ctx context.Context) ([]*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Run
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteRun(ctx context.Context, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.reports {
		if r.RunID == runID {
			for cid, c := range s.comments {
				if c.ReportID == id {
					delete(s.comments, cid)
				}
			}
			delete(s.reports, id)
		}
	}
	for id, rh := range s.history {
		if rh.RunID == runID {
			delete(s.history, id)
		}
	}
	var hashes []string
	for id, f := range s.files {
		if f.RunID == runID {
			hashes = append(hashes, f.ContentHash)
			delete(s.files, id)
		}
	}
	delete(s.runs, runID)
	for _, h := range hashes {
		if c, ok := s.contents[h]; ok {
			c.refCount--
			if c.refCount <= 0 {
				delete(s.contents, h)
			}
		}
	}
	return nil
}

func (s *Store) UpsertFile(ctx context.Context, f *types.File) (*types.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.files {
		if existing.RunID == f.RunID && existing.Filepath == f.Filepath {
			existing.ContentHash = f.ContentHash
			f.ID = existing.ID
			return f, nil
		}
	}
	f.ID = s.id()
	cp := *f
	s.files[f.ID] = &cp
	return f, nil
}

func (s *Store) GetFile(ctx context.Context, fileID int64) (*types.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_file", corekit.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (s *Store) GetFileByPath(ctx context.Context, runID int64, filepath string) (*types.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.RunID == runID && f.Filepath == filepath {
			cp := *f
			return &cp, nil
		}
	}
	return nil, corekit.New(corekit.KindDatabase, "get_file_by_path", corekit.ErrNotFound)
}

// --- Reports ---

func (s *Store) CurrentReportsForRun(ctx context.Context, runID int64) ([]*types.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Report
	for _, r := range s.reports {
		if r.RunID == runID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertReport(ctx context.Context, r *types.Report) (*types.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.DetectedAt.IsZero() {
		r.DetectedAt = time.Now().UTC()
	}
	r.ID = s.id()
	cp := *r
	s.reports[r.ID] = &cp
	return r, nil
}

func (s *Store) DeleteReport(ctx context.Context, reportID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cid, c := range s.comments {
		if c.ReportID == reportID {
			delete(s.comments, cid)
		}
	}
	delete(s.reports, reportID)
	return nil
}

func (s *Store) MarkFixed(ctx context.Context, reportID int64, fixedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return corekit.New(corekit.KindDatabase, "mark_fixed", corekit.ErrNotFound)
	}
	r.DetectionStatus = types.DetectionResolved
	r.FixedAt = &fixedAt
	return nil
}

func (s *Store) UpdateDetectionStatus(ctx context.Context, reportID int64, status types.DetectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return corekit.New(corekit.KindDatabase, "update_detection_status", corekit.ErrNotFound)
	}
	r.DetectionStatus = status
	if status == types.DetectionResolved {
		if r.FixedAt == nil {
			now := time.Now().UTC()
			r.FixedAt = &now
		}
	} else {
		r.FixedAt = nil
	}
	return nil
}

// reviewStatusOf resolves a report's effective review status: its hash's
// rule, or UNREVIEWED without one. Callers hold s.mu.
func (s *Store) reviewStatusOf(r *types.Report) types.ReviewStatus {
	if rule, ok := s.rules[r.ReportHash]; ok {
		return rule.Status
	}
	return types.ReviewUnreviewed
}

// likeMatch implements SQL LIKE over a pattern using % and _.
func likeMatch(pattern, s string) bool {
	return likeMatchAt(pattern, s)
}

func likeMatchAt(p, s string) bool {
	if p == "" {
		return s == ""
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatchAt(p[1:], s[i:]) {
				return true
			}
		}
		return false
	case '_':
		return s != "" && likeMatchAt(p[1:], s[1:])
	case '\\':
		if len(p) >= 2 {
			return s != "" && s[0] == p[1] && likeMatchAt(p[2:], s[1:])
		}
		return s == "\\"
	default:
		return s != "" && s[0] == p[0] && likeMatchAt(p[1:], s[1:])
	}
}

func (s *Store) filePathOf(fileID int64) string {
	if f, ok := s.files[fileID]; ok {
		return f.Filepath
	}
	return ""
}

func (s *Store) runNameOf(runID int64) string {
	if r, ok := s.runs[runID]; ok {
		return r.Name
	}
	return ""
}

func (s *Store) runTagsOf(runID int64) []string {
	var tags []string
	for _, rh := range s.history {
		if rh.RunID == runID && rh.VersionTag != "" {
			tags = append(tags, rh.VersionTag)
		}
	}
	return tags
}

// matchReport applies every concrete ReportFilter field. Callers hold
// s.mu.
func (s *Store) matchReport(r *types.Report, runIDs []int64, f types.ReportFilter) bool {
	if len(runIDs) > 0 && !containsInt64(runIDs, r.RunID) {
		return false
	}
	path := s.filePathOf(r.FileID)
	if len(f.Filepath) > 0 && !anySubstring(path, f.Filepath) {
		return false
	}
	if len(f.FilepathLike) > 0 && !anyLike(path, f.FilepathLike) {
		return false
	}
	for _, ex := range f.FilepathExclude {
		if likeMatch(ex, path) {
			return false
		}
	}
	if len(f.CheckerMsg) > 0 && !anySubstring(r.CheckerMsg, f.CheckerMsg) {
		return false
	}
	if len(f.CheckerName) > 0 && !containsString(f.CheckerName, r.CheckerID) {
		return false
	}
	if len(f.ReportHash) > 0 && !containsString(f.ReportHash, r.ReportHash) {
		return false
	}
	if len(f.Severity) > 0 && !containsString(f.Severity, r.Severity) {
		return false
	}
	if len(f.ReviewStatus) > 0 {
		rs := s.reviewStatusOf(r)
		found := false
		for _, want := range f.ReviewStatus {
			if want == rs {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.DetectionStatus) > 0 {
		found := false
		for _, want := range f.DetectionStatus {
			if want == r.DetectionStatus {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.RunName) > 0 && !containsString(f.RunName, s.runNameOf(r.RunID)) {
		return false
	}
	if len(f.RunTag) > 0 {
		found := false
		for _, tag := range s.runTagsOf(r.RunID) {
			if containsString(f.RunTag, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.AnalyzerNames) > 0 && !containsString(f.AnalyzerNames, r.AnalyzerName) {
		return false
	}
	if f.BugPathLengthMin != nil && r.BugPathLength < *f.BugPathLengthMin {
		return false
	}
	if f.BugPathLengthMax != nil && r.BugPathLength > *f.BugPathLengthMax {
		return false
	}
	if !f.DateDetectedAfter.IsZero() && r.DetectedAt.Before(f.DateDetectedAfter) {
		return false
	}
	if !f.DateDetectedBefore.IsZero() && r.DetectedAt.After(f.DateDetectedBefore) {
		return false
	}
	if !f.DateFixedAfter.IsZero() && (r.FixedAt == nil || r.FixedAt.Before(f.DateFixedAfter)) {
		return false
	}
	if !f.DateFixedBefore.IsZero() && (r.FixedAt == nil || r.FixedAt.After(f.DateFixedBefore)) {
		return false
	}
	if f.OpenReportsDate != nil {
		at := *f.OpenReportsDate
		if r.DetectedAt.After(at) {
			return false
		}
		if r.FixedAt != nil && !r.FixedAt.After(at) {
			return false
		}
	}
	if len(f.FileMatchesAnyPoint) > 0 {
		found := false
		for _, ev := range r.BugPath {
			if anyLike(s.filePathOf(ev.Position.FileID), f.FileMatchesAnyPoint) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, values := range f.Annotations {
		if len(values) == 0 {
			continue
		}
		got, ok := r.Annotations[key]
		if !ok || !containsString(values, got) {
			return false
		}
	}
	return true
}

func containsInt64(haystack []int64, v int64) bool {
	for _, x := range haystack {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(haystack []string, v string) bool {
	for _, x := range haystack {
		if x == v {
			return true
		}
	}
	return false
}

func anySubstring(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func anyLike(s string, patterns []string) bool {
	for _, p := range patterns {
		if likeMatch(p, s) {
			return true
		}
	}
	return false
}

// selectReports applies filter and uniqueness collapse, returning copies.
// Callers hold s.mu.
func (s *Store) selectReports(runIDs []int64, f types.ReportFilter) []*types.Report {
	var out []*types.Report
	for _, r := range s.reports {
		if s.matchReport(r, runIDs, f) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.IsUnique {
		seen := make(map[string]bool)
		var unique []*types.Report
		for _, r := range out {
			if !seen[r.ReportHash] {
				seen[r.ReportHash] = true
				unique = append(unique, r)
			}
		}
		out = unique
	}
	return out
}

func (s *Store) QueryReports(ctx context.Context, runIDs []int64, f types.ReportFilter, sorts []types.SortMode, limit, offset int) ([]*types.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.selectReports(runIDs, f)
	s.sortReports(out, sorts)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// sortReports applies the multi-key ordering with the id tiebreak.
// Callers hold s.mu.
func (s *Store) sortReports(reports []*types.Report, sorts []types.SortMode) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		for _, sm := range sorts {
			var av, bv string
			var an, bn int64
			numeric := false
			switch sm.Field {
			case types.SortFilename:
				av, bv = s.filePathOf(a.FileID), s.filePathOf(b.FileID)
			case types.SortCheckerName:
				av, bv = a.CheckerID, b.CheckerID
			case types.SortSeverity:
				av, bv = a.Severity, b.Severity
			case types.SortReviewStatus:
				av, bv = string(s.reviewStatusOf(a)), string(s.reviewStatusOf(b))
			case types.SortDetectionStatus:
				av, bv = string(a.DetectionStatus), string(b.DetectionStatus)
			case types.SortBugPathLength:
				an, bn = int64(a.BugPathLength), int64(b.BugPathLength)
				numeric = true
			case types.SortTimestamp:
				an, bn = a.DetectedAt.UnixNano(), b.DetectedAt.UnixNano()
				numeric = true
			default:
				continue
			}
			var cmp int
			if numeric {
				switch {
				case an < bn:
					cmp = -1
				case an > bn:
					cmp = 1
				}
			} else {
				cmp = strings.Compare(av, bv)
			}
			if cmp == 0 {
				continue
			}
			if sm.Direction == types.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return a.ID < b.ID
	})
}

func (s *Store) CountReports(ctx context.Context, runIDs []int64, f types.ReportFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.selectReports(runIDs, f))), nil
}

func (s *Store) GetReportDetails(ctx context.Context, reportID int64) (*types.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[reportID]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_report_details", corekit.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) AggregateBy(ctx context.Context, runIDs []int64, f types.ReportFilter, field types.AggregateField) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, r := range s.selectReports(runIDs, f) {
		var key string
		switch field {
		case types.AggSeverity:
			key = r.Severity
		case types.AggChecker:
			key = r.CheckerID
		case types.AggCheckerMsg:
			key = r.CheckerMsg
		case types.AggDetectionStatus:
			key = string(r.DetectionStatus)
		case types.AggReviewStatus:
			key = string(s.reviewStatusOf(r))
		case types.AggFile:
			key = s.filePathOf(r.FileID)
		case types.AggAnalyzerName:
			key = r.AnalyzerName
		case types.AggRunHistoryTag:
			tags := s.runTagsOf(r.RunID)
			if len(tags) > 0 {
				key = tags[len(tags)-1]
			}
		default:
			return nil, corekit.New(corekit.KindGeneral, "aggregate_by", fmt.Errorf("unsupported aggregation field %q", field))
		}
		out[key]++
	}
	return out, nil
}

func (s *Store) ReportHashes(ctx context.Context, runIDs []int64, openDate *time.Time, tagIDs []int64, skipStatuses []types.DetectionStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asOf := openDate
	if asOf == nil && len(tagIDs) > 0 {
		for _, id := range tagIDs {
			if rh, ok := s.history[id]; ok {
				if asOf == nil || rh.StoredAt.After(*asOf) {
					t := rh.StoredAt
					asOf = &t
				}
			}
		}
	}

	skip := make(map[types.DetectionStatus]bool, len(skipStatuses))
	for _, st := range skipStatuses {
		skip[st] = true
	}

	set := make(map[string]bool)
	for _, r := range s.reports {
		if len(runIDs) > 0 && !containsInt64(runIDs, r.RunID) {
			continue
		}
		if asOf != nil {
			if r.DetectedAt.After(*asOf) {
				continue
			}
			if r.FixedAt != nil && !r.FixedAt.After(*asOf) {
				continue
			}
		}
		if skip[r.DetectionStatus] {
			continue
		}
		set[r.ReportHash] = true
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

// --- Triage ---

func (s *Store) UpsertReviewStatusRule(ctx context.Context, rule *types.ReviewStatusRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	s.rules[rule.ReportHash] = &cp
	return nil
}

func (s *Store) GetReviewStatusRule(ctx context.Context, reportHash string) (*types.ReviewStatusRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[reportHash]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_review_status_rule", corekit.ErrNotFound)
	}
	cp := *rule
	return &cp, nil
}

func (s *Store) ListReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ReviewStatusRule
	for _, rule := range s.rules {
		if !s.matchRule(rule, f) {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportHash < out[j].ReportHash })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) matchRule(rule *types.ReviewStatusRule, f types.ReviewStatusRuleFilter) bool {
	if len(f.ReportHashes) > 0 && !containsString(f.ReportHashes, rule.ReportHash) {
		return false
	}
	if len(f.ReviewStatuses) > 0 {
		found := false
		for _, want := range f.ReviewStatuses {
			if want == rule.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, rule.Author) {
		return false
	}
	if f.NoAssociatedReports {
		for _, r := range s.reports {
			if r.ReportHash == rule.ReportHash {
				return false
			}
		}
	}
	return true
}

func (s *Store) RemoveReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter) (int64, error) {
	if len(f.ReportHashes) == 0 && len(f.ReviewStatuses) == 0 && len(f.Authors) == 0 && !f.NoAssociatedReports {
		return 0, corekit.New(corekit.KindGeneral, "remove_review_status_rules",
			fmt.Errorf("refusing to remove rules with an empty filter"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, rule := range s.rules {
		if s.matchRule(rule, f) {
			delete(s.rules, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) AddComment(ctx context.Context, c *types.Comment) (*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Kind == "" {
		c.Kind = types.CommentUser
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ID = s.id()
	cp := *c
	s.comments[c.ID] = &cp
	return c, nil
}

func (s *Store) UpdateComment(ctx context.Context, id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok || c.Kind != types.CommentUser {
		return corekit.New(corekit.KindGeneral, "update_comment", corekit.ErrNotFound)
	}
	c.Message = message
	return nil
}

func (s *Store) RemoveComment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok || c.Kind != types.CommentUser {
		return corekit.New(corekit.KindGeneral, "remove_comment", corekit.ErrNotFound)
	}
	delete(s.comments, id)
	return nil
}

func (s *Store) GetComments(ctx context.Context, reportID int64) ([]*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Comment
	for _, c := range s.comments {
		if c.ReportID == reportID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetCommentCount(ctx context.Context, reportID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.comments {
		if c.ReportID == reportID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetComment(ctx context.Context, id int64) (*types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_comment", corekit.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// --- Cleanup plans ---

func (s *Store) CreateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan.ID = s.id()
	cp := *plan
	s.plans[plan.ID] = &cp
	members := make(map[string]bool, len(plan.Hashes))
	for _, h := range plan.Hashes {
		members[h] = true
	}
	s.members[plan.ID] = members
	return plan, nil
}

func (s *Store) UpdateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.plans[plan.ID]
	if !ok {
		return corekit.New(corekit.KindDatabase, "update_cleanup_plan", corekit.ErrNotFound)
	}
	existing.Name = plan.Name
	existing.DueDate = plan.DueDate
	existing.Closed = plan.Closed
	return nil
}

func (s *Store) RemoveCleanupPlan(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
	delete(s.members, id)
	return nil
}

func (s *Store) SetCleanupPlanClosed(ctx context.Context, id int64, closed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return corekit.New(corekit.KindGeneral, "set_cleanup_plan_closed", corekit.ErrNotFound)
	}
	plan.Closed = closed
	return nil
}

func (s *Store) SetCleanupPlanMembers(ctx context.Context, id int64, hashes []string, add bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[id]
	if !ok {
		return corekit.New(corekit.KindGeneral, "set_cleanup_plan_members", corekit.ErrNotFound)
	}
	for _, h := range hashes {
		if add {
			members[h] = true
		} else {
			delete(members, h)
		}
	}
	return nil
}

func (s *Store) ListCleanupPlans(ctx context.Context, includeClosed bool) ([]*types.CleanupPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.CleanupPlan
	for id, plan := range s.plans {
		if plan.Closed && !includeClosed {
			continue
		}
		cp := *plan
		cp.Hashes = nil
		for h := range s.members[id] {
			cp.Hashes = append(cp.Hashes, h)
		}
		sort.Strings(cp.Hashes)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Source components ---

func (s *Store) UpsertSourceComponent(ctx context.Context, c *types.SourceComponent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.comps[c.Name] = &cp
	return nil
}

func (s *Store) GetSourceComponent(ctx context.Context, name string) (*types.SourceComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comps[name]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_source_component", corekit.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListSourceComponents(ctx context.Context) ([]*types.SourceComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SourceComponent
	for _, c := range s.comps {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) RemoveSourceComponent(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comps[name]; !ok {
		return corekit.New(corekit.KindGeneral, "remove_source_component", corekit.ErrNotFound)
	}
	delete(s.comps, name)
	return nil
}
