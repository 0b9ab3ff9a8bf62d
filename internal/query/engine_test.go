package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/findingstore/findingstore/internal/storage/memory"
	"github.com/findingstore/findingstore/internal/types"
)

// seedRun stores one run with a report per (hash, path) pair, all open.
func seedRun(t *testing.T, st *memory.Store, runName string, reports map[string]string) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	run, err := st.GetOrCreateRun(ctx, runName)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	ids := make(map[string]int64, len(reports))
	for hash, path := range reports {
		f, err := st.UpsertFile(ctx, &types.File{RunID: run.ID, Filepath: path, ContentHash: "ch-" + hash})
		if err != nil {
			t.Fatalf("upsert file: %v", err)
		}
		r, err := st.InsertReport(ctx, &types.Report{
			RunID:           run.ID,
			FileID:          f.ID,
			Line:            1,
			CheckerID:       "check." + hash,
			AnalyzerName:    "clangsa",
			CheckerMsg:      "msg " + hash,
			Severity:        "HIGH",
			ReportHash:      hash,
			DetectionStatus: types.DetectionNew,
			DetectedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("insert report: %v", err)
		}
		ids[hash] = r.ID
	}
	return ids
}

func runID(t *testing.T, st *memory.Store, name string) int64 {
	t.Helper()
	run, err := st.GetOrCreateRun(context.Background(), name)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	return run.ID
}

func TestGetDiffResultsHash(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	seedRun(t, st, "base", map[string]string{"h1": "/a.c", "h2": "/b.c"})
	base := runID(t, st, "base")
	local := []string{"h2", "h5"}

	newHashes, err := e.GetDiffResultsHash(ctx, []int64{base}, local, types.DiffNew, nil, nil)
	if err != nil {
		t.Fatalf("diff NEW: %v", err)
	}
	if len(newHashes) != 1 || newHashes[0] != "h5" {
		t.Errorf("NEW = %v, want [h5]", newHashes)
	}

	resolved, err := e.GetDiffResultsHash(ctx, []int64{base}, local, types.DiffResolved, nil, nil)
	if err != nil {
		t.Fatalf("diff RESOLVED: %v", err)
	}
	if len(resolved) != 1 || resolved[0] != "h1" {
		t.Errorf("RESOLVED = %v, want [h1]", resolved)
	}

	unresolved, err := e.GetDiffResultsHash(ctx, []int64{base}, local, types.DiffUnresolved, nil, nil)
	if err != nil {
		t.Fatalf("diff UNRESOLVED: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0] != "h2" {
		t.Errorf("UNRESOLVED = %v, want [h2]", unresolved)
	}
}

func TestDiffHashes_Duality(t *testing.T) {
	left := toSet([]string{"h1", "h2", "h3"})
	right := toSet([]string{"h2", "h3", "h4", "h5"})

	newN := len(DiffHashes(left, right, types.DiffNew))
	resolvedN := len(DiffHashes(left, right, types.DiffResolved))
	unresolvedN := len(DiffHashes(left, right, types.DiffUnresolved))

	if newN+unresolvedN != len(right) {
		t.Errorf("|NEW|+|UNRESOLVED| = %d, want |right| = %d", newN+unresolvedN, len(right))
	}
	if resolvedN+unresolvedN != len(left) {
		t.Errorf("|RESOLVED|+|UNRESOLVED| = %d, want |left| = %d", resolvedN+unresolvedN, len(left))
	}
}

func TestGetRunResults_ReviewStatusFilter(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	seedRun(t, st, "r", map[string]string{"h1": "/a.c", "h2": "/b.c"})
	id := runID(t, st, "r")

	if err := st.UpsertReviewStatusRule(ctx, &types.ReviewStatusRule{
		ReportHash: "h2", Status: types.ReviewFalsePositive, Author: "alice", Date: time.Now(),
	}); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	got, err := e.GetRunResults(ctx, []int64{id}, 100, 0, nil,
		types.ReportFilter{ReviewStatus: []types.ReviewStatus{types.ReviewFalsePositive}}, nil, false)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ReportHash != "h2" {
		t.Fatalf("filter by review status returned %d rows", len(got))
	}

	unreviewed, err := e.GetRunResults(ctx, []int64{id}, 100, 0, nil,
		types.ReportFilter{ReviewStatus: []types.ReviewStatus{types.ReviewUnreviewed}}, nil, false)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(unreviewed) != 1 || unreviewed[0].ReportHash != "h1" {
		t.Fatalf("ruleless report should default to UNREVIEWED, got %d rows", len(unreviewed))
	}
}

func TestGetRunResults_PagingCoversEveryRowOnce(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	reports := make(map[string]string, 7)
	for i := 0; i < 7; i++ {
		reports[fmt.Sprintf("h%d", i)] = fmt.Sprintf("/f%d.c", i)
	}
	seedRun(t, st, "r", reports)
	id := runID(t, st, "r")

	sorts := []types.SortMode{{Field: types.SortFilename, Direction: types.SortAsc}}
	seen := make(map[int64]int)
	for offset := 0; ; offset += 3 {
		page, err := e.GetRunResults(ctx, []int64{id}, 3, offset, sorts, types.ReportFilter{}, nil, false)
		if err != nil {
			t.Fatalf("page at %d: %v", offset, err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			seen[r.ID]++
		}
	}
	if len(seen) != 7 {
		t.Fatalf("paging covered %d distinct rows, want 7", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("row %d returned %d times", id, n)
		}
	}
}

func TestGetRunResults_CompareData(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	seedRun(t, st, "left", map[string]string{"h1": "/a.c", "h2": "/b.c"})
	seedRun(t, st, "right", map[string]string{"h2": "/b.c", "h3": "/c.c"})
	leftID, rightID := runID(t, st, "left"), runID(t, st, "right")

	got, err := e.GetRunResults(ctx, []int64{leftID}, 100, 0, nil, types.ReportFilter{},
		&types.CompareData{RunIDs: []int64{rightID}, DiffType: types.DiffNew}, false)
	if err != nil {
		t.Fatalf("compare query: %v", err)
	}
	// NEW relative to left = h3, served from the comparison run's rows.
	if len(got) != 1 || got[0].ReportHash != "h3" {
		hashes := make([]string, len(got))
		for i, r := range got {
			hashes[i] = r.ReportHash
		}
		t.Fatalf("NEW diff rows = %v, want [h3]", hashes)
	}
}

func TestGetCounts_Unique(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	// Same hash appears in two runs; unique mode collapses it.
	seedRun(t, st, "r1", map[string]string{"h1": "/a.c"})
	seedRun(t, st, "r2", map[string]string{"h1": "/a.c"})
	ids := []int64{runID(t, st, "r1"), runID(t, st, "r2")}

	plain, err := e.GetCounts(ctx, ids, types.ReportFilter{}, nil, types.AggSeverity)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if plain["HIGH"] != 2 {
		t.Errorf("plain count = %d, want 2", plain["HIGH"])
	}

	unique, err := e.GetCounts(ctx, ids, types.ReportFilter{IsUnique: true}, nil, types.AggSeverity)
	if err != nil {
		t.Fatalf("unique counts: %v", err)
	}
	if unique["HIGH"] != 1 {
		t.Errorf("unique count = %d, want 1", unique["HIGH"])
	}
}

func TestComponentExpansion(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	seedRun(t, st, "r", map[string]string{
		"h1": "/src/core/a.c",
		"h2": "/src/vendor/b.c",
		"h3": "/docs/c.md",
	})
	id := runID(t, st, "r")

	if err := st.UpsertSourceComponent(ctx, &types.SourceComponent{
		Name:     "core",
		Patterns: []string{"+/src/*", "-/src/vendor/*"},
	}); err != nil {
		t.Fatalf("upsert component: %v", err)
	}

	got, err := e.GetRunResults(ctx, []int64{id}, 100, 0, nil,
		types.ReportFilter{ComponentNames: []string{"core"}}, nil, false)
	if err != nil {
		t.Fatalf("component query: %v", err)
	}
	if len(got) != 1 || got[0].ReportHash != "h1" {
		hashes := make([]string, len(got))
		for i, r := range got {
			hashes[i] = r.ReportHash
		}
		t.Fatalf("component filter returned %v, want [h1]", hashes)
	}

	// An unknown component matches nothing rather than everything.
	none, err := e.GetRunResults(ctx, []int64{id}, 100, 0, nil,
		types.ReportFilter{ComponentNames: []string{"ghost"}}, nil, false)
	if err != nil {
		t.Fatalf("unknown component query: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown component matched %d rows", len(none))
	}
}

func TestGlobToLike(t *testing.T) {
	tests := []struct{ glob, want string }{
		{"/src/*", "/src/%"},
		{"a?.c", "a_.c"},
		{"100%_done", `100\%\_done`},
	}
	for _, tt := range tests {
		if got := globToLike(tt.glob); got != tt.want {
			t.Errorf("globToLike(%q) = %q, want %q", tt.glob, got, tt.want)
		}
	}
}

func TestCleanupPlanFilter(t *testing.T) {
	st := memory.New()
	e := New(st, nil)
	ctx := context.Background()

	seedRun(t, st, "r", map[string]string{"h1": "/a.c", "h2": "/b.c"})
	id := runID(t, st, "r")

	if _, err := st.CreateCleanupPlan(ctx, &types.CleanupPlan{Name: "sprint-12", Hashes: []string{"h2"}}); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	got, err := e.GetRunResults(ctx, []int64{id}, 100, 0, nil,
		types.ReportFilter{CleanupPlanNames: []string{"sprint-12"}}, nil, false)
	if err != nil {
		t.Fatalf("plan query: %v", err)
	}
	if len(got) != 1 || got[0].ReportHash != "h2" {
		t.Fatalf("cleanup plan filter returned %d rows", len(got))
	}
}
