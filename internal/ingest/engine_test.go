package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage/memory"
	"github.com/findingstore/findingstore/internal/types"
)

const mainC = "int main() {\n\tint *p = 0;\n\t*p = 5;\n\tuse(p);\n\tleak();\n}\n"

// report builds one RawReport whose warning lands on the given line of
// /src/main.c; the checker id varies the resulting report hash.
func report(checker string, line int) RawReport {
	return RawReport{
		CheckerID:    checker,
		AnalyzerName: "clangsa",
		FilePath:     "/src/main.c",
		Severity:     "HIGH",
		BugPathEvents: []RawEvent{
			{FilePath: "/src/main.c", StartLine: line, StartCol: 2, EndLine: line, EndCol: 4, Msg: "finding for " + checker},
		},
	}
}

func testBundle(t *testing.T, reports []RawReport, sources map[string]string) *Bundle {
	t.Helper()
	entries := map[string][]byte{"reports/clangsa.json": reportJSON(t, reports)}
	for path, content := range sources {
		entries["root/"+path] = []byte(content)
	}
	data := zipBundle(t, entries)
	b, err := ParseBundle(data, 0)
	if err != nil {
		t.Fatalf("parse bundle: %v", err)
	}
	return b
}

func notCancelled(context.Context) bool { return false }

func ingestBundle(t *testing.T, e *Engine, st *memory.Store, b *Bundle, p Params) error {
	t.Helper()
	return e.storeWithRetry(context.Background(), st, b, p, 0, notCancelled)
}

func reportsByHashKey(t *testing.T, st *memory.Store, runName string) map[string]*types.Report {
	t.Helper()
	ctx := context.Background()
	run, err := st.GetOrCreateRun(ctx, runName)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	reports, err := st.CurrentReportsForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("current reports: %v", err)
	}
	out := make(map[string]*types.Report, len(reports))
	for _, r := range reports {
		out[r.CheckerID] = r
	}
	return out
}

func TestEngine_FirstIngestionAllNew(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)

	b := testBundle(t, []RawReport{report("c1", 2), report("c2", 3), report("c3", 4)},
		map[string]string{"src/main.c": mainC})
	if err := ingestBundle(t, e, st, b, Params{RunName: "nightly", Actor: "tester"}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	got := reportsByHashKey(t, st, "nightly")
	if len(got) != 3 {
		t.Fatalf("stored %d reports, want 3", len(got))
	}
	for checker, r := range got {
		if r.DetectionStatus != types.DetectionNew {
			t.Errorf("%s: status = %s, want NEW", checker, r.DetectionStatus)
		}
		if r.FixedAt != nil {
			t.Errorf("%s: fixed_at set on a NEW report", checker)
		}
	}
}

func TestEngine_ReconcileSecondIngestion(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)
	sources := map[string]string{"src/main.c": mainC}

	b1 := testBundle(t, []RawReport{report("c1", 2), report("c2", 3), report("c3", 4)}, sources)
	if err := ingestBundle(t, e, st, b1, Params{RunName: "nightly"}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	b2 := testBundle(t, []RawReport{report("c1", 2), report("c2", 3), report("c4", 5)}, sources)
	if err := ingestBundle(t, e, st, b2, Params{RunName: "nightly"}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	got := reportsByHashKey(t, st, "nightly")
	want := map[string]types.DetectionStatus{
		"c1": types.DetectionUnresolved,
		"c2": types.DetectionUnresolved,
		"c3": types.DetectionResolved,
		"c4": types.DetectionNew,
	}
	for checker, status := range want {
		r, ok := got[checker]
		if !ok {
			t.Fatalf("report for %s missing", checker)
		}
		if r.DetectionStatus != status {
			t.Errorf("%s: status = %s, want %s", checker, r.DetectionStatus, status)
		}
	}
	if got["c3"].FixedAt == nil {
		t.Error("resolved report has no fixed_at")
	}
	if got["c1"].FixedAt != nil {
		t.Error("open report has fixed_at set")
	}
}

func TestEngine_MissingSourceFile(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)

	b := testBundle(t, []RawReport{report("c1", 2)}, nil) // no root/ tree
	err := ingestBundle(t, e, st, b, Params{RunName: "nightly"})
	if err == nil {
		t.Fatal("ingest with missing source accepted")
	}
	if !errors.Is(err, errMissingFile) {
		t.Errorf("error = %v, want missing-file", err)
	}
	if corekit.KindOf(err) != corekit.KindMissingFile {
		t.Errorf("error kind = %s, want MISSING_FILE", corekit.KindOf(err))
	}
}

func TestEngine_InSourceReviewComment(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)

	src := "int main() {\n\t// codechecker_false_positive [all] not reachable\n\t*p = 5;\n}\n"
	b := testBundle(t, []RawReport{report("c1", 3)}, map[string]string{"src/main.c": src})
	if err := ingestBundle(t, e, st, b, Params{RunName: "nightly"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := reportsByHashKey(t, st, "nightly")
	rule, err := st.GetReviewStatusRule(context.Background(), got["c1"].ReportHash)
	if err != nil {
		t.Fatalf("no review rule stored: %v", err)
	}
	if rule.Status != types.ReviewFalsePositive {
		t.Errorf("rule status = %s, want FALSE_POSITIVE", rule.Status)
	}
	if !rule.IsInSource {
		t.Error("in-source rule not flagged is_in_source")
	}
	if rule.Comment != "not reachable" {
		t.Errorf("rule comment = %q", rule.Comment)
	}
}

func TestEngine_TrimPrefixes(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)

	b := testBundle(t, []RawReport{report("c1", 2)}, map[string]string{"src/main.c": mainC})
	if err := ingestBundle(t, e, st, b, Params{RunName: "nightly", TrimPrefixes: []string{"/src"}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := reportsByHashKey(t, st, "nightly")
	f, err := st.GetFile(context.Background(), got["c1"].FileID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if f.Filepath != "main.c" {
		t.Errorf("stored path = %q, want prefix-trimmed main.c", f.Filepath)
	}
}

func TestEngine_Cancellation(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)

	b := testBundle(t, []RawReport{report("c1", 2)}, map[string]string{"src/main.c": mainC})
	err := e.storeWithRetry(context.Background(), st, b, Params{RunName: "nightly"}, 0,
		func(context.Context) bool { return true })
	if !errors.Is(err, errCancelled) {
		t.Fatalf("error = %v, want cancellation", err)
	}
}

func TestEngine_RunLimit(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)
	sources := map[string]string{"src/main.c": mainC}

	for _, name := range []string{"run-a", "run-b"} {
		b := testBundle(t, []RawReport{report("c1", 2)}, sources)
		if err := ingestBundle(t, e, st, b, Params{RunName: name}); err != nil {
			t.Fatalf("ingest %s: %v", name, err)
		}
	}
	b := testBundle(t, []RawReport{report("c1", 2)}, sources)
	if err := e.storeWithRetry(context.Background(), st, b, Params{RunName: "run-c"}, 2, notCancelled); err != nil {
		t.Fatalf("ingest run-c: %v", err)
	}

	runs, err := st.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("run limit not enforced: %d runs", len(runs))
	}
	for _, r := range runs {
		if r.Name == "run-a" {
			t.Error("oldest run survived past the limit")
		}
	}
}

func TestEngine_HashStableAcrossIngestions(t *testing.T) {
	st := memory.New()
	e := New(nil, 0, nil)

	b1 := testBundle(t, []RawReport{report("c1", 3)}, map[string]string{"src/main.c": mainC})
	if err := ingestBundle(t, e, st, b1, Params{RunName: "nightly"}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	first := reportsByHashKey(t, st, "nightly")["c1"].ReportHash

	// Whitespace on unrelated lines shifts nothing.
	shifted := "int main()  {\n\tint *p = 0;\n\t*p = 5;\n\tuse(p);\n\tleak();\n}\n"
	b2 := testBundle(t, []RawReport{report("c1", 3)}, map[string]string{"src/main.c": shifted})
	if err := ingestBundle(t, e, st, b2, Params{RunName: "nightly"}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	second := reportsByHashKey(t, st, "nightly")["c1"].ReportHash
	if first != second {
		t.Error("whitespace change on an unrelated line changed the report hash")
	}
}
