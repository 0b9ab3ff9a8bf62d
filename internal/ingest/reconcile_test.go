package ingest

import (
	"testing"

	"github.com/findingstore/findingstore/internal/types"
)

func prevReport(hash string, status types.DetectionStatus) *types.Report {
	return &types.Report{ReportHash: hash, DetectionStatus: status, AnalyzerName: "clangsa", CheckerID: "core.X"}
}

func incomingSet(hashes ...string) map[string]*canonReport {
	m := make(map[string]*canonReport, len(hashes))
	for _, h := range hashes {
		m[h] = &canonReport{hash: h, analyzerName: "clangsa", checkerID: "core.X"}
	}
	return m
}

func allEnabled(string, string) bool { return true }
func allRan(string) bool             { return true }

func statusByHash(actions []reconcileAction) map[string]types.DetectionStatus {
	out := make(map[string]types.DetectionStatus, len(actions))
	for _, a := range actions {
		out[a.Hash] = a.Status
	}
	return out
}

func TestReconcile_FirstIngestion(t *testing.T) {
	actions := reconcile(nil, incomingSet("h1", "h2", "h3"), allEnabled, allRan)
	got := statusByHash(actions)
	for _, h := range []string{"h1", "h2", "h3"} {
		if got[h] != types.DetectionNew {
			t.Errorf("%s = %s, want NEW", h, got[h])
		}
	}
}

func TestReconcile_SecondIngestion(t *testing.T) {
	prev := []*types.Report{
		prevReport("h1", types.DetectionNew),
		prevReport("h2", types.DetectionNew),
		prevReport("h3", types.DetectionNew),
	}
	actions := reconcile(prev, incomingSet("h1", "h2", "h4"), allEnabled, allRan)
	got := statusByHash(actions)
	want := map[string]types.DetectionStatus{
		"h1": types.DetectionUnresolved,
		"h2": types.DetectionUnresolved,
		"h3": types.DetectionResolved,
		"h4": types.DetectionNew,
	}
	for h, w := range want {
		if got[h] != w {
			t.Errorf("%s = %s, want %s", h, got[h], w)
		}
	}
}

func TestReconcile_Reopen(t *testing.T) {
	prev := []*types.Report{prevReport("h1", types.DetectionResolved)}
	actions := reconcile(prev, incomingSet("h1"), allEnabled, allRan)
	if got := statusByHash(actions)["h1"]; got != types.DetectionReopened {
		t.Errorf("resolved report found again = %s, want REOPENED", got)
	}
}

func TestReconcile_AlreadyResolvedStaysUntouched(t *testing.T) {
	prev := []*types.Report{prevReport("h1", types.DetectionResolved)}
	actions := reconcile(prev, incomingSet(), allEnabled, allRan)
	if len(actions) != 0 {
		t.Errorf("expected no actions for an already-resolved absent report, got %d", len(actions))
	}
}

func TestReconcile_CheckerDisabled(t *testing.T) {
	prev := []*types.Report{prevReport("h1", types.DetectionUnresolved)}
	disabled := func(analyzer, checker string) bool { return false }
	actions := reconcile(prev, incomingSet(), disabled, allRan)
	if got := statusByHash(actions)["h1"]; got != types.DetectionOff {
		t.Errorf("disabled checker = %s, want OFF", got)
	}
}

func TestReconcile_AnalyzerGone(t *testing.T) {
	prev := []*types.Report{prevReport("h1", types.DetectionUnresolved)}
	notRan := func(string) bool { return false }
	actions := reconcile(prev, incomingSet(), allEnabled, notRan)
	if got := statusByHash(actions)["h1"]; got != types.DetectionUnavailable {
		t.Errorf("absent analyzer = %s, want UNAVAILABLE", got)
	}
}

func TestReconcile_OffReportReturns(t *testing.T) {
	prev := []*types.Report{prevReport("h1", types.DetectionOff)}
	actions := reconcile(prev, incomingSet("h1"), allEnabled, allRan)
	if got := statusByHash(actions)["h1"]; got != types.DetectionUnresolved {
		t.Errorf("returning OFF report = %s, want UNRESOLVED", got)
	}
}
