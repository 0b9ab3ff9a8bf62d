package triage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage/memory"
	"github.com/findingstore/findingstore/internal/types"
)

func seedReport(t *testing.T, st *memory.Store, hash string) int64 {
	t.Helper()
	ctx := context.Background()
	run, err := st.GetOrCreateRun(ctx, "r")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	f, err := st.UpsertFile(ctx, &types.File{RunID: run.ID, Filepath: "/a.c", ContentHash: "ch"})
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	r, err := st.InsertReport(ctx, &types.Report{
		RunID: run.ID, FileID: f.ID, CheckerID: "core.X", AnalyzerName: "clangsa",
		ReportHash: hash, DetectionStatus: types.DetectionNew, DetectedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert report: %v", err)
	}
	return r.ID
}

func openProduct() *types.Product {
	return &types.Product{ID: 1, Endpoint: "default"}
}

func TestChangeReviewStatus(t *testing.T) {
	st := memory.New()
	m := New(st, nil)
	ctx := context.Background()
	reportID := seedReport(t, st, "h2")

	if err := m.ChangeReviewStatus(ctx, openProduct(), reportID, types.ReviewFalsePositive, "not a bug", "alice", false); err != nil {
		t.Fatalf("change review status: %v", err)
	}

	rule, err := st.GetReviewStatusRule(ctx, "h2")
	if err != nil {
		t.Fatalf("rule not stored: %v", err)
	}
	if rule.Status != types.ReviewFalsePositive || rule.Author != "alice" || rule.Comment != "not a bug" {
		t.Errorf("rule = %+v", rule)
	}
	if rule.IsInSource {
		t.Error("API-written rule flagged as in-source")
	}

	comments, err := st.GetComments(ctx, reportID)
	if err != nil {
		t.Fatalf("get comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 system comment, got %d", len(comments))
	}
	c := comments[0]
	if c.Kind != types.CommentSystem {
		t.Errorf("comment kind = %s, want SYSTEM", c.Kind)
	}
	if !strings.Contains(c.Message, "UNREVIEWED") || !strings.Contains(c.Message, "FALSE_POSITIVE") {
		t.Errorf("transition comment = %q", c.Message)
	}
	if c.Author != "alice" {
		t.Errorf("comment author = %q", c.Author)
	}
}

func TestChangeReviewStatus_PropagatesByHash(t *testing.T) {
	st := memory.New()
	m := New(st, nil)
	ctx := context.Background()

	first := seedReport(t, st, "shared")
	second := seedReport(t, st, "shared")

	if err := m.ChangeReviewStatus(ctx, openProduct(), first, types.ReviewConfirmed, "", "bob", false); err != nil {
		t.Fatalf("change review status: %v", err)
	}

	// The rule is keyed by hash, so the second report resolves to the same
	// verdict without its own rule row.
	reports, err := st.QueryReports(ctx, nil, types.ReportFilter{
		ReviewStatus: []types.ReviewStatus{types.ReviewConfirmed},
	}, nil, 100, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("verdict propagated to %d reports, want 2", len(reports))
	}
	_ = second
}

func TestChangeReviewStatus_Disabled(t *testing.T) {
	st := memory.New()
	m := New(st, nil)
	ctx := context.Background()
	reportID := seedReport(t, st, "h1")

	locked := &types.Product{ID: 1, Endpoint: "locked", ReviewStatusChangeDisabled: true}

	err := m.ChangeReviewStatus(ctx, locked, reportID, types.ReviewConfirmed, "", "alice", false)
	if err == nil {
		t.Fatal("disabled product accepted a non-admin change")
	}
	if corekit.KindOf(err) != corekit.KindUnauthorized {
		t.Errorf("error kind = %s, want UNAUTHORIZED", corekit.KindOf(err))
	}

	// A product admin may still change it.
	if err := m.ChangeReviewStatus(ctx, locked, reportID, types.ReviewConfirmed, "", "admin", true); err != nil {
		t.Errorf("admin change rejected: %v", err)
	}
}

func TestCommentOwnership(t *testing.T) {
	st := memory.New()
	m := New(st, nil)
	ctx := context.Background()
	reportID := seedReport(t, st, "h1")

	c, err := m.AddComment(ctx, reportID, "alice", "looks wrong")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}

	if err := m.UpdateComment(ctx, c.ID, "edited", "mallory", false); err == nil {
		t.Error("non-author edited someone else's comment")
	}
	if err := m.UpdateComment(ctx, c.ID, "edited", "alice", false); err != nil {
		t.Errorf("author edit rejected: %v", err)
	}
	if err := m.RemoveComment(ctx, c.ID, "admin", true); err != nil {
		t.Errorf("admin removal rejected: %v", err)
	}
}

func TestSystemCommentsImmutable(t *testing.T) {
	st := memory.New()
	m := New(st, nil)
	ctx := context.Background()
	reportID := seedReport(t, st, "h1")

	if err := m.ChangeReviewStatus(ctx, openProduct(), reportID, types.ReviewIntentional, "", "alice", false); err != nil {
		t.Fatalf("change review status: %v", err)
	}
	comments, _ := st.GetComments(ctx, reportID)
	if len(comments) != 1 {
		t.Fatalf("expected the system comment, got %d", len(comments))
	}
	if err := m.UpdateComment(ctx, comments[0].ID, "rewrite history", "alice", true); err == nil {
		t.Error("system comment was editable")
	}
}

func TestCleanupPlanLifecycle(t *testing.T) {
	st := memory.New()
	m := New(st, nil)
	ctx := context.Background()

	plan, err := m.CreateCleanupPlan(ctx, &types.CleanupPlan{Name: "q3", Hashes: []string{"h1"}})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := m.SetCleanupPlan(ctx, plan.ID, []string{"h2"}); err != nil {
		t.Fatalf("set members: %v", err)
	}
	if err := m.UnsetCleanupPlan(ctx, plan.ID, []string{"h1"}); err != nil {
		t.Fatalf("unset members: %v", err)
	}
	if err := m.CloseCleanupPlan(ctx, plan.ID); err != nil {
		t.Fatalf("close plan: %v", err)
	}

	open, err := m.ListCleanupPlans(ctx, false)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("closed plan listed among open ones")
	}
	all, err := m.ListCleanupPlans(ctx, true)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || len(all[0].Hashes) != 1 || all[0].Hashes[0] != "h2" {
		t.Errorf("plan state = %+v", all[0])
	}
}
