package canon

import (
	"testing"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

func TestScanSourceReviewComments_Standalone(t *testing.T) {
	src := []byte(`int main() {
	// codechecker_false_positive [core.NullDereference] checked by caller
	*p = 5;
	return 0;
}`)
	comments, err := ScanSourceReviewComments(src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	c := comments[0]
	if c.Line != 3 {
		t.Errorf("comment applies to line %d, want 3 (the next code line)", c.Line)
	}
	if c.Status != types.ReviewFalsePositive {
		t.Errorf("status = %s, want FALSE_POSITIVE", c.Status)
	}
	if len(c.CheckerIDs) != 1 || c.CheckerIDs[0] != "core.NullDereference" {
		t.Errorf("checkers = %v", c.CheckerIDs)
	}
	if c.Message != "checked by caller" {
		t.Errorf("message = %q", c.Message)
	}
}

func TestScanSourceReviewComments_Trailing(t *testing.T) {
	src := []byte("\tfree(p); // codechecker_intentional [all] freed twice on purpose\n")
	comments, err := ScanSourceReviewComments(src)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(comments) != 1 || comments[0].Line != 1 {
		t.Fatalf("trailing comment should apply to its own line: %+v", comments)
	}
	if comments[0].Status != types.ReviewIntentional {
		t.Errorf("status = %s", comments[0].Status)
	}
	if len(comments[0].CheckerIDs) != 0 {
		t.Errorf("[all] should mean every checker, got %v", comments[0].CheckerIDs)
	}
}

func TestScanSourceReviewComments_Malformed(t *testing.T) {
	src := []byte("// codechecker_wat something\nint x;\n")
	if _, err := ScanSourceReviewComments(src); err == nil {
		t.Fatal("unknown annotation verb should fail")
	} else if corekit.KindOf(err) != corekit.KindSourceFile {
		t.Errorf("error kind = %s, want SOURCE_FILE", corekit.KindOf(err))
	}
}

func TestMatchingComment(t *testing.T) {
	comments := []ReviewComment{
		{Line: 10, Status: types.ReviewConfirmed, CheckerIDs: []string{"other.Checker"}},
		{Line: 10, Status: types.ReviewFalsePositive},
		{Line: 20, Status: types.ReviewIntentional},
	}
	got, ok := MatchingComment(comments, 10, "core.NullDereference")
	if !ok || got.Status != types.ReviewFalsePositive {
		t.Errorf("MatchingComment(10) = %+v, %v", got, ok)
	}
	if _, ok := MatchingComment(comments, 11, "core.NullDereference"); ok {
		t.Error("matched a comment on a different line")
	}
	got, ok = MatchingComment(comments, 10, "other.Checker")
	if !ok {
		t.Error("checker-scoped comment did not match its checker")
	}
	_ = got
}
