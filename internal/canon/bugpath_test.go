package canon

import (
	"testing"

	"github.com/findingstore/findingstore/internal/types"
)

func pos(fileID int64, line, col int) types.BugPathPosition {
	return types.BugPathPosition{FileID: fileID, StartLine: line, StartCol: col, EndLine: line, EndCol: col + 1}
}

func TestCanonicalizeBugPath_FiltersEmptySpans(t *testing.T) {
	raw := []RawBugPathEvent{
		{Position: pos(1, 10, 2), Msg: "assuming p is null"},
		{Position: types.BugPathPosition{}, Msg: "dropped"},
		{Position: pos(1, 12, 4), Msg: "dereference here"},
	}
	path, extended := CanonicalizeBugPath(raw)
	if len(path) != 2 {
		t.Fatalf("expected 2 events after filtering, got %d", len(path))
	}
	if len(extended) != 0 {
		t.Fatalf("expected no extended data, got %d", len(extended))
	}
	if path[0].Msg != "assuming p is null" || path[1].Msg != "dereference here" {
		t.Errorf("order not preserved: %q, %q", path[0].Msg, path[1].Msg)
	}
}

func TestCanonicalizeBugPath_ExtendedTagging(t *testing.T) {
	raw := []RawBugPathEvent{
		{Position: pos(1, 5, 1), Msg: "change to <= (fixit)", Extended: true},
		{Position: pos(1, 6, 1), Msg: "MACRO expansion of CHECK()", Extended: true},
		{Position: pos(1, 7, 1), Msg: "taking true branch", Extended: true},
	}
	_, extended := CanonicalizeBugPath(raw)
	if len(extended) != 3 {
		t.Fatalf("expected 3 extended entries, got %d", len(extended))
	}
	want := []types.ExtendedKind{types.ExtendedFixit, types.ExtendedMacro, types.ExtendedNote}
	for i, kind := range want {
		if extended[i].Kind != kind {
			t.Errorf("entry %d: kind = %s, want %s", i, extended[i].Kind, kind)
		}
	}
}

func TestCanonicalizeBugPath_InsertionOrderWins(t *testing.T) {
	// Analyzer order is kept even when it disagrees with positional order.
	raw := []RawBugPathEvent{
		{Position: pos(2, 1, 1), Msg: "second file first"},
		{Position: pos(1, 9, 3), Msg: "first file after"},
	}
	path, _ := CanonicalizeBugPath(raw)
	if path[0].Msg != "second file first" || path[1].Msg != "first file after" {
		t.Errorf("insertion order not preserved: %v", []string{path[0].Msg, path[1].Msg})
	}
}

func TestLastEvent(t *testing.T) {
	if _, ok := LastEvent(nil); ok {
		t.Error("LastEvent of empty path reported ok")
	}
	path := []types.BugPathEvent{{Msg: "a"}, {Msg: "b"}}
	last, ok := LastEvent(path)
	if !ok || last.Msg != "b" {
		t.Errorf("LastEvent = %q, %v; want b, true", last.Msg, ok)
	}
}
