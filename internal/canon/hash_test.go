package canon

import "testing"

func TestReportHash_Stable(t *testing.T) {
	in := ReportHashInput{
		CheckerID:      "core.NullDereference",
		AnalyzerName:   "clangsa",
		LastEventFile:  "/src/foo/bar.c",
		LastEventMsg:   "Dereference of null pointer",
		SourceLineText: "  *p = 5;  ",
	}
	h1 := ReportHash(in)
	h2 := ReportHash(in)
	if h1 != h2 {
		t.Fatalf("same input produced different hashes: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestReportHash_BasenameOnly(t *testing.T) {
	a := ReportHashInput{CheckerID: "c", AnalyzerName: "a", LastEventFile: "/old/path/bar.c", LastEventMsg: "m", SourceLineText: "x"}
	b := a
	b.LastEventFile = "/new/location/bar.c"
	if ReportHash(a) != ReportHash(b) {
		t.Error("moving a file between directories changed the hash")
	}
	b.LastEventFile = "/new/location/baz.c"
	if ReportHash(a) == ReportHash(b) {
		t.Error("renaming the file did not change the hash")
	}
}

func TestReportHash_WhitespaceInsensitive(t *testing.T) {
	a := ReportHashInput{CheckerID: "c", AnalyzerName: "a", LastEventFile: "f.c", LastEventMsg: "null  pointer \t deref", SourceLineText: "\t if (p) {  "}
	b := a
	b.LastEventMsg = "null pointer deref"
	b.SourceLineText = "if (p) {"
	if ReportHash(a) != ReportHash(b) {
		t.Error("whitespace normalization is not applied before hashing")
	}
}

func TestReportHash_SensitiveToWarningLine(t *testing.T) {
	a := ReportHashInput{CheckerID: "c", AnalyzerName: "a", LastEventFile: "f.c", LastEventMsg: "m", SourceLineText: "x = 1;"}
	b := a
	b.SourceLineText = "x = 2;"
	if ReportHash(a) == ReportHash(b) {
		t.Error("changing the warning line's content did not change the hash")
	}
}

func TestReportHash_FieldBoundaries(t *testing.T) {
	// The separator must keep adjacent fields from merging: ("ab","c")
	// and ("a","bc") hash differently.
	a := ReportHashInput{CheckerID: "ab", AnalyzerName: "c"}
	b := ReportHashInput{CheckerID: "a", AnalyzerName: "bc"}
	if ReportHash(a) == ReportHash(b) {
		t.Error("adjacent hash fields merged")
	}
}
