package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/findingstore/findingstore/internal/corekit"
)

// zipBundle builds an archive with the given entries under one top-level
// directory named "analysis".
func zipBundle(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create("analysis/" + name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func reportJSON(t *testing.T, reports []RawReport) []byte {
	t.Helper()
	data, err := json.Marshal(reports)
	if err != nil {
		t.Fatalf("marshal reports: %v", err)
	}
	return data
}

func TestParseBundle_Full(t *testing.T) {
	reports := []RawReport{{
		CheckerID:    "core.NullDereference",
		AnalyzerName: "clangsa",
		FilePath:     "/src/main.c",
		BugPathEvents: []RawEvent{
			{FilePath: "/src/main.c", StartLine: 3, StartCol: 2, EndLine: 3, EndCol: 4, Msg: "null deref"},
		},
	}}
	data := zipBundle(t, map[string][]byte{
		"reports/clangsa.json":  reportJSON(t, reports),
		"root/src/main.c":       []byte("int main() {\n\tint *p = 0;\n\t*p = 5;\n}\n"),
		"metadata.json":         []byte(`{"cc_version":"6.2","checker_config":{"clangsa":{"dead.Store":false}}}`),
		"statistics/clangsa.json": []byte(`{"version":"17.0","successful":true}`),
	})

	b, err := ParseBundle(data, 0)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(b.Reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(b.Reports))
	}
	if _, ok := b.Root["src/main.c"]; !ok {
		t.Error("root tree entry missing")
	}
	if b.Metadata == nil || b.Metadata.CCVersion != "6.2" {
		t.Errorf("metadata = %+v", b.Metadata)
	}
	if b.Metadata.CheckerEnabled("clangsa", "dead.Store") {
		t.Error("disabled checker reported enabled")
	}
	if !b.Metadata.CheckerEnabled("clangsa", "core.NullDereference") {
		t.Error("unlisted checker should default to enabled")
	}
	if !b.AnalyzerRan("clangsa") {
		t.Error("analyzer with statistics entry should count as ran")
	}
	if b.AnalyzerRan("cppcheck") {
		t.Error("analyzer missing from a non-empty statistics tree should not count as ran")
	}
}

func TestParseBundle_SizeLimit(t *testing.T) {
	data := zipBundle(t, map[string][]byte{"reports/a.json": []byte("[]")})
	_, err := ParseBundle(data, 10)
	if err == nil {
		t.Fatal("oversized bundle accepted")
	}
	if corekit.KindOf(err) != corekit.KindIOError {
		t.Errorf("error kind = %s, want IOERROR", corekit.KindOf(err))
	}
}

func TestParseBundle_MultipleTopDirs(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"one/reports/a.json", "two/reports/b.json"} {
		w, _ := zw.Create(name)
		_, _ = w.Write([]byte("[]"))
	}
	_ = zw.Close()
	if _, err := ParseBundle(buf.Bytes(), 0); err == nil {
		t.Fatal("two top-level directories accepted")
	}
}

func TestParseBundle_MalformedReport(t *testing.T) {
	data := zipBundle(t, map[string][]byte{"reports/a.json": []byte("{not json")})
	_, err := ParseBundle(data, 0)
	if err == nil {
		t.Fatal("malformed report file accepted")
	}
	if corekit.KindOf(err) != corekit.KindReportFormat {
		t.Errorf("error kind = %s, want REPORT_FORMAT", corekit.KindOf(err))
	}
}

func TestParseBundle_MissingRequiredFields(t *testing.T) {
	data := zipBundle(t, map[string][]byte{
		"reports/a.json": []byte(`[{"checker_id":"","analyzer_name":"clangsa","file_path":"/a.c"}]`),
	})
	if _, err := ParseBundle(data, 0); err == nil {
		t.Fatal("record with empty checker_id accepted")
	}
}
