package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/findingstore/findingstore/internal/corekit"
)

// RawReport is one analyzer-agnostic finding record as it appears inside a
// reports/ file. A
// conversion step upstream of this service already normalized whatever
// analyzer-native format produced it; ingestion only canonicalizes.
type RawReport struct {
	CheckerID     string            `json:"checker_id"`
	AnalyzerName  string            `json:"analyzer_name"`
	FilePath      string            `json:"file_path"`
	BugPathEvents []RawEvent        `json:"bug_path_events"`
	ExtendedData  []RawEvent        `json:"extended_data"`
	Annotations   map[string]string `json:"annotations"`
	Severity      string            `json:"severity"`
}

// RawEvent is one point in a bug path or extended-data entry, keyed by
// source path rather than an already-resolved file id (that resolution
// happens during ingestion, against the bundle's root/ tree).
type RawEvent struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	Msg       string `json:"msg"`
}

// parseReportFile decodes one reports/ file's JSON array of records.
// Malformed JSON is a REPORT_FORMAT error, not IOERROR: the
// archive itself was readable, only its payload is invalid.
func parseReportFile(name string, data []byte) ([]RawReport, error) {
	var records []RawReport
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, corekit.New(corekit.KindReportFormat, "parse_report_file",
			fmt.Errorf("%s: %w", name, err))
	}
	for i, r := range records {
		if r.CheckerID == "" || r.AnalyzerName == "" || r.FilePath == "" {
			return nil, corekit.New(corekit.KindReportFormat, "parse_report_file",
				fmt.Errorf("%s: record %d missing checker_id/analyzer_name/file_path", name, i))
		}
	}
	return records, nil
}
