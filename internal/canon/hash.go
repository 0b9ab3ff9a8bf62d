// Package canon implements the report canonicalizer: turning a raw
// analyzer finding into a stable report_hash, a canonicalized bug path, and
// tagged extended data, plus the source-tree helpers (prefix trimming,
// in-source review comment scanning) that feed the ingestion pipeline.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// ReportHashInput is the tuple report identity is defined over: the
// checker id, analyzer name, the last bug-path-event's file basename, its
// normalized message, and the warning line's trimmed source text.
type ReportHashInput struct {
	CheckerID      string
	AnalyzerName   string
	LastEventFile  string // basename only
	LastEventMsg   string
	SourceLineText string
}

// ReportHash computes the canonical report hash: stable
// across unrelated line-number shifts and whitespace changes elsewhere,
// sensitive to any non-whitespace change on the warning line itself.
func ReportHash(in ReportHashInput) string {
	normMsg := normalizeWhitespace(in.LastEventMsg)
	normLine := strings.TrimSpace(in.SourceLineText)
	basename := filepath.Base(in.LastEventFile)

	h := sha256.New()
	parts := []string{in.CheckerID, in.AnalyzerName, basename, normMsg, normLine}
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0}) // NUL separator: no part can accidentally merge with its neighbor
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeWhitespace trims the string and collapses interior runs of
// whitespace to a single space.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
