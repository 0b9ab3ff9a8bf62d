package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/findingstore/findingstore/internal/corekit"
)

// Metadata is the optional metadata.json at a bundle's root: the analyzer's
// per-checker enable/disable configuration feeds the OFF detection-status
// transition.
type Metadata struct {
	CCVersion     string                     `json:"cc_version"`
	CheckerConfig map[string]map[string]bool `json:"checker_config"`
}

// CheckerEnabled reports whether analyzer/checker was enabled for this run,
// defaulting to true when metadata.json is absent or silent on it.
func (m *Metadata) CheckerEnabled(analyzer, checker string) bool {
	if m == nil || m.CheckerConfig == nil {
		return true
	}
	checkers, ok := m.CheckerConfig[analyzer]
	if !ok {
		return true
	}
	enabled, ok := checkers[checker]
	if !ok {
		return true
	}
	return enabled
}

// AnalyzerStats is one entry of the optional statistics/ tree: per-analyzer
// run counters, feeding the UNAVAILABLE detection-status transition when an
// analyzer that previously ran a checker no longer lists it at all.
type AnalyzerStats struct {
	Version         string   `json:"version"`
	Successful      bool     `json:"successful"`
	Failed          bool     `json:"failed"`
	FailedFilePaths []string `json:"failed_file_paths"`
}

// Bundle is a fully-parsed mass_store_run upload: reports ready for
// canonicalization, the source files they reference, and the two optional
// sidecar documents that drive the OFF/UNAVAILABLE transitions.
type Bundle struct {
	Reports    []RawReport
	Root       map[string][]byte // path relative to root/, e.g. "foo/bar.c"
	Metadata   *Metadata
	Statistics map[string]AnalyzerStats // keyed by analyzer name
}

// AnalyzerRan reports whether the named analyzer executed during this
// analysis. With no statistics/ tree the upload carries no evidence either
// way, so every analyzer is assumed to have run; with one, an analyzer
// absent from it did not run, and its previously-stored findings become
// UNAVAILABLE rather than RESOLVED.
func (b *Bundle) AnalyzerRan(name string) bool {
	if len(b.Statistics) == 0 {
		return true
	}
	_, ok := b.Statistics[name]
	return ok
}

const (
	reportsPrefix    = "reports/"
	rootPrefix       = "root/"
	statisticsPrefix = "statistics/"
	metadataName     = "metadata.json"
)

// ParseBundle validates and decodes bundle_bytes. It enforces the size
// ceiling before even opening the archive; callers run it synchronously,
// ahead of taskmgr.Enqueue, so an oversized upload is rejected before any
// task record exists.
func ParseBundle(data []byte, maxBundleSize int64) (*Bundle, error) {
	if maxBundleSize > 0 && int64(len(data)) > maxBundleSize {
		return nil, corekit.New(corekit.KindIOError, "parse_bundle",
			fmt.Errorf("bundle size %d exceeds configured limit %d", len(data), maxBundleSize))
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corekit.New(corekit.KindIOError, "parse_bundle", fmt.Errorf("open archive: %w", err))
	}

	topDir, err := singleTopLevelDir(zr.File)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Root: make(map[string][]byte), Statistics: make(map[string]AnalyzerStats)}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rel := strings.TrimPrefix(f.Name, topDir+"/")
		if rel == f.Name {
			continue // not under the single top-level directory
		}

		switch {
		case rel == metadataName:
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			var md Metadata
			if err := json.Unmarshal(raw, &md); err != nil {
				return nil, corekit.New(corekit.KindReportFormat, "parse_bundle",
					fmt.Errorf("metadata.json: %w", err))
			}
			b.Metadata = &md

		case strings.HasPrefix(rel, reportsPrefix):
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			records, err := parseReportFile(rel, raw)
			if err != nil {
				return nil, err
			}
			b.Reports = append(b.Reports, records...)

		case strings.HasPrefix(rel, rootPrefix):
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			b.Root[strings.TrimPrefix(rel, rootPrefix)] = raw

		case strings.HasPrefix(rel, statisticsPrefix):
			raw, err := readZipFile(f)
			if err != nil {
				return nil, err
			}
			name := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
			var st AnalyzerStats
			if err := json.Unmarshal(raw, &st); err != nil {
				return nil, corekit.New(corekit.KindReportFormat, "parse_bundle",
					fmt.Errorf("statistics/%s: %w", rel, err))
			}
			b.Statistics[name] = st
		}
	}

	return b, nil
}

// singleTopLevelDir enforces the "exactly one top-level directory"
// constraint and returns its name.
func singleTopLevelDir(files []*zip.File) (string, error) {
	top := make(map[string]struct{})
	for _, f := range files {
		name := strings.TrimPrefix(f.Name, "/")
		idx := strings.Index(name, "/")
		if idx < 0 {
			return "", corekit.New(corekit.KindIOError, "parse_bundle",
				fmt.Errorf("entry %q is not inside a top-level directory", name))
		}
		top[name[:idx]] = struct{}{}
	}
	if len(top) != 1 {
		return "", corekit.New(corekit.KindIOError, "parse_bundle",
			fmt.Errorf("bundle must contain exactly one top-level directory, found %d", len(top)))
	}
	for dir := range top {
		return dir, nil
	}
	return "", corekit.New(corekit.KindIOError, "parse_bundle", fmt.Errorf("empty bundle"))
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, corekit.New(corekit.KindIOError, "parse_bundle", fmt.Errorf("open %s: %w", f.Name, err))
	}
	defer func() { _ = rc.Close() }()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, corekit.New(corekit.KindIOError, "parse_bundle", fmt.Errorf("read %s: %w", f.Name, err))
	}
	return buf.Bytes(), nil
}
