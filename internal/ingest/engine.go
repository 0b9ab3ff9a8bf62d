// Package ingest implements the ingestion engine: parsing an uploaded
// report bundle, canonicalizing its findings, and reconciling them with a
// run's prior state inside one transaction, driven as a cancellable
// background task.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/canon"
	"github.com/findingstore/findingstore/internal/content"
	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/taskmgr"
	"github.com/findingstore/findingstore/internal/types"
)

// TaskKindMassStoreRun is the task-queue kind ingestion jobs enqueue under.
const TaskKindMassStoreRun = "mass_store_run"

// reconcileBatchSize bounds how many transitions are applied between
// cancellation polls.
const reconcileBatchSize = 100

// deadlockRetries bounds the local retry on transient database deadlocks;
// every other error aborts the transaction and surfaces.
const deadlockRetries = 3

// errCancelled aborts the ingestion transaction when a cancel request is
// observed at a poll point. The task manager translates it to CANCELLED.
var errCancelled = errors.New("ingestion cancelled by request")

// Params carries one mass_store_run call's inputs.
type Params struct {
	RunName      string
	Tag          string
	Version      string
	Description  string
	Bundle       []byte
	Force        bool
	TrimPrefixes []string
	Actor        string
}

// Engine coordinates bundle ingestion: synchronous validation and lock
// acquisition, then a background task that owns the storage transaction.
type Engine struct {
	tasks         *taskmgr.Manager
	log           *zap.SugaredLogger
	locks         *runLock
	maxBundleSize int64
	now           func() time.Time
}

// New constructs an Engine. maxBundleSize of 0 disables the size ceiling.
func New(tasks *taskmgr.Manager, maxBundleSize int64, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		tasks:         tasks,
		log:           log,
		locks:         newRunLock(),
		maxBundleSize: maxBundleSize,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// MassStoreRun validates the bundle, takes the per-(product, run_name)
// ingestion lock, and enqueues the background import, returning its task
// token. Oversized or malformed bundles and an already-running ingestion
// for the same run are rejected here, synchronously, before any Task
// record exists.
func (e *Engine) MassStoreRun(ctx context.Context, st storage.Store, product *types.Product, p Params) (string, error) {
	bundle, err := ParseBundle(p.Bundle, e.maxBundleSize)
	if err != nil {
		return "", err
	}

	release, err := e.locks.TryAcquire(product.ID, p.RunName)
	if err != nil {
		return "", err
	}

	productID := product.ID
	runLimit := product.RunLimit
	token, err := e.tasks.Enqueue(ctx, TaskKindMassStoreRun, &productID, p.Actor, func(taskCtx context.Context, hb *taskmgr.Heartbeat) error {
		defer release()
		return e.storeWithRetry(taskCtx, st, bundle, p, runLimit, func(c context.Context) bool {
			return hb.Cancelled(c)
		})
	})
	if err != nil {
		release()
		return "", err
	}
	return token, nil
}

// storeWithRetry runs the ingestion transaction, retrying only on
// transient deadlocks with exponential backoff.
func (e *Engine) storeWithRetry(ctx context.Context, st storage.Store, bundle *Bundle, p Params, runLimit int, cancelled func(context.Context) bool) error {
	start := e.now()

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), deadlockRetries-1), ctx)
	err := backoff.Retry(func() error {
		err := st.WithTx(ctx, func(tx storage.Tx) error {
			return e.storeBundle(ctx, tx, st, bundle, p, runLimit, cancelled)
		})
		if err != nil && !isDeadlock(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)

	metrics.durationMs.Record(ctx, float64(e.now().Sub(start).Milliseconds()))
	if err != nil {
		e.log.Warnw("mass_store_run failed", "run", p.RunName, "error", err)
	} else {
		e.log.Infow("mass_store_run committed", "run", p.RunName,
			"reports", len(bundle.Reports), "duration", e.now().Sub(start))
	}
	return err
}

// storeBundle is the body of the ingestion transaction. Content blobs are
// written through st (autocommit) rather than tx: deduplicated,
// reference-counted blobs are harmless to keep if the transaction rolls
// back, and re-uploads then skip them.
func (e *Engine) storeBundle(ctx context.Context, tx storage.Tx, st storage.Store, bundle *Bundle, p Params, runLimit int, cancelled func(context.Context) bool) error {
	now := e.now()

	// Blob writes go through the store-bound content layer (autocommit);
	// reference counting and reads bind to the transaction instead, so an
	// aborted import never leaves a skewed refcount behind.
	blobs := content.New(st)
	txBlobs := content.New(tx)

	// root/foo/bar.c in the archive stands for /foo/bar.c on the scanned
	// tree; both maps are keyed by the trimmed logical path reports use.
	rootHashes := make(map[string]string, len(bundle.Root))
	rootData := make(map[string][]byte, len(bundle.Root))
	for path, data := range bundle.Root {
		h := content.Hash(data)
		if err := blobs.Put(ctx, h, data, nil); err != nil {
			return err
		}
		trimmed := canon.TrimPath("/"+path, p.TrimPrefixes)
		rootHashes[trimmed] = h
		rootData[trimmed] = data
	}

	if err := e.enforceRunLimit(ctx, tx, p.RunName, runLimit); err != nil {
		return err
	}
	run, err := tx.GetOrCreateRun(ctx, p.RunName)
	if err != nil {
		return err
	}
	rh, err := tx.CreateRunHistory(ctx, run.ID, &types.RunHistory{
		VersionTag:      p.Tag,
		StoredAt:        now,
		User:            p.Actor,
		CCClientVersion: p.Version,
		Description:     p.Description,
	})
	if err != nil {
		return err
	}

	files, err := e.resolveFiles(ctx, tx, txBlobs, run.ID, bundle, rootHashes, p.TrimPrefixes)
	if err != nil {
		return err
	}

	incoming, err := e.canonicalize(ctx, txBlobs, bundle, files, rootHashes, p.TrimPrefixes)
	if err != nil {
		return err
	}

	if cancelled(ctx) {
		return errCancelled
	}

	prev, err := tx.CurrentReportsForRun(ctx, run.ID)
	if err != nil {
		return err
	}
	actions := reconcile(prev, incoming,
		func(analyzer, checker string) bool { return bundle.Metadata.CheckerEnabled(analyzer, checker) },
		func(analyzer string) bool { return bundle.AnalyzerRan(analyzer) })

	counts := make(map[types.DetectionStatus]int)
	for i, a := range actions {
		if i > 0 && i%reconcileBatchSize == 0 && cancelled(ctx) {
			return errCancelled
		}
		if err := e.applyAction(ctx, tx, run.ID, now, a, p.Force); err != nil {
			return err
		}
		counts[a.Status]++
	}
	// Reports untouched by any action (already RESOLVED before this
	// upload) still count toward the snapshot's aggregates.
	touched := make(map[string]bool, len(actions))
	for _, a := range actions {
		touched[a.Hash] = true
	}
	for _, r := range prev {
		if !touched[r.ReportHash] {
			counts[r.DetectionStatus]++
		}
	}
	metrics.reportCount.Add(ctx, int64(len(incoming)))

	if err := e.applyReviewRules(ctx, tx, rootData, actions); err != nil {
		return err
	}

	return tx.UpdateRunHistoryCounts(ctx, rh.ID, counts)
}

// enforceRunLimit deletes the oldest run when storing a run name the
// product has no row for yet would exceed its configured cap.
func (e *Engine) enforceRunLimit(ctx context.Context, tx storage.Tx, runName string, limit int) error {
	if limit <= 0 {
		return nil
	}
	runs, err := tx.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Name == runName {
			return nil
		}
	}
	if len(runs) < limit {
		return nil
	}
	oldest := runs[0]
	for _, r := range runs[1:] {
		if r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	e.log.Infow("run limit reached, deleting oldest run", "limit", limit, "deleted_run", oldest.Name)
	return tx.DeleteRun(ctx, oldest.ID)
}

// resolveFiles upserts a File row for every source path the bundle's
// reports reference. A path whose content is neither shipped in root/ nor
// already known from a prior ingestion of the same run fails the upload.
func (e *Engine) resolveFiles(ctx context.Context, tx storage.Tx, blobs *content.Store, runID int64, bundle *Bundle, rootHashes map[string]string, trimPrefixes []string) (map[string]*types.File, error) {
	paths := make(map[string]bool)
	for i := range bundle.Reports {
		r := &bundle.Reports[i]
		paths[canon.TrimPath(r.FilePath, trimPrefixes)] = true
		for _, ev := range r.BugPathEvents {
			if ev.FilePath != "" {
				paths[canon.TrimPath(ev.FilePath, trimPrefixes)] = true
			}
		}
		for _, ex := range r.ExtendedData {
			if ex.FilePath != "" {
				paths[canon.TrimPath(ex.FilePath, trimPrefixes)] = true
			}
		}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	files := make(map[string]*types.File, len(sorted))
	for _, path := range sorted {
		hash, shipped := rootHashes[path]

		existing, err := tx.GetFileByPath(ctx, runID, path)
		if err != nil && !corekit.IsNotFound(err) {
			return nil, err
		}

		if !shipped {
			if existing == nil || corekit.IsNotFound(err) {
				return nil, corekit.New(corekit.KindMissingFile, "mass_store_run",
					fmt.Errorf("%w: source file %q is neither in the bundle nor already stored", errMissingFile, path))
			}
			files[path] = existing
			continue
		}

		f, err := tx.UpsertFile(ctx, &types.File{RunID: runID, Filepath: path, ContentHash: hash})
		if err != nil {
			return nil, err
		}
		switch {
		case existing == nil:
			err = blobs.Acquire(ctx, hash)
		case existing.ContentHash != hash:
			if err = blobs.Acquire(ctx, hash); err == nil {
				err = blobs.Release(ctx, existing.ContentHash)
			}
		}
		if err != nil {
			return nil, err
		}
		files[path] = f
	}
	return files, nil
}

// canonReport is one fully canonicalized incoming finding, keyed by its
// report hash and ready for insertion.
type canonReport struct {
	hash         string
	checkerID    string
	analyzerName string
	checkerMsg   string
	severity     string
	annotations  map[string]string
	file         *types.File
	line, col    int
	bugPath      []types.BugPathEvent
	extended     []types.ExtendedReportData
}

// canonicalize normalizes every raw report into a canonReport, grouped by
// report hash; duplicate hashes within one upload collapse to the first
// occurrence.
func (e *Engine) canonicalize(ctx context.Context, blobs *content.Store, bundle *Bundle, files map[string]*types.File, rootHashes map[string]string, trimPrefixes []string) (map[string]*canonReport, error) {
	lineCache := make(map[string][]string)

	sourceLine := func(path string, line int) (string, error) {
		lines, ok := lineCache[path]
		if !ok {
			var data []byte
			hash, shipped := rootHashes[path]
			if shipped {
				fc, err := blobs.Get(ctx, hash)
				if err != nil {
					return "", err
				}
				data = fc.Bytes
			} else if f := files[path]; f != nil && f.ContentHash != "" {
				fc, err := blobs.Get(ctx, f.ContentHash)
				if err != nil {
					if corekit.IsNotFound(err) {
						lineCache[path] = nil
						return "", nil
					}
					return "", err
				}
				data = fc.Bytes
			}
			lines = strings.Split(string(data), "\n")
			lineCache[path] = lines
		}
		if lines == nil {
			// Content asserted as already stored but since released; hash
			// without the line text rather than failing the whole upload.
			return "", nil
		}
		if line < 1 || line > len(lines) {
			return "", corekit.New(corekit.KindReportFormat, "canonicalize",
				fmt.Errorf("line %d out of range for %q (%d lines)", line, path, len(lines)))
		}
		return lines[line-1], nil
	}

	out := make(map[string]*canonReport, len(bundle.Reports))
	for i := range bundle.Reports {
		raw := &bundle.Reports[i]
		mainPath := canon.TrimPath(raw.FilePath, trimPrefixes)

		var rawEvents []canon.RawBugPathEvent
		for _, ev := range raw.BugPathEvents {
			pos, err := e.eventPosition(ev, mainPath, files, trimPrefixes)
			if err != nil {
				return nil, err
			}
			rawEvents = append(rawEvents, canon.RawBugPathEvent{Position: pos, Msg: ev.Msg})
		}
		for _, ex := range raw.ExtendedData {
			pos, err := e.eventPosition(ex, mainPath, files, trimPrefixes)
			if err != nil {
				return nil, err
			}
			rawEvents = append(rawEvents, canon.RawBugPathEvent{Position: pos, Msg: ex.Msg, Extended: true})
		}

		bugPath, extended := canon.CanonicalizeBugPath(rawEvents)
		last, ok := canon.LastEvent(bugPath)
		if !ok {
			return nil, corekit.New(corekit.KindReportFormat, "canonicalize",
				fmt.Errorf("report %d (%s/%s): empty bug path", i, raw.AnalyzerName, raw.CheckerID))
		}

		lastPath := mainPath
		for p, f := range files {
			if f.ID == last.Position.FileID {
				lastPath = p
				break
			}
		}
		lineText, err := sourceLine(lastPath, last.Position.StartLine)
		if err != nil {
			return nil, err
		}

		hash := canon.ReportHash(canon.ReportHashInput{
			CheckerID:      raw.CheckerID,
			AnalyzerName:   raw.AnalyzerName,
			LastEventFile:  lastPath,
			LastEventMsg:   last.Msg,
			SourceLineText: lineText,
		})
		if _, dup := out[hash]; dup {
			continue
		}
		out[hash] = &canonReport{
			hash:         hash,
			checkerID:    raw.CheckerID,
			analyzerName: raw.AnalyzerName,
			checkerMsg:   last.Msg,
			severity:     raw.Severity,
			annotations:  raw.Annotations,
			file:         files[mainPath],
			line:         last.Position.StartLine,
			col:          last.Position.StartCol,
			bugPath:      bugPath,
			extended:     extended,
		}
	}
	return out, nil
}

func (e *Engine) eventPosition(ev RawEvent, mainPath string, files map[string]*types.File, trimPrefixes []string) (types.BugPathPosition, error) {
	path := mainPath
	if ev.FilePath != "" {
		path = canon.TrimPath(ev.FilePath, trimPrefixes)
	}
	f := files[path]
	if f == nil {
		return types.BugPathPosition{}, corekit.New(corekit.KindReportFormat, "canonicalize",
			fmt.Errorf("bug path event references unresolved file %q", path))
	}
	return types.BugPathPosition{
		FileID:    f.ID,
		StartLine: ev.StartLine, StartCol: ev.StartCol,
		EndLine: ev.EndLine, EndCol: ev.EndCol,
	}, nil
}

// applyAction persists one reconciliation decision. With force, a prior
// row whose hash reappears is replaced wholesale (its bug path may have
// changed) while keeping its original detection timestamp.
func (e *Engine) applyAction(ctx context.Context, tx storage.Tx, runID int64, now time.Time, a reconcileAction, force bool) error {
	switch {
	case a.Existing == nil:
		_, err := tx.InsertReport(ctx, e.newReport(runID, now, a))
		return err
	case a.Incoming != nil && force:
		if err := tx.DeleteReport(ctx, a.Existing.ID); err != nil {
			return err
		}
		r := e.newReport(runID, now, a)
		r.DetectedAt = a.Existing.DetectedAt
		_, err := tx.InsertReport(ctx, r)
		return err
	case a.Status == types.DetectionResolved:
		return tx.MarkFixed(ctx, a.Existing.ID, now)
	default:
		return tx.UpdateDetectionStatus(ctx, a.Existing.ID, a.Status)
	}
}

func (e *Engine) newReport(runID int64, now time.Time, a reconcileAction) *types.Report {
	in := a.Incoming
	return &types.Report{
		RunID:           runID,
		FileID:          in.file.ID,
		Line:            in.line,
		Column:          in.col,
		CheckerID:       in.checkerID,
		AnalyzerName:    in.analyzerName,
		CheckerMsg:      in.checkerMsg,
		Severity:        in.severity,
		ReportHash:      a.Hash,
		BugPathLength:   len(in.bugPath),
		DetectedAt:      now,
		DetectionStatus: a.Status,
		Annotations:     in.annotations,
		BugPath:         in.bugPath,
		ExtendedData:    in.extended,
	}
}

// applyReviewRules scans the uploaded sources for in-source review
// annotations and attaches them to the freshly stored reports. An
// in-source annotation always wins over a stored rule for the same hash
// and is persisted with is_in_source set, so later API writes can tell
// the two apart.
func (e *Engine) applyReviewRules(ctx context.Context, tx storage.Tx, rootData map[string][]byte, actions []reconcileAction) error {
	type scanned struct {
		comments []canon.ReviewComment
	}
	cache := make(map[string]*scanned)

	scanPath := func(path string) (*scanned, error) {
		if s, ok := cache[path]; ok {
			return s, nil
		}
		data, ok := rootData[path]
		if !ok {
			cache[path] = &scanned{}
			return cache[path], nil
		}
		comments, err := canon.ScanSourceReviewComments(data)
		if err != nil {
			return nil, err
		}
		cache[path] = &scanned{comments: comments}
		return cache[path], nil
	}

	now := e.now()
	for _, a := range actions {
		in := a.Incoming
		if in == nil {
			continue
		}
		s, err := scanPath(in.file.Filepath)
		if err != nil {
			return err
		}
		rc, found := canon.MatchingComment(s.comments, in.line, in.checkerID)
		if !found {
			continue
		}
		rule := &types.ReviewStatusRule{
			ReportHash: a.Hash,
			Status:     rc.Status,
			Comment:    rc.Message,
			Author:     "", // source annotations carry no author identity
			Date:       now,
			IsInSource: true,
		}
		if err := tx.UpsertReviewStatusRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// errMissingFile marks a report that references a source file the server
// has no content for.
var errMissingFile = errors.New("missing source file")

// isDeadlock recognizes the transient serialization failures worth
// retrying; everything else aborts.
func isDeadlock(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "try restarting transaction")
}
