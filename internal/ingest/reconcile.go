package ingest

import (
	"github.com/findingstore/findingstore/internal/types"
)

// reconcileAction is one decided transition: either an insert (Existing ==
// nil) or a status update on a prior row (Incoming may be nil when the
// finding vanished from the upload).
type reconcileAction struct {
	Hash     string
	Existing *types.Report
	Incoming *canonReport
	Status   types.DetectionStatus
}

// reconcile computes the detection-status transition for every report hash
// visible in either the prior run state or the incoming upload:
//
//	absent before, present now            → NEW
//	open before, present now              → UNRESOLVED
//	RESOLVED before, present now          → REOPENED
//	present before, absent now            → RESOLVED
//	  ...but checker disabled this run    → OFF
//	  ...but analyzer did not run at all  → UNAVAILABLE
//
// A report whose checker was OFF or UNAVAILABLE and which shows up again
// is treated like an open report (→ UNRESOLVED): its absence was a tooling
// artifact, not a fix, so reappearing is not a reopen event.
//
// The function is pure: callers apply the returned actions to storage.
func reconcile(
	prev []*types.Report,
	incoming map[string]*canonReport,
	checkerEnabled func(analyzer, checker string) bool,
	analyzerRan func(analyzer string) bool,
) []reconcileAction {
	var actions []reconcileAction
	seen := make(map[string]bool, len(prev))

	for _, p := range prev {
		seen[p.ReportHash] = true
		in, present := incoming[p.ReportHash]

		if present {
			status := types.DetectionUnresolved
			if p.DetectionStatus == types.DetectionResolved {
				status = types.DetectionReopened
			}
			actions = append(actions, reconcileAction{
				Hash: p.ReportHash, Existing: p, Incoming: in, Status: status,
			})
			continue
		}

		switch {
		case !checkerEnabled(p.AnalyzerName, p.CheckerID):
			actions = append(actions, reconcileAction{
				Hash: p.ReportHash, Existing: p, Status: types.DetectionOff,
			})
		case !analyzerRan(p.AnalyzerName):
			actions = append(actions, reconcileAction{
				Hash: p.ReportHash, Existing: p, Status: types.DetectionUnavailable,
			})
		case p.DetectionStatus == types.DetectionResolved:
			// Already resolved in an earlier snapshot; nothing to update.
		default:
			actions = append(actions, reconcileAction{
				Hash: p.ReportHash, Existing: p, Status: types.DetectionResolved,
			})
		}
	}

	for hash, in := range incoming {
		if seen[hash] {
			continue
		}
		actions = append(actions, reconcileAction{
			Hash: hash, Incoming: in, Status: types.DetectionNew,
		})
	}
	return actions
}
