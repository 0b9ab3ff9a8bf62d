package canon

import (
	"sort"
	"strings"

	"github.com/findingstore/findingstore/internal/types"
)

// RawBugPathEvent is the pre-canonicalization shape an ingestion bundle
// supplies: a bug-path step or an extended-data note, not yet filtered or
// tagged.
type RawBugPathEvent struct {
	Position types.BugPathPosition
	Msg      string
	// Extended is true for NOTE/MACRO-style entries carried alongside the
	// main bug path rather than as one of its steps.
	Extended bool
}

// fixitSuffix marks a bug-path message as a suggested fix,
const fixitSuffix = "(fixit)"

// CanonicalizeBugPath filters raw events down to non-empty spans, tags
// extended entries NOTE/MACRO/FIXIT, and orders the result: insertion order
// from the analyzer, ties broken by (file_id, start_line, start_col).
func CanonicalizeBugPath(raw []RawBugPathEvent) ([]types.BugPathEvent, []types.ExtendedReportData) {
	var path []types.BugPathEvent
	var extended []types.ExtendedReportData

	type indexed struct {
		idx int
		ev  RawBugPathEvent
	}
	var kept []indexed
	for i, ev := range raw {
		if ev.Position.Empty() {
			continue
		}
		kept = append(kept, indexed{i, ev})
	}
	// Analyzer order is authoritative; the position key only decides
	// between events the analyzer emitted at the same step.
	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].idx != kept[b].idx {
			return kept[a].idx < kept[b].idx
		}
		pa, pb := kept[a].ev.Position, kept[b].ev.Position
		if pa.FileID != pb.FileID {
			return pa.FileID < pb.FileID
		}
		if pa.StartLine != pb.StartLine {
			return pa.StartLine < pb.StartLine
		}
		return pa.StartCol < pb.StartCol
	})

	for _, k := range kept {
		ev := k.ev
		if ev.Extended {
			extended = append(extended, types.ExtendedReportData{
				Position: ev.Position,
				Msg:      ev.Msg,
				Kind:     classifyExtended(ev.Msg),
			})
			continue
		}
		kind := types.BugPathEvent{Position: ev.Position, Msg: ev.Msg}
		path = append(path, kind)
	}
	return path, extended
}

// classifyExtended tags an extended-data message NOTE, MACRO, or FIXIT.
// FIXIT is detected by the "(fixit)" suffix; a message starting with
// "MACRO" (any case) is MACRO; everything else is NOTE.
func classifyExtended(msg string) types.ExtendedKind {
	trimmed := strings.TrimSpace(msg)
	if strings.HasSuffix(strings.ToLower(trimmed), fixitSuffix) {
		return types.ExtendedFixit
	}
	if strings.HasPrefix(strings.ToUpper(trimmed), "MACRO") {
		return types.ExtendedMacro
	}
	return types.ExtendedNote
}

// LastEvent returns the final bug-path event, used as the ReportHashInput's
// file/message source: "the last bug-path-event's file basename
// [and] its message normalized".
func LastEvent(path []types.BugPathEvent) (types.BugPathEvent, bool) {
	if len(path) == 0 {
		return types.BugPathEvent{}, false
	}
	return path[len(path)-1], true
}
