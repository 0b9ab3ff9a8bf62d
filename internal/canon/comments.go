package canon

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

// ReviewComment is one in-source review annotation found by
// ScanSourceReviewComments. Line is 1-based and is the line the annotation
// applies to: the next non-comment line below a standalone comment, or the
// comment's own line when it trails code.
type ReviewComment struct {
	Line       int
	Status     types.ReviewStatus
	CheckerIDs []string // empty means "applies to every checker"
	Message    string
}

// reviewCommentTag maps the source annotation keyword to the ReviewStatus
// it asserts. codechecker_suppress is the historical spelling of
// codechecker_false_positive and stays accepted.
var reviewCommentTag = map[string]types.ReviewStatus{
	"codechecker_suppress":       types.ReviewFalsePositive,
	"codechecker_false_positive": types.ReviewFalsePositive,
	"codechecker_intentional":    types.ReviewIntentional,
	"codechecker_confirmed":      types.ReviewConfirmed,
}

// reviewCommentPattern matches `// codechecker_<verb> [checker1, checker2] comment text`.
// The bracketed checker list is optional; omitting it, or writing `[all]`,
// applies the annotation to every checker.
var reviewCommentPattern = regexp.MustCompile(`^//\s*(codechecker_\w+)\s*(\[[^\]]*\])?\s*(.*)$`)

// reviewCommentIntentPattern detects that a comment is attempting a
// codechecker_ annotation at all, even one reviewCommentPattern can't fully
// parse (e.g. an unterminated checker-list bracket): the difference
// between "not an annotation" and "a broken one".
var reviewCommentIntentPattern = regexp.MustCompile(`^//\s*codechecker_\w*\b`)

// ScanSourceReviewComments scans source text for in-source review
// annotations. A comment recognized as
// starting with a codechecker_ tag but failing to parse (an unterminated
// checker-list bracket, or an unknown tag) is reported as a SOURCE_FILE
// error rather than silently skipped, since a malformed suppression
// silently not applying would hide reports a human believed were
// suppressed.
func ScanSourceReviewComments(source []byte) ([]ReviewComment, error) {
	var out []ReviewComment

	scanner := bufio.NewScanner(bytes.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	var pendingComments []ReviewComment

	flushPending := func(targetLine int) {
		for i := range pendingComments {
			pendingComments[i].Line = targetLine
			out = append(out, pendingComments[i])
		}
		pendingComments = nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		rc, trailing, isComment, err := parseReviewCommentLine(trimmed)
		if err != nil {
			return nil, corekit.New(corekit.KindSourceFile, "scan_source_review_comments",
				fmt.Errorf("line %d: %w: %s", lineNo, ErrMalformedReviewComment, trimmed))
		}
		if isComment {
			if trailing {
				rc.Line = lineNo
				out = append(out, rc)
			} else {
				pendingComments = append(pendingComments, rc)
			}
			continue
		}

		if trimmed == "" {
			continue // blank lines don't break a pending-comment/target-line association
		}
		if len(pendingComments) > 0 {
			flushPending(lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, corekit.New(corekit.KindSourceFile, "scan_source_review_comments", err)
	}
	return out, nil
}

// parseReviewCommentLine recognizes a standalone review-annotation comment
// line. trailing reports whether non-comment code precedes the `//` on the
// same line, in which case the annotation applies to that same line rather
// than the next one.
func parseReviewCommentLine(trimmed string) (rc ReviewComment, trailing bool, isComment bool, err error) {
	idx := strings.Index(trimmed, "//")
	if idx < 0 {
		return ReviewComment{}, false, false, nil
	}
	comment := strings.TrimSpace(trimmed[idx:])

	if !reviewCommentIntentPattern.MatchString(comment) {
		return ReviewComment{}, false, false, nil
	}

	m := reviewCommentPattern.FindStringSubmatch(comment)
	if m == nil {
		return ReviewComment{}, false, false, ErrMalformedReviewComment
	}

	status, ok := reviewCommentTag[m[1]]
	if !ok {
		return ReviewComment{}, false, false, ErrMalformedReviewComment
	}

	checkerList := strings.TrimSpace(m[2])
	if checkerList == "" && strings.HasPrefix(strings.TrimSpace(m[3]), "[") {
		// An opening bracket with no closing one: the optional list group
		// did not match and the bracket fell through into the message.
		return ReviewComment{}, false, false, ErrMalformedReviewComment
	}
	var checkers []string
	if checkerList != "" {
		inner := strings.TrimSuffix(strings.TrimPrefix(checkerList, "["), "]")
		if strings.TrimSpace(inner) != "all" {
			for _, c := range strings.Split(inner, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					checkers = append(checkers, c)
				}
			}
		}
	}

	rc = ReviewComment{
		Status:     status,
		CheckerIDs: checkers,
		Message:    strings.TrimSpace(m[3]),
	}
	return rc, idx > 0, true, nil
}

// MatchingComment returns the review comment, if any, among comments that
// applies to line and to checkerID (an empty CheckerIDs list applies to
// every checker). When several match the same line, the last one scanned
// wins, matching top-to-bottom file order as "most specific, most recent".
func MatchingComment(comments []ReviewComment, line int, checkerID string) (ReviewComment, bool) {
	var best ReviewComment
	found := false
	for _, c := range comments {
		if c.Line != line {
			continue
		}
		if len(c.CheckerIDs) > 0 {
			match := false
			for _, id := range c.CheckerIDs {
				if strings.EqualFold(id, checkerID) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		best = c
		found = true
	}
	return best, found
}

// ErrMalformedReviewComment is returned when a source line clearly starts a
// codechecker_ annotation but cannot be parsed: an unknown tag or an
// unterminated checker-list bracket.
var ErrMalformedReviewComment = fmt.Errorf("malformed in-source review comment")
