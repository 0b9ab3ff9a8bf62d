package query

import (
	"strings"

	"github.com/findingstore/findingstore/internal/types"
)

// A SourceComponent's patterns are an ordered list of `+glob` includes and
// `-glob` excludes over logical file paths. Globs use `*` (any run, may
// cross separators) and `?` (one character); everything else matches
// literally. They are compiled to SQL LIKE patterns, so matching happens
// in the database, not by post-filtering a page.

// globToLike translates one path glob into a LIKE pattern, escaping LIKE's
// own metacharacters in the literal parts.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%':
			b.WriteString(`\%`)
		case '_':
			b.WriteString(`\_`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitComponentPatterns partitions a component's patterns into LIKE
// includes and excludes. A pattern with no +/- prefix counts as an
// include.
func splitComponentPatterns(patterns []string) (includes, excludes []string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		switch p[0] {
		case '-':
			excludes = append(excludes, globToLike(p[1:]))
		case '+':
			includes = append(includes, globToLike(p[1:]))
		default:
			includes = append(includes, globToLike(p))
		}
	}
	return includes, excludes
}

// expandComponents folds the named components into concrete LIKE patterns
// on the filter: includes OR into FilepathLike, excludes AND into
// FilepathExclude. With anyPoint the includes OR into FileMatchesAnyPoint
// instead and the excludes are not applied. Components named in the filter
// are ANDed with any
// explicit Filepath values the caller also set, matching the
// field-level AND semantics of the report filter.
func expandComponents(components []*types.SourceComponent, names []string, f *types.ReportFilter, anyPoint bool) {
	byName := make(map[string]*types.SourceComponent, len(components))
	for _, c := range components {
		byName[c.Name] = c
	}
	var includes, excludes []string
	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			// An unknown component matches nothing; force an empty result
			// rather than silently matching everything.
			includes = append(includes, likeMatchNothing)
			continue
		}
		inc, exc := splitComponentPatterns(c.Patterns)
		includes = append(includes, inc...)
		excludes = append(excludes, exc...)
	}
	if anyPoint {
		f.FileMatchesAnyPoint = append(f.FileMatchesAnyPoint, includes...)
	} else {
		f.FilepathLike = append(f.FilepathLike, includes...)
		f.FilepathExclude = append(f.FilepathExclude, excludes...)
	}
}

// likeMatchNothing is a LIKE pattern no path matches (paths never contain
// a NUL byte).
const likeMatchNothing = "\x00"
