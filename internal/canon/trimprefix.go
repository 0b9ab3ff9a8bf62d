package canon

import "strings"

// TrimPath removes the longest prefix in prefixes that matches path,
// normalizing source paths shipped in different working-directory layouts
// to the same logical path. Prefixes that don't end in a path separator
// are treated as exact directory-boundary prefixes, so "/src" does not
// match "/srcextra/foo.c".
func TrimPath(path string, prefixes []string) string {
	best := ""
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if !strings.HasPrefix(path, p) {
			continue
		}
		rest := path[len(p):]
		if rest != "" && !strings.HasPrefix(rest, "/") && !strings.HasSuffix(p, "/") {
			continue
		}
		if len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return path
	}
	trimmed := strings.TrimPrefix(path, best)
	return strings.TrimPrefix(trimmed, "/")
}
