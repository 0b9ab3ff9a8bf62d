package canon

import "testing"

func TestTrimPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		prefixes []string
		want     string
	}{
		{"no prefixes", "/home/user/src/a.c", nil, "/home/user/src/a.c"},
		{"simple", "/home/user/src/a.c", []string{"/home/user"}, "src/a.c"},
		{"longest wins", "/home/user/src/a.c", []string{"/home", "/home/user/src"}, "a.c"},
		{"no match", "/opt/src/a.c", []string{"/home/user"}, "/opt/src/a.c"},
		{"directory boundary", "/srcextra/a.c", []string{"/src"}, "/srcextra/a.c"},
		{"trailing separator handling", "/src/a.c", []string{"/src"}, "a.c"},
		{"empty prefix ignored", "/src/a.c", []string{""}, "/src/a.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimPath(tt.path, tt.prefixes); got != tt.want {
				t.Errorf("TrimPath(%q, %v) = %q, want %q", tt.path, tt.prefixes, got, tt.want)
			}
		})
	}
}
