package security

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"synthetic-1-0000", "synthetic-1-0000"},
		{"run 7/event 3", "run_7_event_3"},
		{"../../etc/passwd", "etc_passwd"},
		{"a///b", "a_b"},
		{"__hidden__", "hidden"},
		{".", "unknown"},
		{"", "unknown"},
		{"événement", "v_nement"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_Length(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("x", 500))
	if len(got) != maxNameLen {
		t.Errorf("len = %d, want %d", len(got), maxNameLen)
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"inside", filepath.Join(dir, "a.png"), false},
		{"nested", filepath.Join(dir, "sub", "a.png"), false},
		{"dir itself", dir, true},
		{"parent", filepath.Join(dir, ".."), true},
		{"traversal", filepath.Join(dir, "..", "x.png"), true},
		{"elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrPathEscape) {
				t.Errorf("error %v does not wrap ErrPathEscape", err)
			}
		})
	}
}

func TestArtifactPath(t *testing.T) {
	dir := t.TempDir()
	got, err := ArtifactPath(dir, "../evil id", ".html")
	if err != nil {
		t.Fatalf("ArtifactPath() error = %v", err)
	}
	if want := filepath.Join(dir, "evil_id.html"); got != want {
		t.Errorf("ArtifactPath() = %q, want %q", got, want)
	}
}
