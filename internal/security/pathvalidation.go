// Package security guards the files the command line tools write.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned for a path that resolves outside its directory.
var ErrPathEscape = errors.New("security: path escapes output directory")

// maxNameLen bounds sanitised names so derived paths stay short.
const maxNameLen = 128

// SanitizeFilename makes a safe file name from an arbitrary identifier.
// Runs of characters other than ASCII letters, digits, dot, underscore and
// dash become a single underscore, leading and trailing dots and
// underscores are trimmed, and the result is capped in length. An empty
// result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ValidatePathWithinDirectory reports an error wrapping ErrPathEscape if the
// lexically cleaned path is not inside dir.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrPathEscape)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s: %w", path, ErrPathEscape)
	}
	return nil
}

// ArtifactPath returns dir/<sanitised id><suffix>, validated to stay in dir.
func ArtifactPath(dir, id, suffix string) (string, error) {
	path := filepath.Join(dir, SanitizeFilename(id)+suffix)
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}
