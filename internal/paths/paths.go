// Package paths resolves and validates the memory, task, and data roots.
// Every other component receives already-validated absolute paths from here;
// nothing outside the three roots is ever read or written.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath      = errors.New("invalid path")
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	maxPathLength = 512
	maxPathDepth  = 32
	maxLabelLen   = 64
)

// Roots holds the three validated absolute roots everything lives under.
type Roots struct {
	Memories string
	Tasks    string
	Data     string
}

// Resolve validates the three configured roots, makes them absolute, and
// creates any that are missing. Empty values fall back to cwd-relative
// defaults (memories/, tasks/, data/).
func Resolve(memories, tasks, data string) (*Roots, error) {
	r := &Roots{}
	var err error
	if r.Memories, err = resolveRoot(memories, "memories"); err != nil {
		return nil, err
	}
	if r.Tasks, err = resolveRoot(tasks, "tasks"); err != nil {
		return nil, err
	}
	if r.Data, err = resolveRoot(data, "data"); err != nil {
		return nil, err
	}
	return r, nil
}

func resolveRoot(configured, fallback string) (string, error) {
	p := configured
	if p == "" {
		p = fallback
	}
	if err := Validate(p); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, p, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", ErrPermissionDenied, abs, err)
	}
	return abs, nil
}

// Validate rejects traversal, null bytes, URL-encoded separators,
// filesystem-illegal characters, and oversized paths.
func Validate(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if len(p) > maxPathLength {
		return fmt.Errorf("%w: path exceeds %d characters", ErrInvalidPath, maxPathLength)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: path contains null byte", ErrInvalidPath)
	}
	lower := strings.ToLower(p)
	for _, enc := range []string{"%2e", "%2f", "%5c", "%00"} {
		if strings.Contains(lower, enc) {
			return fmt.Errorf("%w: path contains URL-encoded sequence %q", ErrInvalidPath, enc)
		}
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path contains traversal component", ErrInvalidPath)
		}
		if strings.ContainsAny(part, "<>:\"|?*") && !isWindowsVolume(part) {
			return fmt.Errorf("%w: path component %q contains illegal characters", ErrInvalidPath, part)
		}
		for _, r := range part {
			if r < 0x20 {
				return fmt.Errorf("%w: path contains control character", ErrInvalidPath)
			}
		}
	}
	if strings.Count(filepath.ToSlash(p), "/") > maxPathDepth {
		return fmt.Errorf("%w: path exceeds %d components", ErrInvalidPath, maxPathDepth)
	}
	return nil
}

// isWindowsVolume allows "C:" style drive prefixes through the illegal
// character check.
func isWindowsVolume(part string) bool {
	return len(part) == 2 && part[1] == ':'
}

// Within joins rel onto root and verifies the result stays inside root.
// rel is validated with the same rules as configured paths.
func Within(root, rel string) (string, error) {
	if err := Validate(rel); err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q not allowed here", ErrInvalidPath, rel)
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %q", ErrInvalidPath, rel, root)
	}
	return joined, nil
}

// SanitizeProject normalizes a project label into a directory-safe name.
// Empty or fully-stripped labels become "default".
func SanitizeProject(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "default"
	}
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == ' ' || r == '.' || r == '/':
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" || out == ".." || out == "." {
		return "default"
	}
	if len(out) > maxLabelLen {
		out = out[:maxLabelLen]
	}
	return out
}

// Derived locations under the data root.

func (r *Roots) BackupsDir() string      { return filepath.Join(r.Data, "backups") }
func (r *Roots) VectorsDir() string      { return filepath.Join(r.Data, "vectors") }
func (r *Roots) SettingsFile() string    { return filepath.Join(r.Data, "settings.json") }
func (r *Roots) PathSettings() string    { return filepath.Join(r.Data, "path-settings.json") }
func (r *Roots) LockFile() string        { return filepath.Join(r.Data, "likeisaid.lock") }
func (r *Roots) MemoryProject(p string) string {
	return filepath.Join(r.Memories, SanitizeProject(p))
}
func (r *Roots) TaskProject(p string) string {
	return filepath.Join(r.Tasks, SanitizeProject(p))
}
