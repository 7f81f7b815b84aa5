// Package mediapath maps untrusted path segments onto files below a media root.
package mediapath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscape         = errors.New("path escapes media root")
	ErrInvalidSegmentName = errors.New("invalid segment name")
)

// Resolve joins parts onto root and returns the canonical absolute path.
// Symlinks are evaluated for the longest existing prefix, so a link inside
// the root pointing outside of it is treated as an escape. The target itself
// does not have to exist.
func Resolve(root string, parts ...string) (string, error) {
	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("resolve media root: %w", err)
	}

	joined := filepath.Join(append([]string{canonicalRoot}, parts...)...)
	resolved, err := canonicalize(joined)
	if err != nil {
		return "", err
	}

	if !within(canonicalRoot, resolved) {
		return "", ErrPathEscape
	}
	return resolved, nil
}

// ValidateSegmentName accepts a single plain file name.
func ValidateSegmentName(name string) (string, error) {
	switch {
	case name == "", name == ".", name == "..":
		return "", ErrInvalidSegmentName
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return "", ErrInvalidSegmentName
	case strings.ContainsRune(name, 0):
		return "", ErrInvalidSegmentName
	case filepath.IsAbs(name), filepath.Base(name) != name:
		return "", ErrInvalidSegmentName
	}
	return name, nil
}

// RelToRoot returns the slash separated path of an existing file relative to
// root. Paths that leave the root are rejected.
func RelToRoot(root, abs string) (string, error) {
	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("resolve media root: %w", err)
	}
	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return "", err
	}
	if !within(canonicalRoot, target) || target == canonicalRoot {
		return "", ErrPathEscape
	}
	rel, err := filepath.Rel(canonicalRoot, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// canonicalize makes p absolute and resolves symlinks in the longest prefix
// that exists on disk; the missing tail is appended unchanged.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	existing := abs
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
