// Package pathsafety guards every filesystem operation the queue core
// initiates. IsSafe is a pure predicate; Resolve additionally canonicalizes
// the path for callers that need the real, symlink-resolved location.
package pathsafety

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// traversalPatterns are matched case-insensitively against the raw,
// unresolved path string.
var traversalPatterns = []string{
	"..", "%2e%2e", "%252e%252e", "..%2f", "%2f..", "..\\", "..%5c", ".%00.",
}

// shellMetacharacters are rejected outright; a safe staging path never needs
// them.
const shellMetacharacters = "$`|;&<>(){}[]!#*?~\n\r"

var envVarPattern = regexp.MustCompile(`\$\{?[A-Za-z_][A-Za-z0-9_]*\}?`)

// IsSafe reports whether path may be used in a filesystem operation rooted
// at stagingRoot. It implements spec §4.A: no NUL bytes, no traversal
// patterns, no shell metacharacters or environment-variable expansions, and
// the resolved canonical path must be the staging root, a descendant of it,
// or a descendant of the process working directory.
func IsSafe(path, stagingRoot string) bool {
	if path == "" {
		return false
	}
	if strings.ContainsAny(path, "\x00") || strings.Contains(path, "\\0") {
		return false
	}

	lower := strings.ToLower(path)
	for _, pat := range traversalPatterns {
		if strings.Contains(lower, pat) {
			return false
		}
	}

	if strings.ContainsAny(path, shellMetacharacters) {
		return false
	}
	if envVarPattern.MatchString(path) {
		return false
	}

	resolved, err := Resolve(path)
	if err != nil {
		return false
	}

	return withinRoot(resolved, stagingRoot) || withinCWD(resolved)
}

// Resolve canonicalizes path to an absolute form, resolving symlinks where
// the path (or its nearest existing ancestor) exists. It does not check
// containment; use IsSafe for the full predicate.
func Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}

	// Path does not exist yet (common for a not-yet-created output file):
	// resolve the nearest existing ancestor and rejoin the remainder.
	dir := filepath.Dir(abs)
	for {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			rel, relErr := filepath.Rel(dir, abs)
			if relErr != nil {
				return abs, nil
			}
			return filepath.Join(real, rel), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func withinRoot(resolved, root string) bool {
	if root == "" {
		return false
	}
	realRoot, err := Resolve(root)
	if err != nil {
		return false
	}
	if resolved == realRoot {
		return true
	}
	return strings.HasPrefix(resolved, realRoot+string(filepath.Separator))
}

func withinCWD(resolved string) bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}
	realCWD, err := Resolve(cwd)
	if err != nil {
		return false
	}
	if resolved == realCWD {
		return true
	}
	return strings.HasPrefix(resolved, realCWD+string(filepath.Separator))
}
