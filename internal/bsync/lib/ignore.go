package lib

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/denormal/go-gitignore"
)

// IgnoreFilename is the name of the per-root file containing user-defined ignore
// patterns, in gitignore syntax.
const IgnoreFilename = ".bsyncignore"

// defaultIgnorePatterns are always applied, whatever the root's ignore file says.
var defaultIgnorePatterns = []string{
	IgnoreFilename,
	".DS_Store",
	"Thumbs.db",
	"*.swp",
}

// IgnoreMatcher decides which entries under one root are left out of the backup.
// It is not safe for concurrent use; the walker owns one per root.
type IgnoreMatcher struct {
	matcher gitignore.GitIgnore
}

// LoadIgnoreMatcher compiles the default patterns plus the root's .bsyncignore,
// if it exists.
func LoadIgnoreMatcher(rootDir string) *IgnoreMatcher {
	// 1. Start with the default patterns.
	rawPatterns := make([]string, len(defaultIgnorePatterns))
	copy(rawPatterns, defaultIgnorePatterns)

	// 2. Read patterns from the root's ignore file, if it exists.
	if content, err := os.ReadFile(filepath.Join(rootDir, IgnoreFilename)); err == nil {
		rawPatterns = append(rawPatterns, strings.Split(string(content), "\n")...)
	}

	// 3. Clean up the patterns: remove comments and trim whitespace.
	var finalPatterns []string
	for _, p := range rawPatterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		// Normalize Windows-style backslashes to forward slashes.
		trimmed = strings.ReplaceAll(trimmed, "\\", "/")
		finalPatterns = append(finalPatterns, trimmed)
		// Directory patterns also get a glob form so their contents match even
		// when the directory itself is reached by a different path.
		if strings.HasSuffix(trimmed, "/") && !strings.HasSuffix(trimmed, "**/") {
			finalPatterns = append(finalPatterns, trimmed+"**")
		}
	}

	// 4. Compile the patterns; parse errors skip the offending line.
	matcher := gitignore.New(
		strings.NewReader(strings.Join(finalPatterns, "\n")),
		rootDir,
		func(err gitignore.Error) bool { return true },
	)
	if matcher == nil {
		matcher = gitignore.New(strings.NewReader(""), rootDir, nil)
	}
	return &IgnoreMatcher{matcher: matcher}
}

// Ignored reports whether relPath (slash separated, relative to the root) is
// excluded. The root itself is never excluded.
func (m *IgnoreMatcher) Ignored(relPath string, isDir bool) bool {
	if relPath == "" || relPath == "." {
		return false
	}
	match := m.matcher.Relative(relPath, isDir)
	if match == nil {
		return false
	}
	return match.Ignore()
}
