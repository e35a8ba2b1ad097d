package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Root is a top-level directory configured for backup.
type Root struct {
	// Label is the root's declared name. It becomes a path component on the
	// collector, so it must be unique per client.
	Label string
	// Path is the cleaned absolute path of the directory.
	Path string
}

// ReadList returns the non-empty lines of a list file, in order. Lines starting
// with "#" are comments.
func ReadList(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// LoadRoots reads the root list file and resolves it into roots.
func LoadRoots(listPath string) ([]Root, error) {
	lines, err := ReadList(listPath)
	if err != nil {
		return nil, fmt.Errorf("read root list %s: %w", listPath, err)
	}
	return ParseRoots(lines)
}

// ParseRoots turns root list entries into roots. An entry is either a path or
// "label=path". Paths may start with "~" and may be doublestar glob patterns,
// in which case every matching directory becomes a root labelled by its base
// name. Duplicate labels are an error.
func ParseRoots(entries []string) ([]Root, error) {
	var roots []Root
	seen := make(map[string]string)

	add := func(label, path string) error {
		if !ValidPathComponent(label) {
			return fmt.Errorf("invalid root label %q for %s", label, path)
		}
		if other, dup := seen[label]; dup {
			return fmt.Errorf("duplicate root label %q (%s and %s)", label, other, path)
		}
		seen[label] = path
		roots = append(roots, Root{Label: label, Path: path})
		return nil
	}

	for _, entry := range entries {
		label, rawPath, explicit := strings.Cut(entry, "=")
		if !explicit {
			rawPath, label = entry, ""
		}
		label = strings.TrimSpace(label)

		path, err := ResolvePath(strings.TrimSpace(rawPath))
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", entry, err)
		}

		if !hasGlobMeta(path) {
			if label == "" {
				label = filepath.Base(path)
			}
			if err := add(label, path); err != nil {
				return nil, err
			}
			continue
		}

		if explicit {
			return nil, fmt.Errorf("root %q: a label cannot be combined with a glob pattern", entry)
		}
		dirs, err := globDirs(path)
		if err != nil {
			return nil, fmt.Errorf("expand root pattern %q: %w", entry, err)
		}
		for _, dir := range dirs {
			if err := add(filepath.Base(dir), dir); err != nil {
				return nil, err
			}
		}
	}
	return roots, nil
}

func globDirs(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, filepath.Clean(m))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func hasGlobMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// ValidPathComponent reports whether s is usable as a single path component.
func ValidPathComponent(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
