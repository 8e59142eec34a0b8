// Package discovery scans configured roots for agent-addressable
// projects, identified by marker files, grounded on the config
// package's directory-walking conventions and the teacher's
// filepath.Walk usage patterns throughout internal/zfs.
package discovery

import (
	"os"
	"path/filepath"
	"strings"
)

// Markers are the files whose presence identifies a directory as a project root.
var Markers = []string{"CLAUDE.md", "AGENTS.md", ".git"}

// Project is one discovered project root.
type Project struct {
	ID   string // derived from the directory name
	Path string
}

// Scan walks each root looking for directories containing a marker
// file, skipping any path whose base name matches exclude. It does not
// descend into a directory once it has been recorded as a project, to
// avoid nested false positives (a project's own .git sub-submodules).
func Scan(roots, exclude []string) ([]Project, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}

	var projects []Project
	seen := make(map[string]bool)

	for _, root := range roots {
		root = expandHome(root)
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // skip unreadable entries rather than aborting the whole scan
			}
			if !info.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if path != root && excluded[base] {
				return filepath.SkipDir
			}
			if seen[path] {
				return filepath.SkipDir
			}
			if hasMarker(path) {
				projects = append(projects, Project{ID: sanitizeID(base), Path: path})
				seen[path] = true
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return projects, nil
}

func hasMarker(dir string) bool {
	for _, m := range Markers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

func sanitizeID(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
