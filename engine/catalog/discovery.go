package catalog

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dagrun/dagrun/engine/core"
)

// DefaultIncludes matches the definition files a directory source loads.
var DefaultIncludes = []string{"**/*.yaml", "**/*.yml"}

// DefaultExcludes filters common editor and backup artifacts.
var DefaultExcludes = []string{
	"**/.#*",
	"**/*~",
	"**/*.bak",
	"**/*.swp",
	"**/*.tmp",
	"**/._*",
}

// FileDiscoverer finds definition files under a root directory.
type FileDiscoverer interface {
	Discover(includes, excludes []string) ([]string, error)
}

type fsDiscoverer struct {
	root string
}

// NewFileDiscoverer returns a filesystem discoverer rooted at root.
func NewFileDiscoverer(root string) FileDiscoverer {
	return &fsDiscoverer{root: root}
}

// Discover returns files matching the include patterns minus the excludes,
// sorted so load order and duplicate resolution stay deterministic.
func (d *fsDiscoverer) Discover(includes, excludes []string) ([]string, error) {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	discovered := make(map[string]bool)
	for _, pattern := range includes {
		if err := d.validatePattern(pattern); err != nil {
			return nil, err
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(d.root, pattern))
		if err != nil {
			return nil, core.Errorf(core.ErrConfiguration, "invalid glob pattern %q: %v", pattern, err)
		}
		for _, match := range matches {
			rel, err := filepath.Rel(d.root, match)
			if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
				return nil, core.Errorf(core.ErrConfiguration, "file %s escapes the definition root %s", match, d.root)
			}
			discovered[match] = true
		}
	}
	files := make([]string, 0, len(discovered))
	for file := range discovered {
		files = append(files, file)
	}
	files = d.applyExcludes(files, excludes)
	sort.Strings(files)
	return files, nil
}

// validatePattern blocks traversal and absolute path injection before
// globbing.
func (d *fsDiscoverer) validatePattern(pattern string) error {
	clean := filepath.Clean(pattern)
	if filepath.IsAbs(clean) {
		return core.Errorf(core.ErrConfiguration, "absolute include patterns are not allowed: %s", pattern)
	}
	if slices.Contains(strings.Split(clean, string(filepath.Separator)), "..") {
		return core.Errorf(core.ErrConfiguration, "parent directory references are not allowed: %s", pattern)
	}
	return nil
}

func (d *fsDiscoverer) applyExcludes(files, excludes []string) []string {
	patterns := make([]string, 0, len(DefaultExcludes)+len(excludes))
	patterns = append(patterns, DefaultExcludes...)
	patterns = append(patterns, excludes...)
	for i, pattern := range patterns {
		patterns[i] = filepath.ToSlash(pattern)
	}
	filtered := make([]string, 0, len(files))
	for _, file := range files {
		if d.excluded(file, patterns) {
			continue
		}
		filtered = append(filtered, file)
	}
	return filtered
}

// excluded matches patterns against both the root-relative path and the
// bare file name.
func (d *fsDiscoverer) excluded(file string, patterns []string) bool {
	rel, err := filepath.Rel(d.root, file)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(file)
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

func describePatterns(patterns []string) string {
	if len(patterns) == 0 {
		return fmt.Sprintf("%v", DefaultIncludes)
	}
	return fmt.Sprintf("%v", patterns)
}
