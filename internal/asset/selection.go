package asset

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Selection is a set of include and exclude glob patterns, relative to the
// project directory. Patterns support "**" and brace alternation; an include
// pattern starting with "!" is treated as an exclude.
//
// A Selection is resolved against the filesystem each time it is used.
type Selection struct {
	Include []string
	Exclude []string
}

// Validate checks that every pattern is well formed.
func (s Selection) Validate() error {
	includes, excludes := s.split()
	if len(includes) == 0 {
		return fmt.Errorf("selection has no include pattern")
	}
	for _, p := range append(includes, excludes...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

func (s Selection) split() (includes, excludes []string) {
	for _, p := range s.Include {
		if neg, ok := strings.CutPrefix(p, "!"); ok {
			excludes = append(excludes, clean(neg))
			continue
		}
		includes = append(includes, clean(p))
	}
	for _, p := range s.Exclude {
		excludes = append(excludes, clean(strings.TrimPrefix(p, "!")))
	}
	return includes, excludes
}

func clean(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(p), "./")
}

// Bases returns the sorted, de-duplicated glob bases of the include patterns.
func (s Selection) Bases() []string {
	includes, _ := s.split()
	seen := map[string]bool{}
	var out []string
	for _, p := range includes {
		b := globBase(p)
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// globBase returns the leading directory of p that contains no glob syntax.
// A literal file path yields its directory.
func globBase(p string) string {
	base, _ := doublestar.SplitPattern(p)
	if base == "" {
		return "."
	}
	return base
}

// Match reports whether the project-relative path rel is selected.
func (s Selection) Match(rel string) bool {
	rel = clean(rel)
	includes, excludes := s.split()
	if excluded(rel, excludes) {
		return false
	}
	for _, p := range includes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func excluded(rel string, excludes []string) bool {
	for _, p := range excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Resolve expands the selection under dir and reads every selected file.
//
// The result is sorted by Path with duplicates removed; directories are never
// selected. A file matched by several patterns keeps the base of the first.
func (s Selection) Resolve(dir string) ([]*File, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	includes, excludes := s.split()
	fsys := os.DirFS(dir)

	bases := map[string]string{}
	for _, p := range includes {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", p, err)
		}
		base := globBase(p)
		for _, m := range matches {
			if excluded(m, excludes) {
				continue
			}
			if _, ok := bases[m]; !ok {
				bases[m] = base
			}
		}
	}

	paths := make([]string, 0, len(bases))
	for p := range bases {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		files = append(files, &File{Path: path.Clean(p), Base: bases[p], Contents: content})
	}
	return files, nil
}
