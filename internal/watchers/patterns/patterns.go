// Package patterns implements the ordered include/exclude glob set a
// watcher matches paths against.
package patterns

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/utils"
)

// Set is an ordered, deduplicated list of glob patterns. Patterns starting
// with ! exclude; when several patterns match a path the last one wins.
type Set struct {
	cwd      string
	patterns []Pattern
	mu       sync.RWMutex
}

// Pattern represents a single glob pattern
type Pattern struct {
	Raw        string // as given
	Glob       string // absolute, platform separators, without the ! prefix
	IsNegation bool
}

// New creates an empty set resolving relative patterns against cwd
func New(cwd string) *Set {
	return &Set{cwd: filepath.Clean(cwd)}
}

// Cwd returns the directory patterns are resolved against
func (s *Set) Cwd() string {
	return s.cwd
}

// Add unions patterns into the set. Empty strings are ignored. If any
// pattern is malformed nothing is added.
func (s *Set) Add(patterns ...string) error {
	parsed := make([]Pattern, 0, len(patterns))
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := s.gazeParse(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range parsed {
		if s.gazeHas(p.Raw) {
			continue
		}
		s.patterns = append(s.patterns, p)
	}
	return nil
}

// gazeHas must be called with s.mu held
func (s *Set) gazeHas(raw string) bool {
	for _, p := range s.patterns {
		if p.Raw == raw {
			return true
		}
	}
	return false
}

func (s *Set) gazeParse(raw string) (Pattern, error) {
	p := Pattern{Raw: raw}

	glob := raw
	if strings.HasPrefix(glob, "!") {
		p.IsNegation = true
		glob = glob[1:]
	}
	if !doublestar.ValidatePattern(filepath.ToSlash(glob)) {
		return p, gazeerrors.NewPatternError(raw, doublestar.ErrBadPattern)
	}
	p.Glob = s.gazeAbsolute(glob)
	return p, nil
}

// gazeAbsolute anchors glob at cwd, keeping the glob syntax intact
func (s *Set) gazeAbsolute(glob string) string {
	if filepath.IsAbs(glob) {
		return filepath.Clean(glob)
	}
	return filepath.Join(s.cwd, glob)
}

// Patterns returns a copy of the raw patterns in order
func (s *Set) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		result[i] = p.Raw
	}
	return result
}

// Len returns the number of patterns
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Match reports whether path is included by the set
func (s *Set) Match(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gazeMatch(s.patterns, path)
}

func (s *Set) gazeMatch(patterns []Pattern, path string) bool {
	path = utils.UnmarkDir(utils.Resolve(s.cwd, path))

	matched := false
	for _, p := range patterns {
		if p.IsNegation != matched {
			// only a pattern that could flip the result needs evaluating
			continue
		}
		if ok, _ := pathMatch(p.Glob, path); ok {
			matched = !p.IsNegation
		}
	}
	return matched
}

// Find expands the inclusion patterns of the set on disk. Results keep the
// order of first appearance, exclude paths rejected by the whole set and
// mark directories with a trailing separator.
func (s *Set) Find() ([]string, error) {
	s.mu.RLock()
	patterns := make([]Pattern, len(s.patterns))
	copy(patterns, s.patterns)
	s.mu.RUnlock()

	seen := make(map[string]struct{})
	var found []string
	for _, p := range patterns {
		if p.IsNegation {
			continue
		}
		matches, err := filepathGlob(p.Glob)
		if err != nil {
			return found, gazeerrors.NewPatternError(p.Raw, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			if !s.gazeMatch(patterns, m) {
				continue
			}
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				m = utils.MarkDir(m)
			}
			found = append(found, m)
		}
	}
	return found, nil
}

// CouldContain reports whether some inclusion pattern could match a path
// below dir.
func (s *Set) CouldContain(dir string) bool {
	dir = filepath.ToSlash(utils.UnmarkDir(utils.Resolve(s.cwd, dir)))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.patterns {
		if !p.IsNegation && gazeCouldContain(filepath.ToSlash(p.Glob), dir) {
			return true
		}
	}
	return false
}

func gazeCouldContain(glob, dir string) bool {
	base, rest := doublestar.SplitPattern(glob)

	if base == dir || strings.HasPrefix(base, strings.TrimSuffix(dir, "/")+"/") {
		// the pattern is rooted at or below dir
		return true
	}
	if !strings.HasPrefix(dir, strings.TrimSuffix(base, "/")+"/") {
		return false
	}

	relSegs := strings.Split(strings.TrimPrefix(dir, strings.TrimSuffix(base, "/")+"/"), "/")
	segs := strings.Split(rest, "/")
	for i, rel := range relSegs {
		if i >= len(segs) {
			return false
		}
		if strings.Contains(segs[i], "**") {
			return true
		}
		if ok, _ := doublestar.Match(segs[i], rel); !ok {
			return false
		}
	}
	return len(segs) > len(relSegs)
}
