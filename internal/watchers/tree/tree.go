// Package tree implements the directory -> entries map a watcher keeps of
// everything it tracks. A Tree is not safe for concurrent use.
package tree

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/gazewatch/gaze/pkg/utils"
)

// Tree maps marked absolute directories to the entries tracked below them.
// Directory entries carry a trailing separator, file entries never do, and
// entries are unique per directory. A matched directory is listed in its
// parent unless it is the cwd.
type Tree struct {
	cwd  string
	dirs map[string][]string
}

// New creates an empty tree for cwd
func New(cwd string) *Tree {
	return &Tree{
		cwd:  utils.MarkDir(filepath.Clean(cwd)),
		dirs: make(map[string][]string),
	}
}

// FromFlat builds a tree from a flat list of absolute, marked paths
func FromFlat(paths []string, cwd string) *Tree {
	t := New(cwd)
	for _, p := range paths {
		t.Add(p)
	}
	return t
}

// Add tracks path. Directories become keys; every path is listed in its
// parent directory.
func (t *Tree) Add(path string) {
	if utils.IsDir(path) {
		t.AddDir(path)
		if path == t.cwd {
			return
		}
	}
	utils.ObjectPush(t.dirs, utils.Parent(path), path)
}

// AddDir ensures dir is a key without listing it in its parent
func (t *Tree) AddDir(dir string) {
	utils.ObjectPush(t.dirs, utils.MarkDir(dir))
}

// Remove drops path from its parent listing. Removing a directory drops
// its subtree as well.
func (t *Tree) Remove(path string) {
	if utils.IsDir(path) {
		t.RemoveDir(path)
		return
	}
	t.gazeUnlist(path)
}

// RemoveDir drops dir, its descendants and its parent listing, returning
// every entry that was tracked below it.
func (t *Tree) RemoveDir(dir string) []string {
	dir = utils.MarkDir(dir)

	var removed []string
	for key, entries := range t.dirs {
		if key == dir || strings.HasPrefix(key, dir) {
			removed = append(removed, entries...)
			delete(t.dirs, key)
		}
	}
	t.gazeUnlist(dir)

	sort.Strings(removed)
	return removed
}

func (t *Tree) gazeUnlist(path string) {
	parent := utils.Parent(path)
	entries, ok := t.dirs[parent]
	if !ok {
		return
	}
	for i, e := range entries {
		if e == path {
			t.dirs[parent] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Has reports whether path is a key or listed in its parent
func (t *Tree) Has(path string) bool {
	if utils.IsDir(path) {
		if _, ok := t.dirs[path]; ok {
			return true
		}
	}
	for _, e := range t.dirs[utils.Parent(path)] {
		if e == path {
			return true
		}
	}
	return false
}

// HasDir reports whether dir is a key
func (t *Tree) HasDir(dir string) bool {
	_, ok := t.dirs[utils.MarkDir(dir)]
	return ok
}

// Children returns a copy of the entries listed under dir
func (t *Tree) Children(dir string) []string {
	entries := t.dirs[utils.MarkDir(dir)]
	out := make([]string, len(entries))
	copy(out, entries)
	return out
}

// Dirs returns the keys in sorted order
func (t *Tree) Dirs() []string {
	keys := make([]string, 0, len(t.dirs))
	for key := range t.dirs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Files returns every tracked file in sorted order
func (t *Tree) Files() []string {
	var files []string
	for _, entries := range t.dirs {
		for _, e := range entries {
			if !utils.IsDir(e) {
				files = append(files, e)
			}
		}
	}
	sort.Strings(files)
	return files
}

// Len returns the number of keys
func (t *Tree) Len() int {
	return len(t.dirs)
}

// Snapshot returns a deep copy of the tree
func (t *Tree) Snapshot() map[string][]string {
	out := make(map[string][]string, len(t.dirs))
	for key, entries := range t.dirs {
		cp := make([]string, len(entries))
		copy(cp, entries)
		out[key] = cp
	}
	return out
}

// Relative returns the tree with keys relative to cwd ("." for cwd itself)
// and entries relative to their directory.
func (t *Tree) Relative(unixify bool) map[string][]string {
	out := make(map[string][]string, len(t.dirs))
	for key := range t.dirs {
		out[t.gazeRelKey(key, unixify)] = t.gazeRelEntries(key, unixify)
	}
	return out
}

// RelativeDir returns the entries of one directory relative to it. dir may
// be absolute or relative to cwd.
func (t *Tree) RelativeDir(dir string, unixify bool) []string {
	key := utils.MarkDir(utils.Resolve(t.cwd, dir))
	if dir == "." || dir == "" {
		key = t.cwd
	}
	if _, ok := t.dirs[key]; !ok {
		return []string{}
	}
	return t.gazeRelEntries(key, unixify)
}

func (t *Tree) gazeRelKey(key string, unixify bool) string {
	if key == t.cwd {
		return "."
	}
	rel, err := filepath.Rel(t.cwd, key)
	if err != nil {
		rel = key
	}
	rel = utils.MarkDir(rel)
	if unixify {
		rel = utils.Unixify(rel)
	}
	return rel
}

func (t *Tree) gazeRelEntries(key string, unixify bool) []string {
	entries := t.dirs[key]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		rel, err := filepath.Rel(key, e)
		if err != nil {
			rel = e
		}
		if utils.IsDir(e) {
			rel = utils.MarkDir(rel)
		}
		if unixify {
			rel = utils.Unixify(rel)
		}
		out = append(out, rel)
	}
	return out
}
