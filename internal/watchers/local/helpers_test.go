package local

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/stretchr/testify/require"
)

const testDelay = 100 * time.Millisecond

// fixture lays out the tree most tests watch and returns its root
func fixture(t *testing.T) string {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	for _, rel := range []string{
		"one.js",
		"Project (LO)/one.js",
		"nested/one.js",
		"nested/three.js",
		"nested/sub/two.js",
		"sub/one.js",
		"sub/two.js",
	} {
		writeFile(t, filepath.Join(root, rel), "var "+filepath.Base(rel)+";")
	}
	return root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// recorder collects events as "kind rel [oldrel]" lines relative to cwd
type recorder struct {
	cwd    string
	mu     sync.Mutex
	lines  []string
	events []models.Event
}

func record(w *GazeWatcher) *recorder {
	r := &recorder{cwd: w.Cwd()}
	for _, kind := range []models.EventKind{
		models.EventReady,
		models.EventNoMatch,
		models.EventAll,
		models.EventError,
		models.EventEnd,
	} {
		w.On(kind, r.add)
	}
	return r
}

func (r *recorder) add(ev *models.Event) {
	line := ev.Kind.String()
	if ev.Path != "" {
		line += " " + r.rel(ev.Path)
	}
	if ev.OldPath != "" {
		line += " " + r.rel(ev.OldPath)
	}

	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.events = append(r.events, *ev)
	r.mu.Unlock()
}

func (r *recorder) rel(path string) string {
	rel, err := filepath.Rel(r.cwd, path)
	if err != nil {
		return path
	}
	if utils.IsDir(path) {
		rel += "/"
	}
	return filepath.ToSlash(rel)
}

// files returns the recorded file event lines in arrival order
func (r *recorder) files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for i, ev := range r.events {
		if ev.Kind.IsFileEvent() {
			out = append(out, r.lines[i])
		}
	}
	return out
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []error
	for _, ev := range r.events {
		if ev.Kind == models.EventError {
			out = append(out, ev.Err)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.lines = nil
	r.events = nil
	r.mu.Unlock()
}

// waitFiles waits until n file events arrived, then lets one more window
// pass so that stray duplicates would show up too
func (r *recorder) waitFiles(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.files()) >= n
	}, 3*time.Second, 10*time.Millisecond, "got %v", r.files())
	time.Sleep(3 * testDelay)
	return r.files()
}

func waitReady(t *testing.T, w *GazeWatcher) {
	t.Helper()
	select {
	case <-w.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not become ready")
	}
}

func waitDone(t *testing.T, w *GazeWatcher) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not finish")
	}
}

// sorted returns the tree with every entry list sorted
func sorted(m map[string][]string) map[string][]string {
	for _, entries := range m {
		sort.Strings(entries)
	}
	return m
}
