package local

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testModes = []interfaces.Mode{interfaces.ModeWatch, interfaces.ModePoll}

// startWatcher watches the fixture on the real file system
func startWatcher(t *testing.T, mode interfaces.Mode, globs ...string) (*GazeWatcher, *recorder, string) {
	t.Helper()

	cwd := fixture(t)
	w, err := New(globs, Options{
		Cwd:           cwd,
		Mode:          mode,
		Interval:      20 * time.Millisecond,
		DebounceDelay: testDelay,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	rec := record(w)
	waitReady(t, w)
	return w, rec, cwd
}

func forEachMode(t *testing.T, fn func(t *testing.T, mode interfaces.Mode)) {
	for _, mode := range testModes {
		mode := mode
		t.Run(string(mode), func(t *testing.T) {
			fn(t, mode)
		})
	}
}

func TestWatchedMatchesPatterns(t *testing.T) {
	tests := []struct {
		name  string
		globs []string
		want  map[string][]string
	}{
		{
			name:  "all js",
			globs: []string{"**/*.js"},
			want: map[string][]string{
				".":             {"one.js"},
				"Project (LO)/": {"one.js"},
				"nested/":       {"one.js", "three.js"},
				"nested/sub/":   {"two.js"},
				"sub/":          {"one.js", "two.js"},
			},
		},
		{
			name:  "with exclusion",
			globs: []string{"**/*.js", "!nested/**/*.js"},
			want: map[string][]string{
				".":             {"one.js"},
				"Project (LO)/": {"one.js"},
				"sub/":          {"one.js", "two.js"},
			},
		},
		{
			name:  "single directory",
			globs: []string{"sub/*.js"},
			want: map[string][]string{
				"sub/": {"one.js", "two.js"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, _ := startWatcher(t, interfaces.ModePoll, tt.globs...)
			assert.Equal(t, tt.want, sorted(w.Relative(true)))
		})
	}
}

func TestRelativeDir(t *testing.T) {
	w, _, cwd := startWatcher(t, interfaces.ModePoll, "**/*.js")

	assert.ElementsMatch(t, []string{"one.js", "two.js"}, w.RelativeDir("sub", true))
	assert.ElementsMatch(t, []string{"one.js", "two.js"}, w.RelativeDir(filepath.Join(cwd, "sub"), true))
	assert.Equal(t, []string{"one.js"}, w.RelativeDir(".", true))
	assert.Equal(t, []string{}, w.RelativeDir("missing", true))
}

func TestNoMarkStripsSeparators(t *testing.T) {
	cwd := fixture(t)
	w, err := New([]string{"sub/**"}, Options{Cwd: cwd, NoMark: true, Mode: interfaces.ModePoll})
	require.NoError(t, err)
	defer w.Close()
	waitReady(t, w)

	for dir, entries := range w.Watched() {
		assert.NotEqual(t, string(os.PathSeparator), dir[len(dir)-1:], dir)
		for _, e := range entries {
			assert.NotEqual(t, string(os.PathSeparator), e[len(e)-1:], e)
		}
	}
}

func TestWriteEmitsOneChanged(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		_, rec, cwd := startWatcher(t, mode, "**/*.js")

		file := filepath.Join(cwd, "sub", "one.js")
		writeFile(t, file, "var one = 1;")
		writeFile(t, file, "var one = 2;")
		_, err := os.ReadFile(file)
		require.NoError(t, err)

		assert.Equal(t, []string{"changed sub/one.js"}, rec.waitFiles(t, 1))
	})
}

func TestCreateEmitsAddedForMatchOnly(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		_, rec, cwd := startWatcher(t, mode, "**/*.js")

		writeFile(t, filepath.Join(cwd, "sub", "tmp.js"), "var tmp;")
		writeFile(t, filepath.Join(cwd, "sub", "tmp"), "tmp")

		assert.Equal(t, []string{"added sub/tmp.js"}, rec.waitFiles(t, 1))
	})
}

func TestNewDirectoryContentsAreAdded(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		_, rec, cwd := startWatcher(t, mode, "**/*.js")

		writeFile(t, filepath.Join(cwd, "sub", "fresh", "a.js"), "var a;")

		assert.Equal(t, []string{"added sub/fresh/a.js"}, rec.waitFiles(t, 1))
	})
}

func TestExcludedPathsAreSilent(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		_, rec, cwd := startWatcher(t, mode, "**/*.js", "!nested/**/*.js")

		writeFile(t, filepath.Join(cwd, "nested", "sub", "two.js"), "var two = 2;")
		writeFile(t, filepath.Join(cwd, "sub", "one.js"), "var one = 1;")

		assert.Equal(t, []string{"changed sub/one.js"}, rec.waitFiles(t, 1))
	})
}

func TestDeleteEmitsOneDeleted(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		_, rec, cwd := startWatcher(t, mode, "**/*.js")

		require.NoError(t, os.Remove(filepath.Join(cwd, "sub", "two.js")))

		assert.Equal(t, []string{"deleted sub/two.js"}, rec.waitFiles(t, 1))
	})
}

func TestSafeWriteEmitsOneChanged(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		_, rec, cwd := startWatcher(t, mode, "**/*.js")

		file := filepath.Join(cwd, "sub", "one.js")
		tmp := file + ".tmp"
		writeFile(t, tmp, "var one = 'safe';")
		require.NoError(t, os.Remove(file))
		require.NoError(t, os.Rename(tmp, file))

		assert.Equal(t, []string{"changed sub/one.js"}, rec.waitFiles(t, 1))
	})
}

func TestRenameWithinWindowEmitsRenamed(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rename pairing is exercised against inotify")
	}
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		w, rec, cwd := startWatcher(t, mode, "**/*.js")

		require.NoError(t, os.Rename(filepath.Join(cwd, "sub", "one.js"), filepath.Join(cwd, "sub", "uno.js")))

		assert.Equal(t, []string{"renamed sub/uno.js sub/one.js"}, rec.waitFiles(t, 1))
		assert.ElementsMatch(t, []string{"two.js", "uno.js"}, w.RelativeDir("sub", true))
	})
}

func TestRemoveStopsEvents(t *testing.T) {
	forEachMode(t, func(t *testing.T, mode interfaces.Mode) {
		w, rec, cwd := startWatcher(t, mode, "**/*.js")

		require.NoError(t, w.Remove("sub/one.js"))
		writeFile(t, filepath.Join(cwd, "sub", "one.js"), "var one = 'gone';")
		writeFile(t, filepath.Join(cwd, "sub", "two.js"), "var two = 2;")

		assert.Equal(t, []string{"changed sub/two.js"}, rec.waitFiles(t, 1))
	})
}

func TestEventsChannel(t *testing.T) {
	w, _, cwd := startWatcher(t, interfaces.ModePoll, "**/*.js")
	events := w.Events()

	writeFile(t, filepath.Join(cwd, "sub", "one.js"), "var one = 1;")

	select {
	case ev := <-events:
		assert.Equal(t, models.EventChanged, ev.Kind)
		assert.Equal(t, filepath.Join(cwd, "sub", "one.js"), ev.Path)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no event on the all stream")
	}
}

func TestHandlersMayCallBack(t *testing.T) {
	w, _, cwd := startWatcher(t, interfaces.ModePoll, "sub/*.js")

	added := make(chan struct{})
	var once sync.Once
	off := w.On(models.EventChanged, func(ev *models.Event) {
		// Add from inside a handler must not deadlock
		assert.NoError(t, w.Add("nested/*.js"))
		once.Do(func() { close(added) })
	})
	defer off()

	writeFile(t, filepath.Join(cwd, "sub", "one.js"), "var one = 1;")
	select {
	case <-added:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not run")
	}
	assert.Contains(t, w.Relative(true), "nested/")
}

func TestOffRemovesHandler(t *testing.T) {
	w, rec, cwd := startWatcher(t, interfaces.ModePoll, "**/*.js")

	calls := 0
	off := w.On(models.EventChanged, func(*models.Event) { calls++ })
	off()

	writeFile(t, filepath.Join(cwd, "sub", "one.js"), "var one = 1;")
	rec.waitFiles(t, 1)
	assert.Zero(t, calls)
}

func TestCloseFromHandler(t *testing.T) {
	w, _, cwd := startWatcher(t, interfaces.ModePoll, "**/*.js")

	w.On(models.EventChanged, func(*models.Event) {
		assert.NoError(t, w.Close())
	})
	writeFile(t, filepath.Join(cwd, "sub", "one.js"), "var one = 1;")
	waitDone(t, w)
}

func TestClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	for _, mode := range testModes {
		cwd := fixture(t)
		w, err := New([]string{"**/*.js"}, Options{
			Cwd:           cwd,
			Mode:          mode,
			Interval:      20 * time.Millisecond,
			DebounceDelay: testDelay,
		})
		require.NoError(t, err)
		rec := record(w)
		waitReady(t, w)

		// a delete held by the debouncer is dropped by Close
		require.NoError(t, os.Remove(filepath.Join(cwd, "sub", "two.js")))
		time.Sleep(50 * time.Millisecond)

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		waitDone(t, w)

		lines := rec.all()
		require.NotEmpty(t, lines)
		assert.Equal(t, "end", lines[len(lines)-1])
		assert.NotContains(t, lines, "deleted sub/two.js")

		assert.ErrorIs(t, w.Add("*.js"), gazeerrors.ErrWatcherClosed)
		assert.ErrorIs(t, w.Remove("one.js"), gazeerrors.ErrWatcherClosed)
		assert.Empty(t, w.Watched())
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	cwd := fixture(t)

	_, err := New([]string{"sub/[.js"}, Options{Cwd: cwd, Mode: interfaces.ModePoll})
	require.Error(t, err)
	assert.True(t, gazeerrors.IsPatternError(err))

	_, err = New([]string{"*.js"}, Options{Cwd: cwd, Mode: "sometimes"})
	require.Error(t, err)
}
