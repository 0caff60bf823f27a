package watchers

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/internal/database/repositories"
	"github.com/gazewatch/gaze/internal/watchers/local"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	mu     sync.Mutex
	events []string
}

func (s *seen) handle(ev *models.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev.String())
	s.mu.Unlock()
}

func (s *seen) has(line string) func() bool {
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, got := range s.events {
			if got == line {
				return true
			}
		}
		return false
	}
}

func tempTree(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.js"), []byte("1"), 0644))
	return dir
}

func watchOptions(dir string) local.Options {
	return local.Options{
		Cwd:           dir,
		Mode:          interfaces.ModePoll,
		Interval:      20 * time.Millisecond,
		DebounceDelay: 50 * time.Millisecond,
	}
}

func openJournal(t *testing.T) *database.Manager {
	t.Helper()
	db := database.NewManager(&database.Options{
		Path:    filepath.Join(t.TempDir(), "journal.db"),
		Timeout: time.Second,
		NoSync:  true,
	})
	require.NoError(t, db.Open())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestManagerRequiresPatterns(t *testing.T) {
	_, err := NewGazeWatcherManager(ManagerConfig{})
	assert.Error(t, err)
}

func TestManagerJournalsEvents(t *testing.T) {
	dir := tempTree(t)
	db := openJournal(t)
	s := &seen{}

	m, err := NewGazeWatcherManager(ManagerConfig{
		Patterns:      []string{"**/*.js"},
		Watch:         watchOptions(dir),
		DB:            db,
		FlushInterval: 20 * time.Millisecond,
		Handler:       s.handle,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())

	select {
	case <-m.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("manager never became ready")
	}
	assert.Eventually(t, s.has("ready"), time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string][]string{".": {"one.js"}}, m.Watched(true))

	added := filepath.Join(dir, "two.js")
	require.NoError(t, os.WriteFile(added, []byte("2"), 0644))
	require.Eventually(t, s.has("added "+added), 5*time.Second, 10*time.Millisecond)

	stats := m.GetStats()
	assert.True(t, stats.IsRunning)
	require.NotNil(t, stats.Session)
	assert.Equal(t, 1, stats.Session.Counts[models.EventAdded])
	require.NotNil(t, stats.Queue)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())

	journal, err := repositories.NewEventRepository(db).List(nil)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, models.EventAdded, journal[0].Kind)
	assert.Equal(t, added, journal[0].Path)

	last, err := repositories.NewSessionRepository(db).Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.False(t, last.IsRunning)
	assert.Equal(t, dir, last.Cwd)
	assert.Equal(t, []string{"**/*.js"}, last.Patterns)
	assert.Equal(t, 1, last.Total())
}

func TestManagerRetain(t *testing.T) {
	dir := tempTree(t)
	db := openJournal(t)
	s := &seen{}

	m, err := NewGazeWatcherManager(ManagerConfig{
		Patterns: []string{"*.js"},
		Watch:    watchOptions(dir),
		DB:       db,
		Retain:   1,
		Handler:  s.handle,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	<-m.Ready()

	for _, name := range []string{"a.js", "b.js"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0644))
		require.Eventually(t, s.has("added "+path), 5*time.Second, 10*time.Millisecond)
	}
	require.NoError(t, m.Stop())

	n, err := repositories.NewEventRepository(db).Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManagerWithoutJournal(t *testing.T) {
	dir := tempTree(t)
	s := &seen{}

	m, err := NewGazeWatcherManager(ManagerConfig{
		Patterns: []string{"*.css"},
		Watch:    watchOptions(dir),
		Handler:  s.handle,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	<-m.Ready()

	assert.Eventually(t, s.has("nomatch"), time.Second, 5*time.Millisecond)
	assert.Nil(t, m.GetStats().Queue)

	require.NoError(t, m.Stop())
}

func TestManagerLifecycle(t *testing.T) {
	dir := tempTree(t)

	m, err := NewGazeWatcherManager(ManagerConfig{
		Patterns: []string{"*.js"},
		Watch:    watchOptions(dir),
	})
	require.NoError(t, err)

	assert.Error(t, m.Add("*.css"), "not running yet")
	assert.Empty(t, m.Watched(false))

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "already running")
	<-m.Ready()

	require.NoError(t, m.Add("*.css"))
	require.NoError(t, m.Remove(filepath.Join(dir, "one.js")))
	assert.Empty(t, m.Watched(true)["."])

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Error(t, m.Remove(filepath.Join(dir, "one.js")))
}

func TestManagerSavesSessionWhileRecording(t *testing.T) {
	dir := tempTree(t)
	db := openJournal(t)

	m, err := NewGazeWatcherManager(ManagerConfig{
		Patterns: []string{"*.js"},
		Watch:    watchOptions(dir),
		DB:       db,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	<-m.Ready()

	path := filepath.Join(dir, "one.js")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.gazeHandleEvent(models.NewEvent(models.EventChanged, path))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.gazeSaveSession()
		}
	}()
	wg.Wait()

	require.NoError(t, m.Stop())

	last, err := repositories.NewSessionRepository(db).Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.GreaterOrEqual(t, last.Counts[models.EventChanged], 200)
}
