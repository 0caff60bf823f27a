package repositories

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *database.Manager {
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

// seed journals one event per kind, one second apart
func seed(t *testing.T, repo *EventRepository, base time.Time, kinds ...models.EventKind) []*models.Event {
	t.Helper()
	var events []*models.Event
	for i, kind := range kinds {
		ev := models.NewEvent(kind, "/w/"+string(kind))
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		events = append(events, ev)
	}
	require.NoError(t, repo.SaveBatch(events))
	return events
}

func paths(events []*models.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Path
	}
	return out
}

func TestEventKeysSortChronologically(t *testing.T) {
	early := models.NewEvent(models.EventAdded, "/w/a")
	early.ID = "zzz"
	early.Timestamp = time.Unix(100, 0)
	late := models.NewEvent(models.EventAdded, "/w/b")
	late.ID = "aaa"
	late.Timestamp = time.Unix(200, 0)

	assert.Less(t, string(EventKey(early)), string(EventKey(late)))
}

func TestSaveAndList(t *testing.T) {
	repo := NewEventRepository(openTestDB(t))
	base := time.Now().Add(-time.Hour)

	// saved out of order, listed oldest first
	later := seed(t, repo, base.Add(10*time.Second), models.EventDeleted)
	earlier := seed(t, repo, base, models.EventAdded, models.EventChanged)

	got, err := repo.List(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/added", "/w/changed", "/w/deleted"}, paths(got))
	assert.Equal(t, earlier[0].ID, got[0].ID)
	assert.Equal(t, later[0].ID, got[2].ID)
	assert.True(t, earlier[0].Timestamp.Equal(got[0].Timestamp))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSaveKeepsErrorText(t *testing.T) {
	repo := NewEventRepository(openTestDB(t))

	ev := models.NewErrorEvent(assert.AnError)
	require.NoError(t, repo.Save(ev))

	got, err := repo.List(nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventError, got[0].Kind)
	assert.Equal(t, assert.AnError.Error(), got[0].Error)
	assert.Nil(t, got[0].Err)
}

func TestListFilter(t *testing.T) {
	repo := NewEventRepository(openTestDB(t))
	base := time.Now().Add(-time.Hour)
	seed(t, repo, base,
		models.EventAdded, models.EventChanged, models.EventDeleted,
		models.EventRenamed, models.EventError)

	tests := []struct {
		name   string
		filter *EventFilter
		want   []string
	}{
		{"all", &EventFilter{}, []string{"/w/added", "/w/changed", "/w/deleted", "/w/renamed", "/w/error"}},
		{"limit keeps newest", &EventFilter{Limit: 2}, []string{"/w/renamed", "/w/error"}},
		{"kinds", &EventFilter{Kinds: []models.EventKind{models.EventAdded, models.EventDeleted}}, []string{"/w/added", "/w/deleted"}},
		{"since", &EventFilter{Since: base.Add(2 * time.Second)}, []string{"/w/deleted", "/w/renamed", "/w/error"}},
		{"kinds and limit", &EventFilter{Kinds: []models.EventKind{models.EventAdded, models.EventChanged}, Limit: 1}, []string{"/w/changed"}},
		{"since after everything", &EventFilter{Since: base.Add(time.Minute)}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(got))
		})
	}
}

func TestPrune(t *testing.T) {
	repo := NewEventRepository(openTestDB(t))
	seed(t, repo, time.Now().Add(-time.Hour),
		models.EventAdded, models.EventChanged, models.EventDeleted, models.EventRenamed)

	pruned, err := repo.Prune(10)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	pruned, err = repo.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	got, err := repo.List(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/renamed"}, paths(got))

	_, err = repo.Prune(-1)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	repo := NewEventRepository(openTestDB(t))
	seed(t, repo, time.Now(), models.EventAdded, models.EventChanged)

	require.NoError(t, repo.Clear())
	n, err := repo.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	// the bucket is usable again
	seed(t, repo, time.Now(), models.EventDeleted)
	n, err = repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClosedDatabase(t *testing.T) {
	db := openTestDB(t)
	repo := NewEventRepository(db)
	require.NoError(t, db.Close())

	assert.Error(t, repo.Save(models.NewEvent(models.EventAdded, "/w/a")))
	_, err := repo.List(nil)
	assert.Error(t, err)
}

func TestSessionRepository(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	last, err := repo.Last()
	require.NoError(t, err)
	assert.Nil(t, last)

	s := models.NewSession("/w", []string{"**/*.js", "!node_modules/**"}, "auto")
	s.Record(models.NewEvent(models.EventAdded, "/w/a.js"))
	s.Record(models.NewEvent(models.EventAdded, "/w/b.js"))
	s.Record(models.NewErrorEvent(assert.AnError))
	s.Stop()
	require.NoError(t, repo.Save(s))

	last, err = repo.Last()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, s.ID, last.ID)
	assert.Equal(t, s.Patterns, last.Patterns)
	assert.False(t, last.IsRunning)
	assert.Equal(t, 2, last.Counts[models.EventAdded])
	assert.Equal(t, 2, last.Total())
	assert.Equal(t, assert.AnError.Error(), last.LastError)
}
