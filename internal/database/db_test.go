package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(&Options{
		Path:    filepath.Join(t.TempDir(), "nested", "journal.db"),
		Timeout: time.Second,
	})
	require.NoError(t, m.Open())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpenCreatesBuckets(t *testing.T) {
	m := newTestManager(t)
	assert.True(t, m.IsOpen())

	// opening twice is a no-op
	require.NoError(t, m.Open())

	for _, bucket := range []string{BucketEvents, BucketMetadata} {
		n, err := m.Count(bucket)
		require.NoError(t, err, bucket)
		assert.Zero(t, n)
	}
}

func TestPutGetDelete(t *testing.T) {
	m := newTestManager(t)

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, m.Put(BucketMetadata, "k", record{Name: "gaze", Count: 3}))

	var got record
	require.NoError(t, m.Get(BucketMetadata, "k", &got))
	assert.Equal(t, record{Name: "gaze", Count: 3}, got)

	require.NoError(t, m.Delete(BucketMetadata, "k"))
	err := m.Get(BucketMetadata, "k", &got)
	assert.True(t, errors.Is(err, ErrKeyNotFound), "got %v", err)

	assert.Error(t, m.Put("missing", "k", 1))
}

func TestClearBucket(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Put(BucketMetadata, "a", 1))
	require.NoError(t, m.Put(BucketMetadata, "b", 2))
	require.NoError(t, m.Clear(BucketMetadata))

	n, err := m.Count(BucketMetadata)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClosedManager(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.False(t, m.IsOpen())
	assert.Error(t, m.Put(BucketMetadata, "k", 1))
	_, err := m.Stats()
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	m := NewManager(&Options{Path: path, Timeout: time.Second})
	require.NoError(t, m.Open())
	require.NoError(t, m.Put(BucketMetadata, "k", "v"))
	require.NoError(t, m.Close())

	ro := NewManager(&Options{Path: path, Timeout: time.Second, ReadOnly: true})
	require.NoError(t, ro.Open())
	defer ro.Close()

	var v string
	require.NoError(t, ro.Get(BucketMetadata, "k", &v))
	assert.Equal(t, "v", v)
	assert.Equal(t, path, ro.Path())
}
