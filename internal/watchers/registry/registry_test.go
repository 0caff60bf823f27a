package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/watchers/source/mock"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type events struct {
	mu  sync.Mutex
	got []interfaces.RawEvent
}

func (e *events) handle(ev interfaces.RawEvent) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.got)
}

func TestAcquireSharesOneWatch(t *testing.T) {
	src := mock.NewMockSource()
	r := NewWithSource(src, nil)
	defer r.Shutdown()

	a, b := &events{}, &events{}
	idA, err := r.Acquire("/w/one.js", a.handle)
	require.NoError(t, err)
	idB, err := r.Acquire("/w/one.js", b.handle)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	assert.Equal(t, 1, src.WatchCount("/w/one.js"))
	subs := r.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, Subscription{Path: "/w/one.js", Backend: interfaces.BackendNative, Alive: true, Refs: 2}, subs[0])

	src.Emit(interfaces.RawEvent{Kind: interfaces.RawChange, Path: "/w/one.js"})
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())

	require.NoError(t, r.Release(idA))
	assert.Equal(t, 0, src.CloseCount("/w/one.js"))
	assert.Equal(t, []string{"/w/one.js"}, r.Paths())

	require.NoError(t, r.Release(idB))
	assert.Equal(t, 1, src.CloseCount("/w/one.js"))
	assert.Empty(t, r.Paths())
	assert.Empty(t, src.WatchedPaths())
}

func TestSubscriptionReportsSourceBackend(t *testing.T) {
	src := mock.NewMockSource()
	src.SetBackend(interfaces.BackendPoll)
	r := NewWithSource(src, nil)
	defer r.Shutdown()

	_, err := r.Acquire("/w/one.js", (&events{}).handle)
	require.NoError(t, err)
	require.Len(t, r.Subscriptions(), 1)
	assert.Equal(t, interfaces.BackendPoll, r.Subscriptions()[0].Backend)
}

func TestReleaseUnknownID(t *testing.T) {
	r := NewWithSource(mock.NewMockSource(), nil)
	defer r.Shutdown()

	assert.ErrorIs(t, r.Release(42), gazeerrors.ErrNotWatched)
}

func TestAcquireFailureLeavesNoEntry(t *testing.T) {
	src := mock.NewMockSource()
	r := NewWithSource(src, nil)
	defer r.Shutdown()

	src.FailWith("/w/gone.js", os.ErrNotExist)
	_, err := r.Acquire("/w/gone.js", func(interfaces.RawEvent) {})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, r.Paths())
}

func TestDeleteMarksDeadAndReacquireRecreates(t *testing.T) {
	src := mock.NewMockSource()
	r := NewWithSource(src, nil)
	defer r.Shutdown()

	ev := &events{}
	_, err := r.Acquire("/w/one.js", ev.handle)
	require.NoError(t, err)

	src.Emit(interfaces.RawEvent{Kind: interfaces.RawDelete, Path: "/w/one.js"})
	require.Len(t, r.Subscriptions(), 1)
	assert.False(t, r.Subscriptions()[0].Alive)

	_, err = r.Acquire("/w/one.js", ev.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, src.WatchCount("/w/one.js"))
	assert.True(t, r.Subscriptions()[0].Alive)
	assert.Equal(t, 2, r.Subscriptions()[0].Refs)
}

func TestDispatchIsReentrant(t *testing.T) {
	src := mock.NewMockSource()
	r := NewWithSource(src, nil)
	defer r.Shutdown()

	var id ID
	calls := 0
	id, err := r.Acquire("/w/one.js", func(interfaces.RawEvent) {
		calls++
		// releasing from inside a callback must not corrupt the table
		require.NoError(t, r.Release(id))
		_, err := r.Acquire("/w/two.js", func(interfaces.RawEvent) {})
		require.NoError(t, err)
	})
	require.NoError(t, err)
	other := &events{}
	_, err = r.Acquire("/w/one.js", other.handle)
	require.NoError(t, err)

	src.Emit(interfaces.RawEvent{Kind: interfaces.RawChange, Path: "/w/one.js"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, other.len(), "the copied handler list is still delivered")
	assert.Equal(t, []string{"/w/one.js", "/w/two.js"}, r.Paths())
}

func TestOnError(t *testing.T) {
	src := mock.NewMockSource()
	r := NewWithSource(src, nil)
	defer r.Shutdown()

	var got []error
	off := r.OnError(func(err error) { got = append(got, err) })

	src.ReportError(gazeerrors.ErrTooManyOpenFiles)
	off()
	src.ReportError(gazeerrors.ErrTooManyOpenFiles)

	assert.Equal(t, []error{gazeerrors.ErrTooManyOpenFiles}, got)
}

func TestShutdown(t *testing.T) {
	src := mock.NewMockSource()
	r := NewWithSource(src, nil)

	_, err := r.Acquire("/w/one.js", func(interfaces.RawEvent) {})
	require.NoError(t, err)

	require.NoError(t, r.Shutdown())
	require.NoError(t, r.Shutdown())
	assert.Empty(t, src.WatchedPaths())
	assert.Empty(t, r.Paths())

	_, err = r.Acquire("/w/one.js", func(interfaces.RawEvent) {})
	assert.ErrorIs(t, err, gazeerrors.ErrWatcherClosed)
}

func TestDefaultLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := Default()
	assert.Same(t, first, Default())

	replaced, err := Init(Config{Mode: interfaces.ModePoll})
	require.NoError(t, err)
	assert.NotSame(t, first, replaced)
	assert.Same(t, replaced, Default())

	// the replaced registry was shut down
	_, err = first.Acquire("/w/one.js", func(interfaces.RawEvent) {})
	assert.ErrorIs(t, err, gazeerrors.ErrWatcherClosed)

	require.NoError(t, ShutdownDefault())
	require.NoError(t, ShutdownDefault())
	assert.NotSame(t, replaced, Default())
	require.NoError(t, ShutdownDefault())
}

func TestInitRejectsBadMode(t *testing.T) {
	_, err := Init(Config{Mode: "never"})
	assert.Error(t, err)
}

func TestRegistryOverRealSource(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "one.js")
	require.NoError(t, os.WriteFile(file, []byte("one"), 0644))

	r, err := New(Config{Mode: interfaces.ModePoll})
	require.NoError(t, err)

	id, err := r.Acquire(file, func(interfaces.RawEvent) {})
	require.NoError(t, err)
	assert.Equal(t, interfaces.BackendPoll, r.Subscriptions()[0].Backend)

	require.NoError(t, r.Release(id))
	require.NoError(t, r.Shutdown())
}
