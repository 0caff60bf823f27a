package local

import (
	"sort"

	"github.com/gazewatch/gaze/internal/metrics"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"go.uber.org/zap"
)

// On registers fn for events of kind and returns a func that removes it.
// EventAll handlers see every added, changed, deleted and renamed event
// with Kind left as the original kind.
func (w *GazeWatcher) On(kind models.EventKind, fn Handler) (off func()) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()

	w.nextHandler++
	key := w.nextHandler
	if w.handlers[kind] == nil {
		w.handlers[kind] = make(map[int]Handler)
	}
	w.handlers[kind][key] = fn

	return func() {
		w.handlersMu.Lock()
		delete(w.handlers[kind], key)
		w.handlersMu.Unlock()
	}
}

// Events returns the all stream: every added, changed, deleted and renamed
// event. Once requested it must be drained until it is closed after end.
func (w *GazeWatcher) Events() <-chan models.Event {
	w.eventsWanted.Store(true)
	return w.events
}

// Errors returns the error stream. Once requested it must be drained until
// it is closed after end.
func (w *GazeWatcher) Errors() <-chan error {
	w.errorsWanted.Store(true)
	return w.errors
}

// Ready is closed once the initial scan has settled
func (w *GazeWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Done is closed after end has been dispatched
func (w *GazeWatcher) Done() <-chan struct{} {
	return w.done
}

// gazeDeliver is the debouncer sink; it queues ev for dispatch. Safe to
// call from any goroutine.
func (w *GazeWatcher) gazeDeliver(ev *models.Event) {
	if !w.opts.Mark() {
		ev.Path = utils.UnmarkDir(ev.Path)
		ev.OldPath = utils.UnmarkDir(ev.OldPath)
	}
	w.outbox.push(ev)
}

// gazeDispatch fires queued events in order until end
func (w *GazeWatcher) gazeDispatch() {
	defer close(w.done)

	for range w.outbox.notify {
		events, closed := w.outbox.drain()
		for _, ev := range events {
			w.gazeFire(ev)
		}
		if closed {
			close(w.events)
			close(w.errors)
			return
		}
	}
}

func (w *GazeWatcher) gazeFire(ev *models.Event) {
	metrics.Events.WithLabelValues(ev.Kind.String()).Inc()
	w.logger.Debug("Emitting event",
		zap.String("kind", ev.Kind.String()),
		zap.String("path", ev.Path),
		zap.String("old_path", ev.OldPath),
	)

	for _, fn := range w.gazeHandlers(ev.Kind) {
		fn(ev)
	}

	switch {
	case ev.Kind.IsFileEvent():
		metrics.Events.WithLabelValues(models.EventAll.String()).Inc()
		for _, fn := range w.gazeHandlers(models.EventAll) {
			fn(ev)
		}
		if w.eventsWanted.Load() {
			w.events <- *ev
		}
	case ev.Kind == models.EventError:
		if w.errorsWanted.Load() {
			w.errors <- ev.Err
		}
	case ev.Kind == models.EventReady:
		select {
		case <-w.ready:
		default:
			close(w.ready)
		}
	}
}

// gazeHandlers copies the handlers for kind in registration order
func (w *GazeWatcher) gazeHandlers(kind models.EventKind) []Handler {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()

	keys := make([]int, 0, len(w.handlers[kind]))
	for key := range w.handlers[kind] {
		keys = append(keys, key)
	}
	sort.Ints(keys)

	out := make([]Handler, 0, len(keys))
	for _, key := range keys {
		out = append(out, w.handlers[kind][key])
	}
	return out
}
