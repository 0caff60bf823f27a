// Package debounce folds and deduplicates the file events a watcher emits
// before they reach consumers.
package debounce

import (
	"sync"
	"time"

	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultDelay is the debounce window when none is configured
const DefaultDelay = 500 * time.Millisecond

// Sink receives the events that survive debouncing
type Sink func(*models.Event)

// Lister returns the matching children of a newly added directory
type Lister func(dir string) []string

// Config configures a Debouncer
type Config struct {
	Delay  time.Duration
	Clock  clockwork.Clock
	Logger *zap.Logger
	Lister Lister
}

// Debouncer sits between reconciliation and the event sink. It applies, in
// order: rename folding, safe-write folding, per-path-per-kind dedup and
// directory-add fan-out. The sink is called with the Debouncer's lock held
// and must not call back into it.
type Debouncer struct {
	delay  time.Duration
	clock  clockwork.Clock
	logger *zap.Logger
	lister Lister
	sink   Sink

	cache   map[string]*cacheEntry
	pending *pendingDelete
	stopped bool
	mu      sync.Mutex
}

type cacheEntry struct {
	kinds map[models.EventKind]struct{}
	timer clockwork.Timer
}

// pendingDelete is the one path suspected to be mid safe-write or rename
type pendingDelete struct {
	event *models.Event
	timer clockwork.Timer
}

// New creates a Debouncer delivering to sink
func New(cfg Config, sink Sink) *Debouncer {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Debouncer{
		delay:  cfg.Delay,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		lister: cfg.Lister,
		sink:   sink,
		cache:  make(map[string]*cacheEntry),
	}
}

// Delay returns the debounce window
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Push feeds one event through the folding rules
func (d *Debouncer) Push(ev *models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.gazePush(ev)
}

// gazePush must be called with d.mu held
func (d *Debouncer) gazePush(ev *models.Event) {
	switch ev.Kind {
	case models.EventDeleted:
		switch {
		case d.pending == nil:
			d.gazeHold(ev)
		case d.pending.event.Path == ev.Path:
			// already waiting on this path
		default:
			d.gazeEmit(ev)
		}

	case models.EventAdded:
		if old := d.gazeTakePending(); old != nil {
			if old.Path == ev.Path {
				d.gazeEmitFolded(models.NewEvent(models.EventChanged, ev.Path), "safe-write")
			} else {
				d.gazeEmitFolded(models.NewRenameEvent(ev.Path, old.Path), "rename")
			}
			return
		}
		if d.gazeEmit(ev) && utils.IsDir(ev.Path) && d.lister != nil {
			for _, child := range d.lister(ev.Path) {
				d.gazePush(models.NewEvent(models.EventAdded, child))
			}
		}

	case models.EventRenamed, models.EventChanged:
		if d.pending != nil && d.pending.event.Path == ev.Path {
			d.gazeTakePending()
			d.gazeEmitFolded(models.NewEvent(models.EventChanged, ev.Path), "safe-write")
			return
		}
		d.gazeEmit(ev)

	default:
		d.sink(ev)
	}
}

// gazeHold delays a delete by the window, watching for a follow-up add
func (d *Debouncer) gazeHold(ev *models.Event) {
	p := &pendingDelete{event: ev}
	p.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.stopped || d.pending != p {
			return
		}
		d.pending = nil
		d.gazeEmit(p.event)
	})
	d.pending = p
}

// gazeTakePending cancels and returns the pending delete, if any
func (d *Debouncer) gazeTakePending() *models.Event {
	if d.pending == nil {
		return nil
	}
	p := d.pending
	d.pending = nil
	p.timer.Stop()
	return p.event
}

func (d *Debouncer) gazeEmitFolded(ev *models.Event, rule string) {
	d.logger.Debug("Folded events",
		zap.String("rule", rule),
		zap.String("kind", ev.Kind.String()),
		zap.String("path", ev.Path),
	)
	d.gazeEmit(ev)
}

// gazeEmit delivers ev unless the same (path, kind) already went out in the
// current window, and reports whether it was delivered.
func (d *Debouncer) gazeEmit(ev *models.Event) bool {
	entry, ok := d.cache[ev.Path]
	if ok {
		if _, seen := entry.kinds[ev.Kind]; seen {
			return false
		}
	} else {
		entry = &cacheEntry{kinds: make(map[models.EventKind]struct{})}
		path := ev.Path
		entry.timer = d.clock.AfterFunc(d.delay, func() {
			d.mu.Lock()
			if d.cache[path] == entry {
				delete(d.cache, path)
			}
			d.mu.Unlock()
		})
		d.cache[path] = entry
	}
	entry.kinds[ev.Kind] = struct{}{}

	d.sink(ev)
	return true
}

// Pending returns the path currently held as a possible safe-write
func (d *Debouncer) Pending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return "", false
	}
	return d.pending.event.Path, true
}

// Stop cancels every timer and drops held state. Later pushes are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.gazeTakePending()
	for path, entry := range d.cache {
		entry.timer.Stop()
		delete(d.cache, path)
	}
}
