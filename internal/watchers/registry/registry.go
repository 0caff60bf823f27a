// Package registry holds the table of watched paths shared by watchers.
// Every subscription to the raw source goes through a Registry so that two
// watchers on the same path share one OS-level watch.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/metrics"
	"github.com/gazewatch/gaze/internal/watchers/source"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ID identifies one acquirer of a path
type ID uint64

// Config configures the source a Registry owns
type Config struct {
	Mode     interfaces.Mode
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// DefaultConfig returns the configuration used by Default
func DefaultConfig() Config {
	return Config{
		Mode:     interfaces.ModeAuto,
		Interval: source.DefaultInterval,
	}
}

// Subscription is a snapshot of one watched path
type Subscription struct {
	Path    string
	Backend interfaces.Backend
	Alive   bool
	Refs    int
}

// errorReporter is implemented by sources that report asynchronous errors
type errorReporter interface {
	SetErrorHandler(func(error))
}

type handler struct {
	id ID
	fn interfaces.RawHandler
}

type entry struct {
	path     string
	alive    bool
	backend  interfaces.Backend // label the subscription gauge was raised with
	handlers []handler
}

// Registry reference counts subscriptions on a raw source
type Registry struct {
	source interfaces.Source
	logger *zap.Logger

	entries map[string]*entry
	owners  map[ID]string
	nextID  ID
	closed  bool
	mu      sync.Mutex

	listeners    map[int]func(error)
	nextListener int
	listenersMu  sync.Mutex
}

// New creates a Registry over a fresh source built from cfg
func New(cfg Config) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("registry")
	}
	src, err := source.NewAuto(source.Config{
		Mode:     cfg.Mode,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return NewWithSource(src, cfg.Logger), nil
}

// NewWithSource creates a Registry over src
func NewWithSource(src interfaces.Source, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		source:    src,
		logger:    log,
		entries:   make(map[string]*entry),
		owners:    make(map[ID]string),
		listeners: make(map[int]func(error)),
	}
	if rep, ok := src.(errorReporter); ok {
		rep.SetErrorHandler(r.gazeReportError)
	}
	return r
}

// Source returns the underlying raw source
func (r *Registry) Source() interfaces.Source {
	return r.source
}

// Acquire subscribes fn to path, creating the OS watch on first use or when
// the previous watch died.
func (r *Registry) Acquire(path string, fn interfaces.RawHandler) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, gazeerrors.ErrWatcherClosed
	}

	e, ok := r.entries[path]
	switch {
	case !ok:
		if err := r.source.Watch(path, r.gazeDispatcher(path)); err != nil {
			return 0, err
		}
		e = &entry{path: path, alive: true}
		r.entries[path] = e
		r.gazeTrack(e)
	case !e.alive:
		_ = r.source.Close(path)
		if err := r.source.Watch(path, r.gazeDispatcher(path)); err != nil {
			return 0, err
		}
		e.alive = true
		r.logger.Debug("Re-created dead subscription", zap.String("path", path))
	}

	r.nextID++
	id := r.nextID
	e.handlers = append(e.handlers, handler{id: id, fn: fn})
	r.owners[id] = path
	return id, nil
}

// Release drops one acquirer; the OS watch closes with the last one
func (r *Registry) Release(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.owners[id]
	if !ok {
		return gazeerrors.ErrNotWatched
	}
	delete(r.owners, id)

	e := r.entries[path]
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			break
		}
	}
	if len(e.handlers) > 0 {
		return nil
	}

	delete(r.entries, path)
	metrics.Subscriptions.WithLabelValues(string(e.backend)).Dec()
	return r.source.Close(path)
}

// gazeTrack must be called with r.mu held
func (r *Registry) gazeTrack(e *entry) {
	e.backend = r.source.Backend(e.path)
	if e.backend == interfaces.BackendNone {
		e.backend = interfaces.BackendNative
	}
	metrics.Subscriptions.WithLabelValues(string(e.backend)).Inc()
}

// gazeDispatcher fans raw events for path out to a copy of its handlers
func (r *Registry) gazeDispatcher(path string) interfaces.RawHandler {
	return func(ev interfaces.RawEvent) {
		r.mu.Lock()
		e, ok := r.entries[path]
		if !ok {
			r.mu.Unlock()
			return
		}
		if ev.Kind == interfaces.RawDelete {
			e.alive = false
		}
		handlers := make([]handler, len(e.handlers))
		copy(handlers, e.handlers)
		r.mu.Unlock()

		for _, h := range handlers {
			h.fn(ev)
		}
	}
}

// Subscriptions returns a snapshot of every watched path
func (r *Registry) Subscriptions() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		subs = append(subs, Subscription{
			Path:    e.path,
			Backend: r.source.Backend(e.path),
			Alive:   e.alive,
			Refs:    len(e.handlers),
		})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Path < subs[j].Path })
	return subs
}

// Paths returns the watched paths in sorted order
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.entries))
	for path := range r.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// OnError registers fn for asynchronous source errors and returns its remover
func (r *Registry) OnError(fn func(error)) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	r.nextListener++
	key := r.nextListener
	r.listeners[key] = fn
	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, key)
		r.listenersMu.Unlock()
	}
}

func (r *Registry) gazeReportError(err error) {
	r.listenersMu.Lock()
	fns := make([]func(error), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.Unlock()

	if len(fns) == 0 {
		r.logger.Warn("Unhandled source error", zap.Error(err))
	}
	for _, fn := range fns {
		fn(err)
	}
}

// Settle waits for the source to finish activating pending watches
func (r *Registry) Settle(ctx context.Context) error {
	return r.source.Settle(ctx)
}

// Shutdown closes every subscription and the source. The registry rejects
// further acquires.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, e := range r.entries {
		metrics.Subscriptions.WithLabelValues(string(e.backend)).Dec()
	}
	r.entries = make(map[string]*entry)
	r.owners = make(map[ID]string)
	r.mu.Unlock()

	return r.source.CloseAll()
}

var (
	defaultRegistry *Registry
	defaultMu       sync.Mutex
)

// Init replaces the process-wide registry with one built from cfg
func Init(cfg Config) (*Registry, error) {
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	old := defaultRegistry
	defaultRegistry = r
	defaultMu.Unlock()

	if old != nil {
		_ = old.Shutdown()
	}
	return r, nil
}

// Default returns the process-wide registry, creating it on first use
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRegistry == nil {
		r, err := New(DefaultConfig())
		if err != nil {
			// DefaultConfig is always valid
			panic(err)
		}
		defaultRegistry = r
	}
	return defaultRegistry
}

// ShutdownDefault shuts the process-wide registry down
func ShutdownDefault() error {
	defaultMu.Lock()
	r := defaultRegistry
	defaultRegistry = nil
	defaultMu.Unlock()

	if r == nil {
		return nil
	}
	return r.Shutdown()
}
