// Package local implements the glob driven watcher: it resolves patterns to
// a tree of tracked paths, subscribes to them through a registry and turns
// raw notifications into added, changed, deleted and renamed events.
package local

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gazewatch/gaze/internal/watchers/debounce"
	"github.com/gazewatch/gaze/internal/watchers/patterns"
	"github.com/gazewatch/gaze/internal/watchers/registry"
	"github.com/gazewatch/gaze/internal/watchers/tree"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"go.uber.org/zap"
)

// settleTimeout bounds how long the initial scan waits for the source to
// activate its watches before ready fires anyway
const settleTimeout = 2 * time.Second

// Handler receives watcher events. Handlers run on the watcher's dispatch
// goroutine and may call back into the watcher.
type Handler func(*models.Event)

// GazeWatcher watches the paths matching a set of glob patterns
type GazeWatcher struct {
	opts     Options
	cwd      string // marked
	logger   *zap.Logger
	registry *registry.Registry
	owned    bool // registry is private and shut down on Close
	offError func()

	patterns  *patterns.Set
	debouncer *debounce.Debouncer

	// owned by the loop goroutine
	tree    *tree.Tree
	dirs    map[string]*dirWatch
	subs    map[string]*subscription
	ignored map[string]struct{}
	stopped bool

	tasks  *fifo[func()]
	outbox *fifo[*models.Event]

	handlers    map[models.EventKind]map[int]Handler
	nextHandler int
	handlersMu  sync.RWMutex

	events       chan models.Event
	errors       chan error
	eventsWanted atomic.Bool
	errorsWanted atomic.Bool
	ready        chan struct{}
	done         chan struct{}

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over patterns and runs the initial scan. Pattern
// errors are returned; ready is signalled once the scan's watches settle.
func New(globs []string, opts Options) (*GazeWatcher, error) {
	opts, err := opts.gazeDefaults()
	if err != nil {
		return nil, err
	}

	reg, owned := opts.Registry, false
	if reg == nil {
		reg, err = registry.New(registry.Config{
			Mode:     opts.Mode,
			Interval: opts.Interval,
			Clock:    opts.Clock,
			Logger:   opts.Logger.Named("registry"),
		})
		if err != nil {
			return nil, err
		}
		owned = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &GazeWatcher{
		opts:     opts,
		cwd:      utils.MarkDir(opts.Cwd),
		logger:   opts.Logger,
		registry: reg,
		owned:    owned,
		patterns: patterns.New(opts.Cwd),
		tree:     tree.New(opts.Cwd),
		dirs:     make(map[string]*dirWatch),
		subs:     make(map[string]*subscription),
		ignored:  make(map[string]struct{}),
		tasks:    newFifo[func()](),
		outbox:   newFifo[*models.Event](),
		handlers: make(map[models.EventKind]map[int]Handler),
		events:   make(chan models.Event, 256),
		errors:   make(chan error, 16),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	w.debouncer = debounce.New(debounce.Config{
		Delay:  opts.DebounceDelay,
		Clock:  opts.Clock,
		Logger: opts.Logger.Named("debounce"),
		Lister: w.gazeListMatches,
	}, w.gazeDeliver)
	w.offError = reg.OnError(w.gazeSourceError)
	if opts.OnEvent != nil {
		for _, kind := range []models.EventKind{
			models.EventReady, models.EventNoMatch, models.EventAdded, models.EventChanged,
			models.EventDeleted, models.EventRenamed, models.EventError, models.EventEnd,
		} {
			w.On(kind, opts.OnEvent)
		}
	}

	w.wg.Add(1)
	go w.gazeLoop()
	go w.gazeDispatch()

	if err := w.Add(globs...); err != nil {
		_ = w.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.gazeSettle()

	w.logger.Info("Gaze watcher started",
		zap.String("cwd", opts.Cwd),
		zap.Strings("patterns", w.patterns.Patterns()),
		zap.String("mode", string(opts.Mode)),
		zap.Duration("debounce_delay", opts.DebounceDelay),
	)
	return w, nil
}

// Cwd returns the directory relative patterns and paths resolve against
func (w *GazeWatcher) Cwd() string {
	return w.opts.Cwd
}

// Patterns returns the patterns the watcher matches against
func (w *GazeWatcher) Patterns() []string {
	return w.patterns.Patterns()
}

// Add extends the pattern set and starts watching the new matches. Paths
// found this way are tracked without emitting added.
func (w *GazeWatcher) Add(globs ...string) error {
	if w.closed.Load() {
		return gazeerrors.ErrWatcherClosed
	}

	fresh := patterns.New(w.opts.Cwd)
	if err := fresh.Add(globs...); err != nil {
		w.gazeDeliver(models.NewErrorEvent(err))
		return err
	}
	if err := w.patterns.Add(globs...); err != nil {
		w.gazeDeliver(models.NewErrorEvent(err))
		return err
	}

	return w.gazeCall(func() error {
		found, err := w.patterns.Find()
		if err != nil {
			w.gazeDeliver(models.NewErrorEvent(err))
			return err
		}
		w.gazeTrack(found, fresh)
		return nil
	})
}

// Remove stops watching path, a file or a directory relative to cwd or
// absolute. Later changes to it produce no events.
func (w *GazeWatcher) Remove(path string) error {
	return w.gazeCall(func() error {
		p := utils.Resolve(w.opts.Cwd, path)
		if dir := utils.MarkDir(p); utils.IsDir(p) || w.tree.HasDir(dir) {
			w.gazeTearDownDir(dir, false)
			w.ignored[dir] = struct{}{}
			w.logger.Debug("Removed directory from watcher", zap.String("path", dir))
			return nil
		}

		// the name stays in the parent listing so it is not rediscovered
		w.tree.Remove(p)
		w.gazeUnsubscribe(p)
		w.ignored[p] = struct{}{}
		w.logger.Debug("Removed file from watcher", zap.String("path", p))
		return nil
	})
}

// Close unsubscribes every path, stops pending timers and emits end. It is
// safe to call more than once and from a handler.
func (w *GazeWatcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.cancel()

	torn := make(chan struct{})
	if w.tasks.push(func() {
		w.gazeTearDown()
		close(torn)
	}) {
		<-torn
	}
	w.tasks.close()
	w.wg.Wait()

	w.offError()
	var err error
	if w.owned {
		err = w.registry.Shutdown()
	}

	w.outbox.push(models.NewEvent(models.EventEnd, ""))
	w.outbox.close()

	w.logger.Info("Gaze watcher stopped", zap.String("cwd", w.opts.Cwd))
	return err
}

// Watched returns the tracked tree: marked directory -> entries
func (w *GazeWatcher) Watched() map[string][]string {
	var out map[string][]string
	if err := w.gazeCall(func() error {
		out = w.tree.Snapshot()
		return nil
	}); err != nil {
		return map[string][]string{}
	}
	return w.gazeApplyMark(out)
}

// Relative returns the tracked tree with keys relative to cwd and entries
// relative to their directory
func (w *GazeWatcher) Relative(unixify bool) map[string][]string {
	var out map[string][]string
	if err := w.gazeCall(func() error {
		out = w.tree.Relative(unixify)
		return nil
	}); err != nil {
		return map[string][]string{}
	}
	return w.gazeApplyMark(out)
}

// RelativeDir returns the entries of one tracked directory relative to it
func (w *GazeWatcher) RelativeDir(dir string, unixify bool) []string {
	var out []string
	if err := w.gazeCall(func() error {
		out = w.tree.RelativeDir(dir, unixify)
		return nil
	}); err != nil {
		return []string{}
	}
	if w.opts.Mark() {
		return out
	}
	for i, e := range out {
		out[i] = utils.UnmarkDir(e)
	}
	return out
}

func (w *GazeWatcher) gazeApplyMark(m map[string][]string) map[string][]string {
	if w.opts.Mark() {
		return m
	}
	out := make(map[string][]string, len(m))
	for key, entries := range m {
		unmarked := make([]string, len(entries))
		for i, e := range entries {
			unmarked[i] = utils.UnmarkDir(e)
		}
		out[utils.UnmarkDir(key)] = unmarked
	}
	return out
}

// gazeLoop runs every task in arrival order; it owns the tree, the
// directory watches and the subscriptions
func (w *GazeWatcher) gazeLoop() {
	defer w.wg.Done()

	for range w.tasks.notify {
		tasks, closed := w.tasks.drain()
		for _, task := range tasks {
			task()
		}
		if closed {
			return
		}
	}
}

// gazePost queues fn on the loop unless the watcher has been torn down
func (w *GazeWatcher) gazePost(fn func()) bool {
	return w.tasks.push(func() {
		if w.stopped {
			return
		}
		fn()
	})
}

// gazeCall runs fn on the loop and waits for its result
func (w *GazeWatcher) gazeCall(fn func() error) error {
	result := make(chan error, 1)
	if !w.tasks.push(func() {
		if w.stopped {
			result <- gazeerrors.ErrWatcherClosed
			return
		}
		result <- fn()
	}) {
		return gazeerrors.ErrWatcherClosed
	}
	return <-result
}

// gazeTrack adds found paths to the tree and watches their directories.
// Ignored paths come back only when one of the fresh patterns names them.
func (w *GazeWatcher) gazeTrack(found []string, fresh *patterns.Set) {
	for _, p := range found {
		if _, ok := w.ignored[p]; ok {
			if !fresh.Match(p) {
				continue
			}
			delete(w.ignored, p)
		}
		w.tree.Add(p)
		if !utils.IsDir(p) {
			_ = w.gazeSubscribe(p)
		}
	}

	for _, dir := range w.gazeRoots() {
		w.gazeWatchDir(dir, false)
	}
}

// gazeRoots returns the directories that must be watched for the current
// tree: every key, the keys' ancestors up to cwd, and cwd itself
func (w *GazeWatcher) gazeRoots() []string {
	roots := make(map[string]struct{})
	if w.patterns.CouldContain(w.cwd) {
		roots[w.cwd] = struct{}{}
	}
	for _, key := range w.tree.Dirs() {
		roots[key] = struct{}{}
		for dir := key; strings.HasPrefix(dir, w.cwd) && dir != w.cwd; {
			dir = utils.Parent(dir)
			roots[dir] = struct{}{}
		}
	}

	out := make([]string, 0, len(roots))
	for dir := range roots {
		if _, ok := w.ignored[dir]; ok {
			continue
		}
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// gazeTearDown releases everything the watcher holds
func (w *GazeWatcher) gazeTearDown() {
	w.stopped = true
	w.debouncer.Stop()

	for path := range w.subs {
		w.gazeUnsubscribe(path)
	}
	for path, d := range w.dirs {
		d.state = dirTornDown
		delete(w.dirs, path)
	}
	w.tree = tree.New(w.opts.Cwd)
}

// gazeSettle signals ready once the initial watches are active
func (w *GazeWatcher) gazeSettle() {
	defer w.wg.Done()

	ctx, cancel := context.WithTimeout(w.ctx, settleTimeout)
	defer cancel()

	if err := w.registry.Settle(ctx); err != nil && w.ctx.Err() == nil {
		w.logger.Debug("Watches did not settle before ready", zap.Error(err))
	}

	w.gazePost(func() {
		if w.tree.Len() == 0 {
			w.gazeDeliver(models.NewEvent(models.EventNoMatch, ""))
		}
		w.gazeDeliver(models.NewEvent(models.EventReady, ""))
	})
}

// gazeSourceError turns an asynchronous source error into an error event
func (w *GazeWatcher) gazeSourceError(err error) {
	if w.closed.Load() {
		return
	}
	w.logger.Warn("Raw source error", zap.Error(err))
	w.gazeDeliver(models.NewErrorEvent(err))
}

// gazeListMatches lists the children of dir that match the pattern set
func (w *GazeWatcher) gazeListMatches(dir string) []string {
	current, err := gazeList(dir)
	if err != nil {
		return nil
	}

	var out []string
	for p := range current {
		if _, ok := w.ignored[p]; ok {
			continue
		}
		if w.patterns.Match(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
