package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gazewatch/gaze/internal/core/interfaces"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// DefaultSettleDelay is how long a new watch waits before it is activated
	DefaultSettleDelay = 10 * time.Millisecond

	// DefaultRenameHold is how long a rename of a watched file waits for the
	// matching create before it is reported as a delete
	DefaultRenameHold = 100 * time.Millisecond
)

// NativeConfig configures a Native source
type NativeConfig struct {
	SettleDelay time.Duration
	RenameHold  time.Duration
	Clock       clockwork.Clock
	Logger      *zap.Logger

	// OnError receives activation failures that happen after Watch returned
	OnError func(path string, err error)
}

// Native is a Source backed by fsnotify. It holds one fsnotify registration
// per directory; a watched file registers its parent and receives events
// routed by name.
type Native struct {
	cfg NativeConfig

	watcher *fsnotify.Watcher
	dirs    map[string]*dirHandle  // registered directory -> handle
	subs    map[string]*nativeSub  // unmarked watched path -> subscription
	held    map[string]*heldRename // unmarked old path -> pending rename
	mu      sync.Mutex

	pending int
	waiters []chan struct{}

	wg sync.WaitGroup
}

type dirHandle struct {
	path string
	info os.FileInfo
	refs int
}

type nativeSub struct {
	path   string // as given by the caller
	dir    string // registered directory
	isDir  bool
	info   os.FileInfo
	fn     interfaces.RawHandler
	active bool
	timer  clockwork.Timer
}

type heldRename struct {
	sub   *nativeSub
	timer clockwork.Timer
}

type delivery struct {
	fn interfaces.RawHandler
	ev interfaces.RawEvent
}

// NewNative creates a native source; fsnotify is started with the first Watch
func NewNative(cfg NativeConfig) *Native {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.RenameHold <= 0 {
		cfg.RenameHold = DefaultRenameHold
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Native{
		cfg:  cfg,
		dirs: make(map[string]*dirHandle),
		subs: make(map[string]*nativeSub),
		held: make(map[string]*heldRename),
	}
}

// Watch schedules a native watch for path after the settle delay
func (n *Native) Watch(path string, fn interfaces.RawHandler) error {
	key := utils.UnmarkDir(path)
	info, err := os.Lstat(key)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		n.watcher = w
		n.wg.Add(1)
		go n.gazeMonitor(w)
	}

	if sub, ok := n.subs[key]; ok {
		sub.fn = fn
		return nil
	}

	sub := &nativeSub{
		path:  path,
		isDir: info.IsDir(),
		info:  info,
		fn:    fn,
	}
	if sub.isDir {
		sub.dir = key
	} else {
		sub.dir = filepath.Dir(key)
	}
	n.subs[key] = sub

	n.pending++
	sub.timer = n.cfg.Clock.AfterFunc(n.cfg.SettleDelay, func() {
		n.gazeActivate(key, sub)
	})
	return nil
}

// gazeActivate registers the directory behind sub with fsnotify
func (n *Native) gazeActivate(key string, sub *nativeSub) {
	var (
		failed  error
		deliver []delivery
	)

	n.mu.Lock()
	if n.subs[key] == sub && n.watcher != nil {
		deliver, failed = n.gazeRegister(sub)
		switch {
		case !sub.active:
			delete(n.subs, key)
		case sub.isDir:
			// children created during the settle delay were not seen
			deliver = append(deliver, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawChange, Path: sub.path}})
		}
	}
	n.gazeSettled()
	n.mu.Unlock()

	n.gazeDeliver(deliver)
	if failed != nil && n.cfg.OnError != nil {
		n.cfg.OnError(sub.path, failed)
	}
}

// gazeRegister must be called with n.mu held
func (n *Native) gazeRegister(sub *nativeSub) ([]delivery, error) {
	if h, ok := n.dirs[sub.dir]; ok {
		h.refs++
		sub.active = true
		return nil, nil
	}

	info, err := os.Stat(sub.dir)
	if err != nil {
		// vanished during the settle delay
		return []delivery{{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawDelete, Path: sub.path}}}, nil
	}

	var deliver []delivery
	for path, h := range n.dirs {
		if !os.SameFile(h.info, info) {
			continue
		}
		// The OS handed back a handle that is already registered under
		// another path. The older registration is stale.
		n.cfg.Logger.Warn("Duplicate watch handle, closing older registration",
			zap.String("old_path", path),
			zap.String("new_path", sub.dir),
		)
		_ = n.watcher.Remove(path)
		delete(n.dirs, path)
		for k, s := range n.subs {
			if s.active && s.dir == path {
				delete(n.subs, k)
				if _, err := os.Lstat(utils.UnmarkDir(s.path)); err != nil {
					deliver = append(deliver, delivery{fn: s.fn, ev: interfaces.RawEvent{Kind: interfaces.RawDelete, Path: s.path}})
				}
			}
		}
	}

	if err := n.watcher.Add(sub.dir); err != nil {
		if gazeerrors.IsTransient(err) && !gazeerrors.IsTooManyOpenFiles(err) {
			return append(deliver, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawDelete, Path: sub.path}}), nil
		}
		return deliver, err
	}

	n.dirs[sub.dir] = &dirHandle{path: sub.dir, info: info, refs: 1}
	sub.active = true

	n.cfg.Logger.Debug("Registered native watch",
		zap.String("path", sub.path),
		zap.String("dir", sub.dir),
	)
	return deliver, nil
}

// Close stops watching path
func (n *Native) Close(path string) error {
	key := utils.UnmarkDir(path)

	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.subs[key]
	if !ok {
		return nil
	}
	delete(n.subs, key)
	if hr, ok := n.held[key]; ok && hr.sub == sub {
		hr.timer.Stop()
		delete(n.held, key)
	}
	return n.gazeUnregister(sub)
}

// gazeUnregister must be called with n.mu held
func (n *Native) gazeUnregister(sub *nativeSub) error {
	if !sub.active {
		if sub.timer != nil && sub.timer.Stop() {
			n.gazeSettled()
		}
		return nil
	}
	sub.active = false

	h, ok := n.dirs[sub.dir]
	if !ok {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(n.dirs, sub.dir)
	if err := n.watcher.Remove(sub.dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		n.cfg.Logger.Debug("Failed to remove native watch",
			zap.String("dir", sub.dir),
			zap.Error(err),
		)
	}
	return nil
}

// CloseAll stops every watch and shuts fsnotify down
func (n *Native) CloseAll() error {
	n.mu.Lock()
	for key, sub := range n.subs {
		if !sub.active && sub.timer != nil && sub.timer.Stop() {
			n.gazeSettled()
		}
		delete(n.subs, key)
	}
	for key, hr := range n.held {
		hr.timer.Stop()
		delete(n.held, key)
	}
	n.dirs = make(map[string]*dirHandle)
	w := n.watcher
	n.watcher = nil
	n.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	n.wg.Wait()
	return err
}

// WatchedPaths returns the watched paths in sorted order
func (n *Native) WatchedPaths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	paths := make([]string, 0, len(n.subs))
	for _, sub := range n.subs {
		paths = append(paths, sub.path)
	}
	sort.Strings(paths)
	return paths
}

// Backend reports BackendNative for watched paths
func (n *Native) Backend(path string) interfaces.Backend {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[utils.UnmarkDir(path)]; ok {
		return interfaces.BackendNative
	}
	return interfaces.BackendNone
}

// Settle blocks until every scheduled activation has run
func (n *Native) Settle(ctx context.Context) error {
	n.mu.Lock()
	if n.pending == 0 {
		n.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	n.waiters = append(n.waiters, ch)
	n.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gazeSettled must be called with n.mu held
func (n *Native) gazeSettled() {
	n.pending--
	if n.pending > 0 {
		return
	}
	n.pending = 0
	for _, ch := range n.waiters {
		close(ch)
	}
	n.waiters = nil
}

// gazeMonitor is the fsnotify reader goroutine
func (n *Native) gazeMonitor(w *fsnotify.Watcher) {
	defer n.wg.Done()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			n.gazeDeliver(n.gazeRoute(event))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				n.cfg.Logger.Warn("Native event queue overflowed, rescanning watched directories")
				n.gazeDeliver(n.gazeRescanAll())
				continue
			}
			n.cfg.Logger.Error("File watcher error", zap.Error(err))
			if n.cfg.OnError != nil {
				n.cfg.OnError("", err)
			}
		}
	}
}

// gazeRoute maps one fsnotify event onto the subscriptions it concerns
func (n *Native) gazeRoute(event fsnotify.Event) []delivery {
	name := filepath.Clean(event.Name)
	parent := filepath.Dir(name)

	n.mu.Lock()
	defer n.mu.Unlock()

	var out []delivery
	structural := event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	if sub, ok := n.subs[name]; ok && sub.active {
		switch {
		case sub.isDir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)):
			out = append(out, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawDelete, Path: sub.path}})
		case sub.isDir:
			// contents of the directory itself are reported through its children
		case event.Has(fsnotify.Remove):
			out = append(out, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawDelete, Path: sub.path}})
		case event.Has(fsnotify.Rename):
			n.gazeHoldRename(name, sub)
			// the parent is told once the rename resolves
			return out
		case event.Has(fsnotify.Create), event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
			if info, err := os.Lstat(name); err == nil {
				sub.info = info
			}
			out = append(out, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawChange, Path: sub.path}})
		default:
			out = append(out, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawUnknown, Path: sub.path}})
		}
	}

	if event.Has(fsnotify.Create) {
		out = append(out, n.gazeResolveRename(name)...)
	}

	if structural {
		out = append(out, n.gazeDirChange(parent)...)
	}
	return out
}

// gazeHoldRename must be called with n.mu held
func (n *Native) gazeHoldRename(key string, sub *nativeSub) {
	if hr, ok := n.held[key]; ok {
		hr.timer.Stop()
	}
	hr := &heldRename{sub: sub}
	hr.timer = n.cfg.Clock.AfterFunc(n.cfg.RenameHold, func() {
		n.mu.Lock()
		if n.held[key] != hr {
			n.mu.Unlock()
			return
		}
		delete(n.held, key)
		out := []delivery{{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawDelete, Path: sub.path}}}
		out = append(out, n.gazeDirChange(filepath.Dir(key))...)
		n.mu.Unlock()

		n.gazeDeliver(out)
	})
	n.held[key] = hr

	n.cfg.Logger.Debug("Holding rename", zap.String("path", sub.path))
}

// gazeResolveRename must be called with n.mu held. It pairs a create with a
// held rename of the same file.
func (n *Native) gazeResolveRename(name string) []delivery {
	if len(n.held) == 0 {
		return nil
	}
	info, err := os.Lstat(name)
	if err != nil {
		return nil
	}
	for key, hr := range n.held {
		if key == name || !os.SameFile(hr.sub.info, info) {
			continue
		}
		hr.timer.Stop()
		delete(n.held, key)

		out := []delivery{{fn: hr.sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawRename, Path: hr.sub.path, NewPath: name}}}
		if oldParent := filepath.Dir(key); oldParent != filepath.Dir(name) {
			out = append(out, n.gazeDirChange(oldParent)...)
		}
		return out
	}
	return nil
}

// gazeDirChange must be called with n.mu held
func (n *Native) gazeDirChange(dir string) []delivery {
	sub, ok := n.subs[dir]
	if !ok || !sub.active || !sub.isDir {
		return nil
	}
	return []delivery{{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawChange, Path: sub.path}}}
}

func (n *Native) gazeRescanAll() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []delivery
	for _, sub := range n.subs {
		if sub.active && sub.isDir {
			out = append(out, delivery{fn: sub.fn, ev: interfaces.RawEvent{Kind: interfaces.RawChange, Path: sub.path}})
		}
	}
	return out
}

func (n *Native) gazeDeliver(out []delivery) {
	for _, d := range out {
		d.fn(d.ev)
	}
}
