// Package source provides the raw change notification backends: fsnotify
// based native watching, stat polling and the mode-driven selector between
// the two.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/metrics"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/utils"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Config configures an Auto source
type Config struct {
	Mode        interfaces.Mode
	Interval    time.Duration
	SettleDelay time.Duration
	RenameHold  time.Duration
	Clock       clockwork.Clock
	Logger      *zap.Logger
}

// Auto selects between the native and polling backends by mode. In auto
// mode it uses native watching until the OS runs out of handles, then polls
// every later path until Reset.
type Auto struct {
	mode   interfaces.Mode
	native *Native
	poller *Poller
	logger *zap.Logger

	handlers map[string]interfaces.RawHandler // unmarked path -> handler
	fallback bool
	reported bool
	onError  func(error)
	mu       sync.Mutex
}

// NewAuto creates a source for cfg.Mode
func NewAuto(cfg Config) (*Auto, error) {
	mode, ok := interfaces.ParseMode(string(cfg.Mode))
	if !ok {
		return nil, gazeerrors.NewValidationError(fmt.Sprintf("unknown watch mode %q", cfg.Mode), nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	a := &Auto{
		mode:     mode,
		logger:   cfg.Logger,
		handlers: make(map[string]interfaces.RawHandler),
	}
	a.poller = NewPoller(cfg.Interval, cfg.Clock, cfg.Logger.Named("poll"))
	if mode != interfaces.ModePoll {
		a.native = NewNative(NativeConfig{
			SettleDelay: cfg.SettleDelay,
			RenameHold:  cfg.RenameHold,
			Clock:       cfg.Clock,
			Logger:      cfg.Logger.Named("native"),
			OnError:     a.gazeNativeFailed,
		})
	}
	return a, nil
}

// Mode returns the configured mode
func (a *Auto) Mode() interfaces.Mode {
	return a.mode
}

// SetErrorHandler installs the callback that receives backend errors
func (a *Auto) SetErrorHandler(fn func(error)) {
	a.mu.Lock()
	a.onError = fn
	a.mu.Unlock()
}

// FallenBack reports whether auto mode has switched to polling
func (a *Auto) FallenBack() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallback
}

// Reset clears a sticky fallback so new watches try native again
func (a *Auto) Reset() {
	a.mu.Lock()
	a.fallback = false
	a.reported = false
	a.mu.Unlock()
}

// Watch subscribes fn to path on the backend the mode selects
func (a *Auto) Watch(path string, fn interfaces.RawHandler) error {
	a.mu.Lock()
	a.handlers[utils.UnmarkDir(path)] = fn
	usePoll := a.mode == interfaces.ModePoll || a.fallback
	a.mu.Unlock()

	if usePoll {
		return a.gazeWatchPoll(path, fn)
	}

	err := a.native.Watch(path, fn)
	if err == nil {
		return nil
	}
	if !gazeerrors.IsTooManyOpenFiles(err) {
		a.gazeForget(path)
		return err
	}
	if a.mode == interfaces.ModeWatch {
		a.gazeForget(path)
		return gazeerrors.NewResourceError(path, fmt.Errorf("unable to watch %q using native OS events: %w", path, err))
	}

	a.gazeFallback(path, err)
	return a.gazeWatchPoll(path, fn)
}

func (a *Auto) gazeWatchPoll(path string, fn interfaces.RawHandler) error {
	if err := a.poller.Watch(path, fn); err != nil {
		a.gazeForget(path)
		return err
	}
	return nil
}

func (a *Auto) gazeForget(path string) {
	a.mu.Lock()
	delete(a.handlers, utils.UnmarkDir(path))
	a.mu.Unlock()
}

// gazeNativeFailed handles activation errors the native backend reports
// after Watch has returned.
func (a *Auto) gazeNativeFailed(path string, err error) {
	if path == "" || !gazeerrors.IsTooManyOpenFiles(err) {
		a.gazeReport(err)
		return
	}

	a.mu.Lock()
	fn, ok := a.handlers[utils.UnmarkDir(path)]
	a.mu.Unlock()
	if !ok {
		return
	}

	if a.mode == interfaces.ModeWatch {
		a.gazeReport(gazeerrors.NewResourceError(path, fmt.Errorf("unable to watch %q using native OS events: %w", path, err)))
		return
	}

	a.gazeFallback(path, err)
	if err := a.gazeWatchPoll(path, fn); err != nil {
		a.logger.Debug("Failed to poll path after fallback", zap.String("path", path), zap.Error(err))
	}
}

// gazeFallback switches auto mode to polling and reports it once
func (a *Auto) gazeFallback(path string, cause error) {
	a.mu.Lock()
	a.fallback = true
	first := !a.reported
	a.reported = true
	a.mu.Unlock()

	if !first {
		return
	}
	metrics.Fallbacks.Inc()
	a.logger.Warn("Too many open files, falling back to stat polling",
		zap.String("path", path),
		zap.Error(cause),
	)
	a.gazeReport(gazeerrors.NewResourceError(path,
		fmt.Errorf("unable to watch %q using native OS events, falling back to slower stat polling: %w", path, cause)))
}

func (a *Auto) gazeReport(err error) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close stops watching path on whichever backend holds it
func (a *Auto) Close(path string) error {
	a.gazeForget(path)
	if a.native != nil && a.native.Backend(path) != interfaces.BackendNone {
		return a.native.Close(path)
	}
	return a.poller.Close(path)
}

// CloseAll stops every watch on both backends
func (a *Auto) CloseAll() error {
	a.mu.Lock()
	a.handlers = make(map[string]interfaces.RawHandler)
	a.mu.Unlock()

	var err error
	if a.native != nil {
		err = a.native.CloseAll()
	}
	if perr := a.poller.CloseAll(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// WatchedPaths returns the union of both backends' paths
func (a *Auto) WatchedPaths() []string {
	var paths []string
	if a.native != nil {
		paths = a.native.WatchedPaths()
	}
	paths = utils.Unique(paths, a.poller.WatchedPaths())
	sort.Strings(paths)
	return paths
}

// Backend reports which backend serves path
func (a *Auto) Backend(path string) interfaces.Backend {
	if a.native != nil {
		if b := a.native.Backend(path); b != interfaces.BackendNone {
			return b
		}
	}
	return a.poller.Backend(path)
}

// Settle waits for pending native activations
func (a *Auto) Settle(ctx context.Context) error {
	if a.native == nil {
		return ctx.Err()
	}
	return a.native.Settle(ctx)
}

// Tick runs one poll sweep immediately
func (a *Auto) Tick() {
	a.poller.Tick()
}
