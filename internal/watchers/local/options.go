package local

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/watchers/debounce"
	"github.com/gazewatch/gaze/internal/watchers/registry"
	"github.com/gazewatch/gaze/internal/watchers/source"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/logger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Options configures a GazeWatcher. The zero value is usable.
type Options struct {
	// Cwd is the directory relative patterns resolve against. Defaults to
	// the process working directory.
	Cwd string

	// NoMark returns directory paths without the trailing separator
	NoMark bool

	// Interval is the poll backend tick interval
	Interval time.Duration

	// DebounceDelay is the window repeated events are folded within
	DebounceDelay time.Duration

	// Mode selects the raw backend: auto, watch or poll
	Mode interfaces.Mode

	// Registry shares subscriptions with other watchers. When nil the
	// watcher owns a private registry built from Mode and Interval.
	Registry *registry.Registry

	// OnEvent is registered before the initial scan starts, so it sees
	// every event including the first ready or nomatch. It is called once
	// per event with the event's own kind, never with all.
	OnEvent Handler

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Mark reports whether directory paths carry a trailing separator
func (o Options) Mark() bool {
	return !o.NoMark
}

func (o Options) gazeDefaults() (Options, error) {
	if o.Cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return o, gazeerrors.NewFileSystemError("failed to get working directory", err)
		}
		o.Cwd = cwd
	}
	cwd, err := filepath.Abs(o.Cwd)
	if err != nil {
		return o, gazeerrors.NewValidationError("invalid cwd", err)
	}
	o.Cwd = cwd

	if o.Interval <= 0 {
		o.Interval = source.DefaultInterval
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = debounce.DefaultDelay
	}
	mode, ok := interfaces.ParseMode(string(o.Mode))
	if !ok {
		return o, gazeerrors.NewValidationError("unknown watch mode "+string(o.Mode), nil)
	}
	o.Mode = mode

	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = logger.Named("watcher")
	}
	return o, nil
}
