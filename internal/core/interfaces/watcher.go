package interfaces

import (
	"context"
)

// Source defines the contract for a raw change notification backend
type Source interface {
	// Watch subscribes fn to raw events for path
	Watch(path string, fn RawHandler) error

	// Close stops watching path
	Close(path string) error

	// CloseAll stops watching every path
	CloseAll() error

	// WatchedPaths returns list of currently watched paths
	WatchedPaths() []string

	// Backend reports which backend currently serves path
	Backend(path string) Backend

	// Settle blocks until pending watch activations have completed
	Settle(ctx context.Context) error
}

// RawHandler receives raw events for a subscribed path
type RawHandler func(RawEvent)

// RawEvent represents an unprocessed notification from a backend
type RawEvent struct {
	Kind    RawKind `json:"kind"`
	Path    string  `json:"path"`
	NewPath string  `json:"new_path,omitempty"` // rename only
}

// RawKind defines the type of raw notification
type RawKind string

const (
	// RawChange indicates the path or a directory's contents changed
	RawChange RawKind = "change"

	// RawDelete indicates the path disappeared
	RawDelete RawKind = "delete"

	// RawRename indicates the path moved to NewPath
	RawRename RawKind = "rename"

	// RawUnknown is anything the backend could not classify
	RawUnknown RawKind = "unknown"
)

// String returns the string representation of the raw kind
func (k RawKind) String() string {
	return string(k)
}

// Backend names the implementation serving a subscription
type Backend string

const (
	// BackendNone means the path is not watched
	BackendNone Backend = ""

	// BackendNative is OS notification through fsnotify
	BackendNative Backend = "native"

	// BackendPoll is stat polling
	BackendPoll Backend = "poll"
)

// Mode selects how a Source picks its backend
type Mode string

const (
	// ModeAuto prefers native and falls back to polling on exhaustion
	ModeAuto Mode = "auto"

	// ModeWatch forces native notification
	ModeWatch Mode = "watch"

	// ModePoll forces stat polling
	ModePoll Mode = "poll"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeAuto, ModeWatch, ModePoll:
		return m, true
	case "":
		return ModeAuto, true
	}
	return "", false
}
