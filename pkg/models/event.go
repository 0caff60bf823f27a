package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a high-level watcher event
type EventKind string

const (
	// EventReady fires once the initial scan has settled
	EventReady EventKind = "ready"

	// EventNoMatch fires when no path matched any pattern
	EventNoMatch EventKind = "nomatch"

	// EventAdded indicates a matching file or directory appeared
	EventAdded EventKind = "added"

	// EventChanged indicates a watched file was modified
	EventChanged EventKind = "changed"

	// EventDeleted indicates a watched file or directory disappeared
	EventDeleted EventKind = "deleted"

	// EventRenamed indicates a watched path moved; OldPath holds the source
	EventRenamed EventKind = "renamed"

	// EventAll is the companion fired with every added/changed/deleted/renamed
	EventAll EventKind = "all"

	// EventError carries a non-fatal watcher error
	EventError EventKind = "error"

	// EventEnd is the terminal event after Close
	EventEnd EventKind = "end"
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	return string(k)
}

// IsFileEvent reports whether the kind describes a change to a path
func (k EventKind) IsFileEvent() bool {
	switch k {
	case EventAdded, EventChanged, EventDeleted, EventRenamed:
		return true
	}
	return false
}

// ParseEventKind maps a string to a known EventKind
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	switch k {
	case EventReady, EventNoMatch, EventAdded, EventChanged, EventDeleted,
		EventRenamed, EventAll, EventError, EventEnd:
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Event represents a normalized file system event
type Event struct {
	// Event identification
	ID   string    `json:"id" yaml:"id"`
	Kind EventKind `json:"kind" yaml:"kind"`

	// Path information
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	OldPath string `json:"old_path,omitempty" yaml:"old_path,omitempty"` // renamed only

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Err is set on error events; Error keeps its text for persistence
	Err   error  `json:"-" yaml:"-"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewEvent creates a new event for path
func NewEvent(kind EventKind, path string) *Event {
	return &Event{
		ID:        GenerateEventID(),
		Kind:      kind,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// NewRenameEvent creates a renamed event from oldPath to newPath
func NewRenameEvent(newPath, oldPath string) *Event {
	e := NewEvent(EventRenamed, newPath)
	e.OldPath = oldPath
	return e
}

// NewErrorEvent wraps err in an error event
func NewErrorEvent(err error) *Event {
	e := NewEvent(EventError, "")
	e.SetError(err)
	return e
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}

// SetError sets an error on the event
func (e *Event) SetError(err error) {
	e.Err = err
	if err != nil {
		e.Error = err.Error()
	}
}

// Args returns the arguments the event carries, in emission order:
// (path) for most kinds, (newPath, oldPath) for renamed.
func (e *Event) Args() []string {
	switch {
	case e.Kind == EventRenamed:
		return []string{e.Path, e.OldPath}
	case e.Path != "":
		return []string{e.Path}
	}
	return nil
}

// String renders the event for logs and the CLI
func (e *Event) String() string {
	switch e.Kind {
	case EventRenamed:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.OldPath, e.Path)
	case EventError:
		return fmt.Sprintf("%s %s", e.Kind, e.Error)
	}
	if e.Path == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
