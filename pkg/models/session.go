package models

import (
	"time"
)

// Session describes one run of `gaze watch`
type Session struct {
	ID       string   `json:"id" yaml:"id"`
	Cwd      string   `json:"cwd" yaml:"cwd"`
	Patterns []string `json:"patterns" yaml:"patterns"`
	Mode     string   `json:"mode" yaml:"mode"`

	// Timing information
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty" yaml:"stopped_at,omitempty"`

	// Counts of journaled events by kind
	Counts map[EventKind]int `json:"counts,omitempty" yaml:"counts,omitempty"`

	// Status
	IsRunning bool   `json:"is_running" yaml:"is_running"`
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// NewSession creates a running session for patterns resolved against cwd
func NewSession(cwd string, patterns []string, mode string) *Session {
	return &Session{
		ID:        GenerateEventID(),
		Cwd:       cwd,
		Patterns:  append([]string(nil), patterns...),
		Mode:      mode,
		StartedAt: time.Now(),
		Counts:    make(map[EventKind]int),
		IsRunning: true,
	}
}

// Record counts ev against the session
func (s *Session) Record(ev *Event) {
	if s.Counts == nil {
		s.Counts = make(map[EventKind]int)
	}
	s.Counts[ev.Kind]++
	if ev.Kind == EventError {
		s.LastError = ev.Error
	}
}

// Clone returns a copy that shares no maps or slices with s
func (s *Session) Clone() *Session {
	c := *s
	c.Patterns = append([]string(nil), s.Patterns...)
	c.Counts = make(map[EventKind]int, len(s.Counts))
	for k, v := range s.Counts {
		c.Counts[k] = v
	}
	return &c
}

// Stop marks the session finished
func (s *Session) Stop() {
	s.IsRunning = false
	s.StoppedAt = time.Now()
}

// Uptime returns how long the session ran, or has been running
func (s *Session) Uptime() time.Duration {
	if s.IsRunning || s.StoppedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.StoppedAt.Sub(s.StartedAt)
}

// Total returns the number of journaled file events
func (s *Session) Total() int {
	total := 0
	for kind, n := range s.Counts {
		if kind.IsFileEvent() {
			total += n
		}
	}
	return total
}
