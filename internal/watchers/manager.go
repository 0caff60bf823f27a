// Package watchers wires a watcher to the event journal and a consumer
package watchers

import (
	"fmt"
	"sync"
	"time"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/internal/database/repositories"
	"github.com/gazewatch/gaze/internal/watchers/local"
	"github.com/gazewatch/gaze/internal/watchers/queue"
	"github.com/gazewatch/gaze/pkg/logger"
	"github.com/gazewatch/gaze/pkg/models"
	"go.uber.org/zap"
)

// GazeWatcherManager runs one watcher, forwards its events to a handler and
// journals them when a database is configured
type GazeWatcherManager struct {
	config  ManagerConfig
	watcher *local.GazeWatcher

	queue    *queue.EventQueue
	events   *repositories.EventRepository
	sessions *repositories.SessionRepository

	session   *models.Session
	sessionMu sync.Mutex

	logger    *zap.Logger
	isRunning bool
	runningMu sync.RWMutex
}

// ManagerConfig contains configuration for the watcher manager
type ManagerConfig struct {
	Patterns []string
	Watch    local.Options

	// DB enables the journal when set. The manager does not open or close it.
	DB            *database.Manager
	Retain        int           // Journal entries kept after Stop; 0 keeps all
	BatchSize     int           // Journal batch size
	FlushInterval time.Duration // Journal flush interval

	// Handler receives every file, error, ready and nomatch event, in order,
	// on the watcher's dispatch goroutine
	Handler func(*models.Event)
}

// Stats is a snapshot of a running manager
type Stats struct {
	IsRunning bool                `json:"is_running" yaml:"is_running"`
	Session   *models.Session     `json:"session" yaml:"session"`
	Watched   map[string][]string `json:"watched" yaml:"watched"`
	Queue     *queue.Stats        `json:"queue,omitempty" yaml:"queue,omitempty"`
}

// NewGazeWatcherManager creates a new watcher manager
func NewGazeWatcherManager(config ManagerConfig) (*GazeWatcherManager, error) {
	if len(config.Patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = time.Second
	}

	m := &GazeWatcherManager{
		config: config,
		logger: logger.Named("manager"),
	}

	if config.DB != nil {
		m.events = repositories.NewEventRepository(config.DB)
		m.sessions = repositories.NewSessionRepository(config.DB)

		changeQueue, err := queue.NewEventQueue(queue.QueueConfig{
			BatchSize:     config.BatchSize,
			FlushInterval: config.FlushInterval,
			ProcessFunc:   m.events.SaveBatch,
			Clock:         config.Watch.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event queue: %w", err)
		}
		m.queue = changeQueue
	}

	return m, nil
}

// Start starts the watcher and, when journaling, the event queue
func (m *GazeWatcherManager) Start() error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	if m.isRunning {
		return fmt.Errorf("watcher manager is already running")
	}

	m.sessionMu.Lock()
	m.session = models.NewSession(m.config.Watch.Cwd, m.config.Patterns, string(m.config.Watch.Mode))
	m.sessionMu.Unlock()
	m.logger = logger.WithWatcherID(m.session.ID).Named("manager")

	if m.queue != nil {
		m.queue.Start()
	}

	opts := m.config.Watch
	opts.OnEvent = m.gazeHandleEvent
	w, err := local.New(m.config.Patterns, opts)
	if err != nil {
		if m.queue != nil {
			_ = m.queue.Stop()
		}
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	m.watcher = w

	m.sessionMu.Lock()
	m.session.Cwd = w.Cwd()
	m.session.Patterns = w.Patterns()
	m.sessionMu.Unlock()
	m.gazeSaveSession()

	m.isRunning = true
	m.logger.Info("Gaze watcher manager started",
		zap.Strings("patterns", w.Patterns()),
		zap.String("cwd", w.Cwd()),
		zap.Bool("journal", m.queue != nil),
	)

	return nil
}

// Stop closes the watcher, waits for its last event and flushes the journal
func (m *GazeWatcherManager) Stop() error {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()

	if !m.isRunning {
		return nil
	}

	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Failed to close watcher", zap.Error(err))
	}
	<-m.watcher.Done()

	if m.queue != nil {
		if err := m.queue.Stop(); err != nil {
			m.logger.Error("Failed to stop event queue", zap.Error(err))
		}
	}

	m.sessionMu.Lock()
	m.session.Stop()
	m.sessionMu.Unlock()
	m.gazeSaveSession()

	if m.events != nil && m.config.Retain > 0 {
		pruned, err := m.events.Prune(m.config.Retain)
		if err != nil {
			m.logger.Error("Failed to prune journal", zap.Error(err))
		} else if pruned > 0 {
			m.logger.Debug("Pruned journal", zap.Int("pruned", pruned))
		}
	}

	m.isRunning = false
	m.logger.Info("Gaze watcher manager stopped")

	return nil
}

// Add extends the watched patterns
func (m *GazeWatcherManager) Add(patterns ...string) error {
	w, err := m.gazeRunning()
	if err != nil {
		return err
	}
	return w.Add(patterns...)
}

// Remove stops watching path
func (m *GazeWatcherManager) Remove(path string) error {
	w, err := m.gazeRunning()
	if err != nil {
		return err
	}
	return w.Remove(path)
}

// Ready is closed once the watcher finished its initial scan
func (m *GazeWatcherManager) Ready() <-chan struct{} {
	w, err := m.gazeRunning()
	if err != nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.Ready()
}

// Watched returns the watched tree relative to the watcher's cwd
func (m *GazeWatcherManager) Watched(unixify bool) map[string][]string {
	w, err := m.gazeRunning()
	if err != nil {
		return map[string][]string{}
	}
	return w.Relative(unixify)
}

// IsRunning returns whether the manager is running
func (m *GazeWatcherManager) IsRunning() bool {
	m.runningMu.RLock()
	defer m.runningMu.RUnlock()
	return m.isRunning
}

// GetStats returns statistics about the watcher manager
func (m *GazeWatcherManager) GetStats() Stats {
	stats := Stats{
		IsRunning: m.IsRunning(),
		Watched:   m.Watched(false),
	}

	m.sessionMu.Lock()
	if m.session != nil {
		stats.Session = m.session.Clone()
	}
	m.sessionMu.Unlock()

	if m.queue != nil {
		qs := m.queue.Stats()
		stats.Queue = &qs
	}
	return stats
}

func (m *GazeWatcherManager) gazeRunning() (*local.GazeWatcher, error) {
	m.runningMu.RLock()
	defer m.runningMu.RUnlock()

	if !m.isRunning {
		return nil, fmt.Errorf("watcher manager is not running")
	}
	return m.watcher, nil
}

// gazeHandleEvent journals file and error events and forwards everything
// but end to the handler
func (m *GazeWatcherManager) gazeHandleEvent(ev *models.Event) {
	switch {
	case ev.Kind == models.EventEnd:
		return
	case ev.Kind == models.EventError:
		m.logger.Warn("File watcher error", zap.Error(ev.Err))
		m.gazeRecord(ev)
	case ev.Kind.IsFileEvent():
		m.gazeRecord(ev)
	}

	if m.config.Handler != nil {
		m.config.Handler(ev)
	}
}

// gazeRecord counts ev and queues it for the journal
func (m *GazeWatcherManager) gazeRecord(ev *models.Event) {
	m.sessionMu.Lock()
	m.session.Record(ev)
	m.sessionMu.Unlock()

	if m.queue == nil {
		return
	}
	if err := m.queue.Add(ev); err != nil {
		m.logger.Error("Failed to add event to queue",
			zap.String("path", ev.Path),
			zap.Error(err),
		)
	}
}

func (m *GazeWatcherManager) gazeSaveSession() {
	if m.sessions == nil {
		return
	}

	m.sessionMu.Lock()
	s := m.session.Clone()
	m.sessionMu.Unlock()

	if err := m.sessions.Save(s); err != nil {
		m.logger.Error("Failed to save session", zap.Error(err))
	}
}
