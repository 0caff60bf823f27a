// Package queue batches watcher events on their way to a slow consumer
// such as the journal.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gazewatch/gaze/pkg/logger"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ProcessFunc consumes one batch. A failed batch is put back at the head of
// the queue and retried on the next flush.
type ProcessFunc func([]*models.Event) error

// QueueConfig contains configuration for the event queue
type QueueConfig struct {
	MaxSize       int           // Maximum number of pending events
	BatchSize     int           // Events handed to ProcessFunc at once
	FlushInterval time.Duration // Interval to flush pending events
	ProcessFunc   ProcessFunc
	Clock         clockwork.Clock
	Logger        *zap.Logger
}

// Stats is a snapshot of the queue
type Stats struct {
	Pending   int                      `json:"pending" yaml:"pending"`
	Processed int                      `json:"processed" yaml:"processed"`
	Dropped   int                      `json:"dropped" yaml:"dropped"`
	Failures  int                      `json:"failures" yaml:"failures"`
	ByKind    map[models.EventKind]int `json:"by_kind,omitempty" yaml:"by_kind,omitempty"`
}

// EventQueue keeps events in arrival order and hands them to ProcessFunc in
// batches, when a batch fills up or on every flush tick.
type EventQueue struct {
	items   []*models.Event
	stats   Stats
	itemsMu sync.Mutex

	// processMu serialises ProcessFunc calls
	processMu sync.Mutex

	maxSize       int
	batchSize     int
	flushInterval time.Duration
	processFunc   ProcessFunc
	clock         clockwork.Clock
	kick          chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventQueue creates a new event queue
func NewEventQueue(config QueueConfig) (*EventQueue, error) {
	if config.ProcessFunc == nil {
		return nil, fmt.Errorf("event queue needs a process function")
	}
	if config.MaxSize == 0 {
		config.MaxSize = 10000
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = time.Second
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = logger.Named("queue")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventQueue{
		stats:         Stats{ByKind: make(map[models.EventKind]int)},
		maxSize:       config.MaxSize,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		processFunc:   config.ProcessFunc,
		clock:         config.Clock,
		kick:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		logger:        config.Logger,
	}, nil
}

// Start begins processing the queue
func (q *EventQueue) Start() {
	q.wg.Add(1)
	go q.gazeProcessor()

	q.logger.Debug("Event queue started",
		zap.Int("max_size", q.maxSize),
		zap.Int("batch_size", q.batchSize),
		zap.Duration("flush_interval", q.flushInterval),
	)
}

// Stop stops the processor and flushes what is left
func (q *EventQueue) Stop() error {
	q.cancel()
	q.wg.Wait()

	if err := q.Flush(); err != nil {
		return fmt.Errorf("failed to flush queue on shutdown: %w", err)
	}

	q.logger.Debug("Event queue stopped")
	return nil
}

// Add appends an event. It fails when the queue is at capacity.
func (q *EventQueue) Add(ev *models.Event) error {
	q.itemsMu.Lock()
	if len(q.items) >= q.maxSize {
		q.stats.Dropped++
		q.itemsMu.Unlock()
		return fmt.Errorf("queue is at maximum capacity (%d items)", q.maxSize)
	}
	q.items = append(q.items, ev)
	q.stats.ByKind[ev.Kind]++
	full := len(q.items) >= q.batchSize
	q.itemsMu.Unlock()

	if full {
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush hands every pending event to ProcessFunc, batch by batch, and stops
// at the first failure.
func (q *EventQueue) Flush() error {
	for {
		n, err := q.gazeProcessBatch()
		if err != nil || n == 0 {
			return err
		}
	}
}

// Pending returns the number of events waiting
func (q *EventQueue) Pending() int {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of the queue counters
func (q *EventQueue) Stats() Stats {
	q.itemsMu.Lock()
	defer q.itemsMu.Unlock()

	s := q.stats
	s.Pending = len(q.items)
	s.ByKind = make(map[models.EventKind]int, len(q.stats.ByKind))
	for k, v := range q.stats.ByKind {
		s.ByKind[k] = v
	}
	return s
}

// Clear drops every pending event
func (q *EventQueue) Clear() {
	q.itemsMu.Lock()
	q.stats.Dropped += len(q.items)
	q.items = nil
	q.itemsMu.Unlock()
}

func (q *EventQueue) gazeProcessor() {
	defer q.wg.Done()

	ticker := q.clock.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.Chan():
			q.gazeFlushLogged()
		case <-q.kick:
			q.gazeFlushLogged()
		}
	}
}

func (q *EventQueue) gazeFlushLogged() {
	if err := q.Flush(); err != nil {
		q.logger.Error("Failed to process batch", zap.Error(err))
	}
}

// gazeProcessBatch processes at most one batch and reports its size
func (q *EventQueue) gazeProcessBatch() (int, error) {
	q.processMu.Lock()
	defer q.processMu.Unlock()

	q.itemsMu.Lock()
	n := len(q.items)
	if n > q.batchSize {
		n = q.batchSize
	}
	batch := make([]*models.Event, n)
	copy(batch, q.items)
	q.items = q.items[n:]
	q.itemsMu.Unlock()

	if n == 0 {
		return 0, nil
	}

	q.logger.Debug("Processing batch", zap.Int("batch_size", n))

	if err := q.processFunc(batch); err != nil {
		// Re-add failed items at the head of the queue
		q.itemsMu.Lock()
		q.items = append(batch, q.items...)
		q.stats.Failures++
		q.itemsMu.Unlock()
		return 0, err
	}

	q.itemsMu.Lock()
	q.stats.Processed += n
	q.itemsMu.Unlock()
	return n, nil
}
