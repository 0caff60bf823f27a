// Package repositories provides database repository implementations
package repositories

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/pkg/models"
	bolt "go.etcd.io/bbolt"
)

// EventFilter narrows a journal listing
type EventFilter struct {
	Kinds []models.EventKind
	Since time.Time
	Limit int // newest Limit matches; 0 means all
}

// EventRepository journals watcher events. Keys are the big-endian
// nanosecond timestamp followed by the event ID, so cursor order is
// chronological.
type EventRepository struct {
	db *database.Manager
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *database.Manager) *EventRepository {
	return &EventRepository{db: db}
}

// EventKey builds the journal key for ev
func EventKey(ev *models.Event) []byte {
	key := make([]byte, 8, 8+len(ev.ID))
	binary.BigEndian.PutUint64(key, uint64(ev.Timestamp.UnixNano()))
	return append(key, ev.ID...)
}

func timeKey(t time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return key
}

// Save journals one event
func (r *EventRepository) Save(ev *models.Event) error {
	return r.SaveBatch([]*models.Event{ev})
}

// SaveBatch journals events in one transaction
func (r *EventRepository) SaveBatch(events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.Transaction(true, func(tx *bolt.Tx) error {
		b, err := database.Bucket(tx, database.BucketEvents)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if ev.ID == "" {
				ev.ID = models.GenerateEventID()
			}
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
			}
			if err := b.Put(EventKey(ev), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns journaled events matching filter, oldest first
func (r *EventRepository) List(filter *EventFilter) ([]*models.Event, error) {
	if filter == nil {
		filter = &EventFilter{}
	}

	var events []*models.Event
	err := r.db.Transaction(false, func(tx *bolt.Tx) error {
		b, err := database.Bucket(tx, database.BucketEvents)
		if err != nil {
			return err
		}

		// walk backwards so Limit keeps the newest entries
		c := b.Cursor()
		floor := timeKey(filter.Since)
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if !filter.Since.IsZero() && bytes.Compare(k[:8], floor) < 0 {
				break
			}

			var ev models.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("failed to decode event %x: %w", k, err)
			}
			if !r.matchesFilter(&ev, filter) {
				continue
			}

			events = append(events, &ev)
			if filter.Limit > 0 && len(events) >= filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (r *EventRepository) matchesFilter(ev *models.Event, filter *EventFilter) bool {
	if len(filter.Kinds) == 0 {
		return true
	}
	for _, kind := range filter.Kinds {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// Count returns the number of journaled events
func (r *EventRepository) Count() (int, error) {
	return r.db.Count(database.BucketEvents)
}

// Prune deletes all but the newest retain events and returns how many went
func (r *EventRepository) Prune(retain int) (int, error) {
	if retain < 0 {
		return 0, fmt.Errorf("retain must not be negative")
	}

	pruned := 0
	err := r.db.Transaction(true, func(tx *bolt.Tx) error {
		b, err := database.Bucket(tx, database.BucketEvents)
		if err != nil {
			return err
		}

		excess := b.Stats().KeyN - retain
		if excess <= 0 {
			return nil
		}

		// collect first: deleting under a live cursor skips keys
		keys := make([][]byte, 0, excess)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		pruned = len(keys)
		return nil
	})

	return pruned, err
}

// Clear removes every journaled event
func (r *EventRepository) Clear() error {
	return r.db.Clear(database.BucketEvents)
}
