// Package database provides the bbolt-backed event journal for gaze
package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/logger"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Database buckets
const (
	// BucketEvents stores journaled watcher events in chronological key order
	BucketEvents = "events"

	// BucketMetadata stores session information
	BucketMetadata = "metadata"
)

// ErrKeyNotFound is returned by Get when the key is absent
var ErrKeyNotFound = gazeerrors.New(gazeerrors.FileSystemError, "key not found", nil)

// Manager manages the BoltDB database connection
type Manager struct {
	DB      *bolt.DB // Exported for direct access
	path    string
	logger  *zap.Logger
	mu      sync.RWMutex
	isOpen  bool
	options *Options
}

// Options represents database options
type Options struct {
	Path     string        `json:"path"`
	FileMode uint32        `json:"file_mode"`
	Timeout  time.Duration `json:"timeout"`
	ReadOnly bool          `json:"read_only"`
	NoSync   bool          `json:"no_sync"`
}

// DefaultPath returns the journal location under the user's home directory
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gaze", "journal.db")
}

// DefaultOptions returns default database options
func DefaultOptions() *Options {
	return &Options{
		Path:     DefaultPath(),
		FileMode: 0600,
		Timeout:  1 * time.Second,
	}
}

// NewManager creates a new database manager
func NewManager(options *Options) *Manager {
	if options == nil {
		options = DefaultOptions()
	}
	if options.Path == "" {
		options.Path = DefaultPath()
	}
	if options.FileMode == 0 {
		options.FileMode = 0600
	}

	return &Manager{
		path:    options.Path,
		logger:  logger.Named("database"),
		options: options,
	}
}

// Path returns the database file path
func (m *Manager) Path() string {
	return m.path
}

// Open opens the database connection
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isOpen {
		return nil
	}

	if !m.options.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
			return gazeerrors.NewDatabaseError("failed to create database directory", err)
		}
	}

	db, err := bolt.Open(m.path, os.FileMode(m.options.FileMode), &bolt.Options{
		Timeout:  m.options.Timeout,
		ReadOnly: m.options.ReadOnly,
		NoSync:   m.options.NoSync,
	})
	if err != nil {
		return gazeerrors.NewDatabaseError("failed to open database", err)
	}

	m.DB = db
	m.isOpen = true

	if !m.options.ReadOnly {
		if err := m.initBuckets(); err != nil {
			m.DB.Close()
			m.isOpen = false
			return gazeerrors.NewDatabaseError("failed to initialize buckets", err)
		}
	}

	m.logger.Debug("Database opened", zap.String("path", m.path))
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isOpen || m.DB == nil {
		return nil
	}

	if err := m.DB.Close(); err != nil {
		return gazeerrors.NewDatabaseError("failed to close database", err)
	}

	m.isOpen = false
	m.logger.Debug("Database closed", zap.String("path", m.path))
	return nil
}

func (m *Manager) initBuckets() error {
	return m.DB.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{BucketEvents, BucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// IsOpen checks if the database is open
func (m *Manager) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOpen
}

// Transaction executes a function within a database transaction
func (m *Manager) Transaction(writable bool, fn func(*bolt.Tx) error) error {
	if !m.IsOpen() {
		return gazeerrors.NewDatabaseError("database is not open", nil)
	}

	if writable {
		return m.DB.Update(fn)
	}
	return m.DB.View(fn)
}

// Bucket returns the named bucket or an error when it is missing
func Bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}

// Put stores a JSON encoded value in a bucket
func (m *Manager) Put(bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return m.Transaction(true, func(tx *bolt.Tx) error {
		b, err := Bucket(tx, bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Get decodes the value stored under key into value
func (m *Manager) Get(bucket, key string, value interface{}) error {
	return m.Transaction(false, func(tx *bolt.Tx) error {
		b, err := Bucket(tx, bucket)
		if err != nil {
			return err
		}

		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrKeyNotFound)
		}

		return json.Unmarshal(data, value)
	})
}

// Delete removes a key from a bucket
func (m *Manager) Delete(bucket, key string) error {
	return m.Transaction(true, func(tx *bolt.Tx) error {
		b, err := Bucket(tx, bucket)
		if err != nil {
			return err
		}
		return b.Delete([]byte(key))
	})
}

// Count returns the number of items in a bucket
func (m *Manager) Count(bucket string) (int, error) {
	count := 0

	err := m.Transaction(false, func(tx *bolt.Tx) error {
		b, err := Bucket(tx, bucket)
		if err != nil {
			return err
		}
		count = b.Stats().KeyN
		return nil
	})

	return count, err
}

// Clear removes all items from a bucket
func (m *Manager) Clear(bucket string) error {
	return m.Transaction(true, func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucket))
		return err
	})
}

// Stats returns database statistics
func (m *Manager) Stats() (*bolt.Stats, error) {
	if !m.IsOpen() {
		return nil, gazeerrors.NewDatabaseError("database is not open", nil)
	}

	stats := m.DB.Stats()
	return &stats, nil
}
