package repositories

import (
	"errors"

	"github.com/gazewatch/gaze/internal/database"
	"github.com/gazewatch/gaze/pkg/models"
)

// SessionKeyLast is the key of the most recent watch session
const SessionKeyLast = "session:last"

// SessionRepository manages session metadata in the database
type SessionRepository struct {
	db *database.Manager
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.Manager) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save stores s as the most recent session
func (r *SessionRepository) Save(s *models.Session) error {
	return r.db.Put(database.BucketMetadata, SessionKeyLast, s)
}

// Last returns the most recent session, or nil when none was recorded
func (r *SessionRepository) Last() (*models.Session, error) {
	var s models.Session
	err := r.db.Get(database.BucketMetadata, SessionKeyLast, &s)
	if errors.Is(err, database.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
