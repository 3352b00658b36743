package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lessonmarket/checkout-service/internal/checkout"
	"github.com/sirupsen/logrus"
)

// SessionRegistry holds the live checkout sessions of this instance
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*checkout.Session
	logger   *logrus.Logger
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(logger *logrus.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uuid.UUID]*checkout.Session),
		logger:   logger,
	}
}

// Add registers a session
func (r *SessionRegistry) Add(session *checkout.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID()] = session
}

// Get returns the session owned by userID. Another student's session reads
// as not found.
func (r *SessionRegistry) Get(id, userID uuid.UUID) (*checkout.Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || session.UserID() != userID {
		return nil, checkout.ErrSessionNotFound
	}
	return session, nil
}

// Remove drops a session
func (r *SessionRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepIdle removes sessions untouched for longer than ttl. A session in the
// middle of a checkout is kept.
func (r *SessionRegistry) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if session.Processing() || session.LastTouched().After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		removed++
	}

	if removed > 0 {
		r.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(r.sessions),
		}).Info("Swept idle checkout sessions")
	}
	return removed
}
