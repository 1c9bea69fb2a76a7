package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

type sessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository implementation
func NewSessionRepository(db *DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(_ context.Context, s models.StudySession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.decks[s.DeckID]; !ok {
		return fmt.Errorf("deck %s: %w", s.DeckID, errors.ErrDeckNotFound)
	}
	if _, ok := r.db.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	r.db.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *sessionRepository) Get(_ context.Context, id uuid.UUID) (*models.StudySession, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	s, ok := r.db.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errors.ErrSessionNotFound)
	}
	c := cloneSession(s)
	return &c, nil
}

func (r *sessionRepository) End(_ context.Context, id uuid.UUID, endedAt time.Time) (*models.StudySession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, errors.ErrSessionNotFound)
	}
	if s.Ended() {
		return nil, fmt.Errorf("session %s: %w", id, errors.ErrSessionClosed)
	}
	ended := endedAt.UTC()
	s.EndedAt = &ended
	r.db.sessions[id] = s
	c := cloneSession(s)
	return &c, nil
}

func (r *sessionRepository) EndIdle(_ context.Context, cutoff, endedAt time.Time) ([]uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	lastActivity := make(map[uuid.UUID]time.Time)
	for _, e := range r.db.events {
		if e.SessionID == uuid.Nil {
			continue
		}
		if e.OccurredAt.After(lastActivity[e.SessionID]) {
			lastActivity[e.SessionID] = e.OccurredAt
		}
	}

	var ended []uuid.UUID
	for id, s := range r.db.sessions {
		if s.Ended() {
			continue
		}
		last := s.StartedAt
		if t, ok := lastActivity[id]; ok && t.After(last) {
			last = t
		}
		if !last.Before(cutoff) {
			continue
		}
		at := endedAt.UTC()
		s.EndedAt = &at
		r.db.sessions[id] = s
		ended = append(ended, id)
	}
	return ended, nil
}

func cloneSession(s models.StudySession) models.StudySession {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}
