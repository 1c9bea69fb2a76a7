package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/flashcard"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

type scheduleRepository struct {
	db *DB
}

// NewScheduleRepository creates a new ScheduleRepository implementation
func NewScheduleRepository(db *DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Get(_ context.Context, userID, cardID string) (*models.CardScheduleState, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	s, ok := r.db.states[scheduleKey{userID, cardID}]
	if !ok {
		return nil, nil
	}
	c := s.Clone()
	return &c, nil
}

func (r *scheduleRepository) Create(_ context.Context, state models.CardScheduleState) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.cards[state.CardID]; !ok {
		return false, fmt.Errorf("card %s: %w", state.CardID, errors.ErrCardNotFound)
	}
	key := scheduleKey{state.UserID, state.CardID}
	if _, ok := r.db.states[key]; ok {
		return false, nil
	}
	state = state.Clone()
	state.Version = 1
	r.db.states[key] = state
	return true, nil
}

func (r *scheduleRepository) Commit(_ context.Context, c repository.ReviewCommit) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if c.Event.SessionID != uuid.Nil {
		s, ok := r.db.sessions[c.Event.SessionID]
		if !ok || s.UserID != c.Event.UserID {
			return fmt.Errorf("session %s: %w", c.Event.SessionID, errors.ErrSessionNotFound)
		}
		if s.Ended() {
			return fmt.Errorf("session %s: %w", c.Event.SessionID, errors.ErrSessionClosed)
		}
	}

	key := scheduleKey{c.State.UserID, c.State.CardID}
	current, exists := r.db.states[key]
	if (!exists && c.ExpectedVersion != 0) || (exists && current.Version != c.ExpectedVersion) {
		return fmt.Errorf("card %s for user %s at version %d: %w", key.cardID, key.userID, c.ExpectedVersion, errors.ErrVersionConflict)
	}

	r.db.states[key] = c.State.Clone()
	r.db.events = append(r.db.events, c.Event.Clone())
	return nil
}

func (r *scheduleRepository) DueCards(_ context.Context, userID, deckID string, now time.Time, limit int) ([]models.DueCard, error) {
	r.db.mu.RLock()
	ids := r.db.deckCards[deckID]
	pool := make([]models.PoolCard, 0, len(ids))
	for _, id := range ids {
		pc := models.PoolCard{CardID: id}
		if s, ok := r.db.states[scheduleKey{userID, id}]; ok {
			c := s.Clone()
			pc.State = &c
		}
		pool = append(pool, pc)
	}
	r.db.mu.RUnlock()

	var due []models.DueCard
	for c := range flashcard.SelectDue(pool, now, limit) {
		due = append(due, c)
	}
	return due, nil
}

func (r *scheduleRepository) ReviewsForSession(_ context.Context, sessionID uuid.UUID) ([]models.ReviewEvent, error) {
	return r.filterEvents(func(e models.ReviewEvent) bool { return e.SessionID == sessionID }), nil
}

func (r *scheduleRepository) ReviewsForCard(_ context.Context, userID, cardID string) ([]models.ReviewEvent, error) {
	return r.filterEvents(func(e models.ReviewEvent) bool { return e.UserID == userID && e.CardID == cardID }), nil
}

func (r *scheduleRepository) filterEvents(keep func(models.ReviewEvent) bool) []models.ReviewEvent {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []models.ReviewEvent
	for _, e := range r.db.events {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}
