// Package session folds the review events of a study session into its summary.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/flashcard"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

// Aggregator accumulates the counters of one session. It is safe for concurrent use.
// Close is terminal: afterwards both OnReviewEvent and Close fail with errors.ErrSessionClosed.
type Aggregator struct {
	mu           sync.Mutex
	sessionID    uuid.UUID
	startedAt    time.Time
	endedAt      *time.Time
	cardsStudied int
	correctCount int
	totalTimeMs  int64
}

// NewAggregator starts an open aggregator for s. An already ended session yields a closed one.
func NewAggregator(s models.StudySession) *Aggregator {
	a := &Aggregator{
		sessionID: s.ID,
		startedAt: s.StartedAt,
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		a.endedAt = &ended
	}
	return a
}

// OnReviewEvent counts one review. Events of other sessions are rejected.
func (a *Aggregator) OnReviewEvent(e models.ReviewEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.endedAt != nil {
		return fmt.Errorf("session %s: %w", a.sessionID, errors.ErrSessionClosed)
	}
	if e.SessionID != a.sessionID {
		return fmt.Errorf("review %s belongs to session %s, not %s", e.ID, e.SessionID, a.sessionID)
	}

	a.cardsStudied++
	if flashcard.Passed(e.Quality) {
		a.correctCount++
	}
	if e.TimeTakenMs != nil {
		a.totalTimeMs += *e.TimeTakenMs
	}
	return nil
}

// Close ends the session at now and returns the final summary.
func (a *Aggregator) Close(now time.Time) (models.SessionSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.endedAt != nil {
		return models.SessionSummary{}, fmt.Errorf("session %s: %w", a.sessionID, errors.ErrSessionClosed)
	}
	ended := now.UTC()
	a.endedAt = &ended
	return a.summaryLocked(), nil
}

// Snapshot returns the current summary without closing the session.
func (a *Aggregator) Snapshot() models.SessionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked()
}

// Closed reports whether Close has succeeded.
func (a *Aggregator) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endedAt != nil
}

func (a *Aggregator) summaryLocked() models.SessionSummary {
	s := models.SessionSummary{
		SessionID:    a.sessionID,
		CardsStudied: a.cardsStudied,
		CorrectCount: a.correctCount,
		Accuracy:     Accuracy(a.correctCount, a.cardsStudied),
		TotalTimeMs:  a.totalTimeMs,
		StartedAt:    a.startedAt,
	}
	if a.endedAt != nil {
		ended := *a.endedAt
		s.EndedAt = &ended
	}
	return s
}

// Accuracy is correct/studied, or 0 when nothing was studied.
func Accuracy(correct, studied int) float64 {
	if studied == 0 {
		return 0
	}
	return float64(correct) / float64(studied)
}

// Summarize replays events of an already persisted session. The result is closed when s has ended.
func Summarize(s models.StudySession, events []models.ReviewEvent) (models.SessionSummary, error) {
	open := s
	open.EndedAt = nil
	a := NewAggregator(open)
	for _, e := range events {
		if err := a.OnReviewEvent(e); err != nil {
			return models.SessionSummary{}, err
		}
	}
	if s.EndedAt == nil {
		return a.Snapshot(), nil
	}
	return a.Close(*s.EndedAt)
}
