package models

import (
	"time"

	"github.com/google/uuid"
)

// StudySession groups the reviews a user makes while studying one deck.
type StudySession struct {
	ID        uuid.UUID  `json:"session_id"`
	UserID    string     `json:"user_id"`
	DeckID    string     `json:"deck_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the session reached its terminal state.
func (s StudySession) Ended() bool {
	return s.EndedAt != nil
}

// SessionSummary is derived from a session's review events; it is never stored.
type SessionSummary struct {
	SessionID    uuid.UUID  `json:"session_id"`
	CardsStudied int        `json:"cards_studied"`
	CorrectCount int        `json:"correct_count"`
	Accuracy     float64    `json:"accuracy"`
	TotalTimeMs  int64      `json:"total_time_ms"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Deck and Card are the minimal collaborator records the scheduler needs: identity only.
type Deck struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Card struct {
	ID        string    `json:"id"`
	DeckID    string    `json:"deck_id"`
	CreatedAt time.Time `json:"created_at"`
}
