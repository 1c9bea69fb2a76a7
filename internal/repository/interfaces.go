package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

// CardCatalog is the view of the card collaborator the scheduler needs: identity and deck
// membership. Card content never passes through it.
type CardCatalog interface {
	CardExists(ctx context.Context, cardID string) (bool, error)
	DeckExists(ctx context.Context, deckID string) (bool, error)
	// DeckCards lists the cards of a deck in creation order.
	DeckCards(ctx context.Context, deckID string) ([]models.Card, error)
	AddDeck(ctx context.Context, deck models.Deck) error
	// AddCard fails with errors.ErrDeckNotFound when the deck is unknown.
	AddCard(ctx context.Context, card models.Card) error
}

// ReviewCommit is written atomically: the new state and the event that produced it.
//
// ExpectedVersion is the version the state had when it was read; 0 means no row existed.
// State.Version must be ExpectedVersion+1. When the stored version differs the commit
// fails with errors.ErrVersionConflict and nothing is written. When Event.SessionID is set
// the session must exist, belong to the same user and still be open, checked in the same
// transaction.
type ReviewCommit struct {
	ExpectedVersion int64
	State           models.CardScheduleState
	Event           models.ReviewEvent
}

// ScheduleRepository persists card schedule states and the review event log.
type ScheduleRepository interface {
	// Get returns nil, nil when the user has no state for the card.
	Get(ctx context.Context, userID, cardID string) (*models.CardScheduleState, error)
	// Create inserts a default state at version 1. It reports false when one already exists.
	Create(ctx context.Context, state models.CardScheduleState) (bool, error)
	Commit(ctx context.Context, c ReviewCommit) error
	// DueCards returns never-studied cards first, then due cards by next review ascending,
	// ties by card creation order.
	DueCards(ctx context.Context, userID, deckID string, now time.Time, limit int) ([]models.DueCard, error)
	// ReviewsForSession returns the events of a session in commit order.
	ReviewsForSession(ctx context.Context, sessionID uuid.UUID) ([]models.ReviewEvent, error)
	// ReviewsForCard returns the event history of one (user, card) in commit order.
	ReviewsForCard(ctx context.Context, userID, cardID string) ([]models.ReviewEvent, error)
}

// SessionRepository persists study sessions.
type SessionRepository interface {
	Create(ctx context.Context, s models.StudySession) error
	// Get fails with errors.ErrSessionNotFound when the id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*models.StudySession, error)
	// End sets ended_at once. A second call fails with errors.ErrSessionClosed.
	End(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.StudySession, error)
	// EndIdle ends every open session whose last activity (latest review, else start) is
	// before cutoff, and returns their ids.
	EndIdle(ctx context.Context, cutoff, endedAt time.Time) ([]uuid.UUID, error)
}
