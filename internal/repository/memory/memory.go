// Package memory keeps decks, schedules, review events and sessions in process memory.
// It backs the memory store driver and the scheduler tests.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

type scheduleKey struct {
	userID string
	cardID string
}

type cardEntry struct {
	card models.Card
	seq  int
}

// DB is the shared backing store of the memory repositories. The mutex guards single map
// operations and the commit of one review; it is never held across caller code.
type DB struct {
	mu        sync.RWMutex
	seq       int
	decks     map[string]models.Deck
	cards     map[string]cardEntry
	deckCards map[string][]string
	states    map[scheduleKey]models.CardScheduleState
	events    []models.ReviewEvent
	sessions  map[uuid.UUID]models.StudySession
}

// NewDB returns an empty store.
func NewDB() *DB {
	return &DB{
		decks:     make(map[string]models.Deck),
		cards:     make(map[string]cardEntry),
		deckCards: make(map[string][]string),
		states:    make(map[scheduleKey]models.CardScheduleState),
		sessions:  make(map[uuid.UUID]models.StudySession),
	}
}
