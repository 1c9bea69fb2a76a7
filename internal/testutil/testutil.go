package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/db"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

// NewTestDB creates an in-memory SQLite database with all migrations applied.
// It holds a single connection, so the database lives as long as the handle and writers
// are serialised the same way as in production.
func NewTestDB(t *testing.T) *sql.DB {
	sqlDB, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(context.Background(), sqlDB))
	return sqlDB
}

// MustClose closes a resource and fails the test on error.
func MustClose(t *testing.T, closer interface{ Close() error }) {
	require.NoError(t, closer.Close())
}

// SeedDeck adds a deck with the given card ids, in order.
func SeedDeck(t *testing.T, catalog repository.CardCatalog, deckID string, cardIDs ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, catalog.AddDeck(ctx, models.Deck{ID: deckID, Name: deckID, CreatedAt: now}))
	for _, id := range cardIDs {
		require.NoError(t, catalog.AddCard(ctx, models.Card{ID: id, DeckID: deckID, CreatedAt: now}))
	}
}

// Quality returns a pointer to q.
func Quality(q int) *int { return &q }

// Millis returns a pointer to ms.
func Millis(ms int64) *int64 { return &ms }
