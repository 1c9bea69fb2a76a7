package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

type cardCatalog struct {
	db *sql.DB
}

// NewCardCatalog creates a new CardCatalog implementation
func NewCardCatalog(db *sql.DB) repository.CardCatalog {
	return &cardCatalog{db: db}
}

func (r *cardCatalog) CardExists(ctx context.Context, cardID string) (bool, error) {
	return exists(ctx, r.db, `SELECT 1 FROM cards WHERE id = ?`, cardID)
}

func (r *cardCatalog) DeckExists(ctx context.Context, deckID string) (bool, error) {
	return exists(ctx, r.db, `SELECT 1 FROM decks WHERE id = ?`, deckID)
}

func (r *cardCatalog) DeckCards(ctx context.Context, deckID string) ([]models.Card, error) {
	log := logger.FromContext(ctx).WithPrefix("catalog_repo")
	log.Debug("listing cards: deck_id=%s", deckID)

	rows, err := r.db.QueryContext(ctx, `
SELECT id, deck_id, created_at
FROM cards
WHERE deck_id = ?
ORDER BY seq ASC
`, deckID)
	if err != nil {
		log.Error("failed to list cards: %v", err)
		return nil, err
	}
	defer rows.Close()
	var cards []models.Card
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.ID, &c.DeckID, &c.CreatedAt); err != nil {
			log.Error("failed to scan card row: %v", err)
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (r *cardCatalog) AddDeck(ctx context.Context, deck models.Deck) error {
	log := logger.FromContext(ctx).WithPrefix("catalog_repo")
	log.Debug("inserting deck: id=%s", deck.ID)

	_, err := r.db.ExecContext(ctx, `INSERT INTO decks (id, name, created_at) VALUES (?, ?, ?)`,
		deck.ID, deck.Name, deck.CreatedAt.UTC())
	if err != nil {
		log.Error("failed to insert deck: %v", err)
	}
	return err
}

func (r *cardCatalog) AddCard(ctx context.Context, card models.Card) error {
	log := logger.FromContext(ctx).WithPrefix("catalog_repo")
	log.Debug("inserting card: id=%s, deck_id=%s", card.ID, card.DeckID)

	return tx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM decks WHERE id = ?`, card.DeckID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deck %s: %w", card.DeckID, apperrors.ErrDeckNotFound)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO cards (id, deck_id, created_at) VALUES (?, ?, ?)`,
			card.ID, card.DeckID, card.CreatedAt.UTC())
		if err != nil {
			log.Error("failed to insert card: %v", err)
		}
		return err
	})
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryRower, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
