package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

type cardCatalog struct {
	db DB
}

// NewCardCatalog creates a new CardCatalog implementation
func NewCardCatalog(db DB) repository.CardCatalog {
	return &cardCatalog{db: db}
}

func (r *cardCatalog) CardExists(ctx context.Context, cardID string) (bool, error) {
	return exists(ctx, r.db, `SELECT 1 FROM cards WHERE id = $1`, cardID)
}

func (r *cardCatalog) DeckExists(ctx context.Context, deckID string) (bool, error) {
	return exists(ctx, r.db, `SELECT 1 FROM decks WHERE id = $1`, deckID)
}

func (r *cardCatalog) DeckCards(ctx context.Context, deckID string) ([]models.Card, error) {
	log := logger.FromContext(ctx).WithPrefix("catalog_repo")

	rows, err := r.db.Query(ctx, `SELECT id, deck_id, created_at FROM cards WHERE deck_id = $1 ORDER BY seq ASC`, deckID)
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
	_, err := r.db.Exec(ctx, `INSERT INTO decks (id, name, created_at) VALUES ($1, $2, $3)`, deck.ID, deck.Name, deck.CreatedAt.UTC())
	if err != nil {
		logger.FromContext(ctx).WithPrefix("catalog_repo").Error("failed to insert deck: %v", err)
	}
	return err
}

func (r *cardCatalog) AddCard(ctx context.Context, card models.Card) error {
	return tx(ctx, r.db, func(tx pgx.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM decks WHERE id = $1`, card.DeckID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deck %s: %w", card.DeckID, apperrors.ErrDeckNotFound)
		}
		_, err = tx.Exec(ctx, `INSERT INTO cards (id, deck_id, created_at) VALUES ($1, $2, $3)`, card.ID, card.DeckID, card.CreatedAt.UTC())
		return err
	})
}
