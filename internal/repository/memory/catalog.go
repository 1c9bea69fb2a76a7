package memory

import (
	"context"
	"fmt"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

type cardCatalog struct {
	db *DB
}

// NewCardCatalog creates a new CardCatalog implementation
func NewCardCatalog(db *DB) repository.CardCatalog {
	return &cardCatalog{db: db}
}

func (c *cardCatalog) CardExists(_ context.Context, cardID string) (bool, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	_, ok := c.db.cards[cardID]
	return ok, nil
}

func (c *cardCatalog) DeckExists(_ context.Context, deckID string) (bool, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	_, ok := c.db.decks[deckID]
	return ok, nil
}

func (c *cardCatalog) DeckCards(_ context.Context, deckID string) ([]models.Card, error) {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	ids := c.db.deckCards[deckID]
	cards := make([]models.Card, 0, len(ids))
	for _, id := range ids {
		cards = append(cards, c.db.cards[id].card)
	}
	return cards, nil
}

func (c *cardCatalog) AddDeck(_ context.Context, deck models.Deck) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if _, ok := c.db.decks[deck.ID]; ok {
		return fmt.Errorf("deck %s already exists", deck.ID)
	}
	c.db.decks[deck.ID] = deck
	return nil
}

func (c *cardCatalog) AddCard(_ context.Context, card models.Card) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if _, ok := c.db.decks[card.DeckID]; !ok {
		return fmt.Errorf("deck %s: %w", card.DeckID, errors.ErrDeckNotFound)
	}
	if _, ok := c.db.cards[card.ID]; ok {
		return fmt.Errorf("card %s already exists", card.ID)
	}
	c.db.seq++
	c.db.cards[card.ID] = cardEntry{card: card, seq: c.db.seq}
	c.db.deckCards[card.DeckID] = append(c.db.deckCards[card.DeckID], card.ID)
	return nil
}
