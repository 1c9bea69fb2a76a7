package services

import (
	"context"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

// DeckService registers decks and card identities owned by the content collaborator.
type DeckService interface {
	CreateDeck(ctx context.Context, deckID, name string) (*models.Deck, error)
	AddCard(ctx context.Context, deckID, cardID string) (*models.Card, error)
	ListCards(ctx context.Context, deckID string) ([]models.Card, error)
}

type deckService struct {
	catalog repository.CardCatalog
	now     func() time.Time
}

// NewDeckService creates a new DeckService
func NewDeckService(catalog repository.CardCatalog) DeckService {
	return &deckService{catalog: catalog, now: time.Now}
}

func (s *deckService) CreateDeck(ctx context.Context, deckID, name string) (*models.Deck, error) {
	if deckID == "" {
		return nil, errors.NewValidationError("deck_id", errors.ErrRequired.Error())
	}
	ok, err := s.catalog.DeckExists(ctx, deckID)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if ok {
		return nil, errors.NewBadRequestError("deck already exists: " + deckID)
	}

	deck := models.Deck{ID: deckID, Name: name, CreatedAt: s.now().UTC()}
	if err := s.catalog.AddDeck(ctx, deck); err != nil {
		logger.FromContext(ctx).Error("failed to create deck: %v", err)
		return nil, errors.NewInternalError(err)
	}
	return &deck, nil
}

func (s *deckService) AddCard(ctx context.Context, deckID, cardID string) (*models.Card, error) {
	if cardID == "" {
		return nil, errors.NewValidationError("card_id", errors.ErrRequired.Error())
	}
	ok, err := s.catalog.CardExists(ctx, cardID)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if ok {
		return nil, errors.NewBadRequestError("card already exists: " + cardID)
	}

	card := models.Card{ID: cardID, DeckID: deckID, CreatedAt: s.now().UTC()}
	if err := s.catalog.AddCard(ctx, card); err != nil {
		return nil, errors.FromError(err)
	}
	return &card, nil
}

func (s *deckService) ListCards(ctx context.Context, deckID string) ([]models.Card, error) {
	ok, err := s.catalog.DeckExists(ctx, deckID)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if !ok {
		return nil, errors.NewNotFoundError("deck", deckID)
	}
	cards, err := s.catalog.DeckCards(ctx, deckID)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	return cards, nil
}
