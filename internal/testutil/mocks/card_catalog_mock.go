package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
)

// MockCardCatalog is a mock implementation of repository.CardCatalog
type MockCardCatalog struct {
	mock.Mock
}

func (m *MockCardCatalog) CardExists(ctx context.Context, cardID string) (bool, error) {
	args := m.Called(ctx, cardID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCardCatalog) DeckExists(ctx context.Context, deckID string) (bool, error) {
	args := m.Called(ctx, deckID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCardCatalog) DeckCards(ctx context.Context, deckID string) ([]models.Card, error) {
	args := m.Called(ctx, deckID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Card), args.Error(1)
}

func (m *MockCardCatalog) AddDeck(ctx context.Context, deck models.Deck) error {
	args := m.Called(ctx, deck)
	return args.Error(0)
}

func (m *MockCardCatalog) AddCard(ctx context.Context, card models.Card) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}
