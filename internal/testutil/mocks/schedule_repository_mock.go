package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

// MockScheduleRepository is a mock implementation of repository.ScheduleRepository
type MockScheduleRepository struct {
	mock.Mock
}

func (m *MockScheduleRepository) Get(ctx context.Context, userID, cardID string) (*models.CardScheduleState, error) {
	args := m.Called(ctx, userID, cardID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CardScheduleState), args.Error(1)
}

func (m *MockScheduleRepository) Create(ctx context.Context, state models.CardScheduleState) (bool, error) {
	args := m.Called(ctx, state)
	return args.Bool(0), args.Error(1)
}

func (m *MockScheduleRepository) Commit(ctx context.Context, c repository.ReviewCommit) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockScheduleRepository) DueCards(ctx context.Context, userID, deckID string, now time.Time, limit int) ([]models.DueCard, error) {
	args := m.Called(ctx, userID, deckID, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DueCard), args.Error(1)
}

func (m *MockScheduleRepository) ReviewsForSession(ctx context.Context, sessionID uuid.UUID) ([]models.ReviewEvent, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ReviewEvent), args.Error(1)
}

func (m *MockScheduleRepository) ReviewsForCard(ctx context.Context, userID, cardID string) ([]models.ReviewEvent, error) {
	args := m.Called(ctx, userID, cardID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ReviewEvent), args.Error(1)
}
