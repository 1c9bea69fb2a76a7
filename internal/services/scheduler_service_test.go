package services_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository/memory"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/scheduler"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/services"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/testutil"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/testutil/mocks"
)

func requireAppError(t *testing.T, err error, code string, status int) {
	t.Helper()
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr), "expected *AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
	assert.Equal(t, status, appErr.Status)
}

type SchedulerServiceSuite struct {
	suite.Suite
	clock     time.Time
	schedules repository.ScheduleRepository
	service   services.SchedulerService
}

func (s *SchedulerServiceSuite) SetupTest() {
	s.clock = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return s.clock }

	db := memory.NewDB()
	catalog := memory.NewCardCatalog(db)
	s.schedules = memory.NewScheduleRepository(db)
	sessions := memory.NewSessionRepository(db)
	testutil.SeedDeck(s.T(), catalog, "d1", "A", "B", "C")

	store := scheduler.NewStore(catalog, s.schedules, scheduler.Options{Now: now})
	s.service = services.NewSchedulerService(store, catalog, s.schedules, sessions, services.SchedulerOptions{
		DueDefaultLimit: 2,
		Now:             now,
	})
}

func (s *SchedulerServiceSuite) TestSubmitReview() {
	ctx := context.Background()

	result, err := s.service.SubmitReview(ctx, "u1", "A", uuid.Nil, testutil.Quality(5), nil)
	s.Require().NoError(err)
	s.Equal("A", result.CardID)
	s.Equal(1, result.IntervalDays)
	s.Equal(1, result.RepetitionCount)
	s.InDelta(2.6, result.EasinessFactor, 1e-9)
	s.Require().NotNil(result.NextReview)
	s.Equal(s.clock.AddDate(0, 0, 1), *result.NextReview)
}

func (s *SchedulerServiceSuite) TestSubmitReview_Errors() {
	ctx := context.Background()

	_, err := s.service.SubmitReview(ctx, "u1", "A", uuid.Nil, testutil.Quality(7), nil)
	requireAppError(s.T(), err, errors.ErrCodeValidation, http.StatusBadRequest)

	_, err = s.service.SubmitReview(ctx, "u1", "A", uuid.Nil, testutil.Quality(3), testutil.Millis(-1))
	requireAppError(s.T(), err, errors.ErrCodeValidation, http.StatusBadRequest)

	_, err = s.service.SubmitReview(ctx, "u1", "Z", uuid.Nil, testutil.Quality(3), nil)
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)

	_, err = s.service.SubmitReview(ctx, "u1", "A", uuid.New(), testutil.Quality(3), nil)
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)
}

func (s *SchedulerServiceSuite) TestSessionLifecycle() {
	ctx := context.Background()

	sess, err := s.service.StartSession(ctx, "u1", "d1")
	s.Require().NoError(err)
	s.Equal(s.clock, sess.StartedAt)

	for _, r := range []struct {
		card string
		q    int
		ms   int64
	}{{"A", 5, 1200}, {"B", 1, 3000}, {"C", 3, 800}} {
		_, err := s.service.SubmitReview(ctx, "u1", r.card, sess.ID, testutil.Quality(r.q), testutil.Millis(r.ms))
		s.Require().NoError(err)
	}

	_, err = s.service.SubmitReview(ctx, "u2", "A", sess.ID, testutil.Quality(4), nil)
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)

	live, err := s.service.SessionStats(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(3, live.CardsStudied)
	s.Nil(live.EndedAt)

	s.clock = s.clock.Add(10 * time.Minute)
	summary, err := s.service.EndSession(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(3, summary.CardsStudied)
	s.Equal(2, summary.CorrectCount)
	s.InDelta(2.0/3.0, summary.Accuracy, 1e-9)
	s.Equal(int64(5000), summary.TotalTimeMs)
	s.Require().NotNil(summary.EndedAt)
	s.Equal(s.clock, *summary.EndedAt)

	_, err = s.service.EndSession(ctx, sess.ID)
	requireAppError(s.T(), err, errors.ErrCodeSessionClosed, http.StatusConflict)

	_, err = s.service.SubmitReview(ctx, "u1", "A", sess.ID, testutil.Quality(4), nil)
	requireAppError(s.T(), err, errors.ErrCodeSessionClosed, http.StatusConflict)
	_, err = s.service.SubmitReview(ctx, "u1", "A", sess.ID, testutil.Quality(9), nil)
	requireAppError(s.T(), err, errors.ErrCodeValidation, http.StatusBadRequest)
}

func (s *SchedulerServiceSuite) TestEndSession_NoReviews() {
	ctx := context.Background()

	sess, err := s.service.StartSession(ctx, "u1", "d1")
	s.Require().NoError(err)

	summary, err := s.service.EndSession(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(0, summary.CardsStudied)
	s.Equal(0.0, summary.Accuracy)
}

func (s *SchedulerServiceSuite) TestStartSession_Errors() {
	ctx := context.Background()

	_, err := s.service.StartSession(ctx, "u1", "nope")
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)

	_, err = s.service.StartSession(ctx, "", "d1")
	requireAppError(s.T(), err, errors.ErrCodeValidation, http.StatusBadRequest)

	_, err = s.service.EndSession(ctx, uuid.New())
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)
}

func (s *SchedulerServiceSuite) TestGetDueCards() {
	ctx := context.Background()

	_, err := s.service.SubmitReview(ctx, "u1", "A", uuid.Nil, testutil.Quality(4), nil)
	s.Require().NoError(err)

	due, err := s.service.GetDueCards(ctx, "u1", "d1", 0)
	s.Require().NoError(err)
	s.Require().Len(due, 2, "default limit applies")
	s.Equal("B", due[0].CardID)
	s.Equal("C", due[1].CardID)
	s.Nil(due[0].NextReview)
	s.Equal(2.5, due[0].EasinessFactor)

	s.clock = s.clock.AddDate(0, 0, 1)
	due, err = s.service.GetDueCards(ctx, "u1", "d1", 10)
	s.Require().NoError(err)
	s.Require().Len(due, 3)
	s.Equal("A", due[2].CardID, "studied cards follow never-studied ones")

	_, err = s.service.GetDueCards(ctx, "u1", "d1", -1)
	requireAppError(s.T(), err, errors.ErrCodeValidation, http.StatusBadRequest)
	_, err = s.service.GetDueCards(ctx, "u1", "nope", 1)
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)
}

func (s *SchedulerServiceSuite) TestAssignCardAndHistory() {
	ctx := context.Background()

	assigned, err := s.service.AssignCard(ctx, "u1", "C")
	s.Require().NoError(err)
	s.Equal(0, assigned.RepetitionCount)
	s.Nil(assigned.NextReview)

	for _, q := range []int{4, 2} {
		_, err := s.service.SubmitReview(ctx, "u1", "C", uuid.Nil, testutil.Quality(q), nil)
		s.Require().NoError(err)
	}

	history, err := s.service.CardHistory(ctx, "u1", "C")
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(4, history[0].Quality)
	s.Equal(0, history[1].Next.RepetitionCount)

	_, err = s.service.AssignCard(ctx, "u1", "Z")
	requireAppError(s.T(), err, errors.ErrCodeNotFound, http.StatusNotFound)
}

func TestSchedulerServiceSuite(t *testing.T) {
	suite.Run(t, new(SchedulerServiceSuite))
}

func TestSubmitReview_RetriesExhausted(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	sessions := new(mocks.MockSessionRepository)
	store := scheduler.NewStore(catalog, schedules, scheduler.Options{Mode: scheduler.Optimistic})
	service := services.NewSchedulerService(store, catalog, schedules, sessions, services.SchedulerOptions{})

	catalog.On("CardExists", mock.Anything, "A").Return(true, nil)
	schedules.On("Get", mock.Anything, "u1", "A").Return(nil, nil)
	schedules.On("Commit", mock.Anything, mock.Anything).Return(errors.ErrVersionConflict)

	_, err := service.SubmitReview(context.Background(), "u1", "A", uuid.Nil, testutil.Quality(4), nil)
	requireAppError(t, err, errors.ErrCodeConcurrentModification, http.StatusConflict)
	sessions.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestSubmitReview_ValidatesBeforeSessionLookup(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	sessions := new(mocks.MockSessionRepository)
	service := services.NewSchedulerService(scheduler.NewStore(catalog, schedules, scheduler.Options{}), catalog, schedules, sessions, services.SchedulerOptions{})

	_, err := service.SubmitReview(context.Background(), "u1", "A", uuid.New(), testutil.Quality(-1), nil)
	requireAppError(t, err, errors.ErrCodeValidation, http.StatusBadRequest)

	_, err = service.SubmitReview(context.Background(), "u1", "A", uuid.New(), nil, nil)
	requireAppError(t, err, errors.ErrCodeValidation, http.StatusBadRequest)

	sessions.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	catalog.AssertNotCalled(t, "CardExists", mock.Anything, mock.Anything)
}

func TestSessionStats_StorageFailure(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	sessions := new(mocks.MockSessionRepository)
	service := services.NewSchedulerService(scheduler.NewStore(catalog, schedules, scheduler.Options{}), catalog, schedules, sessions, services.SchedulerOptions{})

	id := uuid.New()
	sessions.On("Get", mock.Anything, id).Return(&models.StudySession{ID: id, UserID: "u1", DeckID: "d1"}, nil)
	schedules.On("ReviewsForSession", mock.Anything, id).Return(nil, errors.New("connection refused"))

	_, err := service.SessionStats(context.Background(), id)
	requireAppError(t, err, errors.ErrCodeInternal, http.StatusInternalServerError)
}
