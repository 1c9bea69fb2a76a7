package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/flashcard"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/scheduler"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/session"
)

// SchedulerService handles review submission, due-card queries and study sessions.
// Every returned error is an *errors.AppError.
type SchedulerService interface {
	SubmitReview(ctx context.Context, userID, cardID string, sessionID uuid.UUID, quality *int, timeTakenMs *int64) (*models.ReviewResult, error)
	GetDueCards(ctx context.Context, userID, deckID string, limit int) ([]models.ReviewResult, error)
	StartSession(ctx context.Context, userID, deckID string) (*models.StudySession, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) (*models.SessionSummary, error)
	SessionStats(ctx context.Context, sessionID uuid.UUID) (*models.SessionSummary, error)
	AssignCard(ctx context.Context, userID, cardID string) (*models.ReviewResult, error)
	CardHistory(ctx context.Context, userID, cardID string) ([]models.ReviewEvent, error)
}

// SchedulerOptions tunes a SchedulerService. Zero values pick the defaults.
type SchedulerOptions struct {
	DueDefaultLimit int
	Now             func() time.Time
	NewID           func() uuid.UUID
}

const defaultDueLimit = 20

type schedulerService struct {
	store     *scheduler.Store
	catalog   repository.CardCatalog
	schedules repository.ScheduleRepository
	sessions  repository.SessionRepository
	dueLimit  int
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewSchedulerService creates a new SchedulerService
func NewSchedulerService(
	store *scheduler.Store,
	catalog repository.CardCatalog,
	schedules repository.ScheduleRepository,
	sessions repository.SessionRepository,
	opts SchedulerOptions,
) SchedulerService {
	if opts.DueDefaultLimit <= 0 {
		opts.DueDefaultLimit = defaultDueLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	return &schedulerService{
		store:     store,
		catalog:   catalog,
		schedules: schedules,
		sessions:  sessions,
		dueLimit:  opts.DueDefaultLimit,
		now:       opts.Now,
		newID:     opts.NewID,
	}
}

func (s *schedulerService) SubmitReview(ctx context.Context, userID, cardID string, sessionID uuid.UUID, quality *int, timeTakenMs *int64) (*models.ReviewResult, error) {
	log := logger.FromContext(ctx)
	log.Debug("submitting review: user_id=%s, card_id=%s, session_id=%s", userID, cardID, sessionID)

	if _, err := flashcard.ValidateReview(quality, timeTakenMs); err != nil {
		return nil, errors.FromError(err)
	}
	if sessionID != uuid.Nil {
		if err := s.requireOpenSession(ctx, userID, sessionID); err != nil {
			return nil, err
		}
	}

	event, err := s.store.ApplyReview(ctx, scheduler.ReviewRequest{
		UserID:      userID,
		CardID:      cardID,
		SessionID:   sessionID,
		Quality:     quality,
		TimeTakenMs: timeTakenMs,
	})
	if err != nil {
		appErr := errors.FromError(err)
		if appErr.Code == errors.ErrCodeInternal {
			log.Error("failed to apply review: %v", err)
		}
		return nil, appErr
	}

	log.Debug("review applied, new interval=%d days, easiness=%.2f", event.Next.IntervalDays, event.Next.EasinessFactor)
	return &models.ReviewResult{
		CardID:          event.CardID,
		NextReview:      event.Next.NextReviewAt,
		IntervalDays:    event.Next.IntervalDays,
		EasinessFactor:  event.Next.EasinessFactor,
		RepetitionCount: event.Next.RepetitionCount,
	}, nil
}

// requireOpenSession rejects a review early. The commit repeats the check atomically.
func (s *schedulerService) requireOpenSession(ctx context.Context, userID string, sessionID uuid.UUID) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return errors.FromError(err)
	}
	if sess.UserID != userID {
		return errors.NewNotFoundError("session", sessionID)
	}
	if sess.Ended() {
		return errors.NewSessionClosedError(sessionID)
	}
	return nil
}

func (s *schedulerService) GetDueCards(ctx context.Context, userID, deckID string, limit int) ([]models.ReviewResult, error) {
	log := logger.FromContext(ctx)

	if userID == "" {
		return nil, errors.NewValidationError("user_id", errors.ErrRequired.Error())
	}
	if limit < 0 {
		return nil, errors.NewValidationError("limit", "must not be negative")
	}
	if limit == 0 {
		limit = s.dueLimit
	}
	if err := s.requireDeck(ctx, deckID); err != nil {
		return nil, err
	}

	results := make([]models.ReviewResult, 0, limit)
	for card, err := range s.store.SelectDue(ctx, userID, deckID, limit) {
		if err != nil {
			log.Error("failed to select due cards: %v", err)
			return nil, errors.FromError(err)
		}
		results = append(results, dueResult(card))
	}
	log.Debug("found %d due cards: user_id=%s, deck_id=%s", len(results), userID, deckID)
	return results, nil
}

func dueResult(card models.DueCard) models.ReviewResult {
	if card.State == nil {
		d := flashcard.DefaultSchedule()
		return models.ReviewResult{
			CardID:          card.CardID,
			IntervalDays:    d.IntervalDays,
			EasinessFactor:  d.EasinessFactor,
			RepetitionCount: d.RepetitionCount,
		}
	}
	return stateResult(*card.State)
}

func stateResult(state models.CardScheduleState) models.ReviewResult {
	return models.ReviewResult{
		CardID:          state.CardID,
		NextReview:      state.NextReviewAt,
		IntervalDays:    state.IntervalDays,
		EasinessFactor:  state.EasinessFactor,
		RepetitionCount: state.RepetitionCount,
	}
}

func (s *schedulerService) StartSession(ctx context.Context, userID, deckID string) (*models.StudySession, error) {
	log := logger.FromContext(ctx)

	if userID == "" {
		return nil, errors.NewValidationError("user_id", errors.ErrRequired.Error())
	}
	if err := s.requireDeck(ctx, deckID); err != nil {
		return nil, err
	}

	sess := models.StudySession{
		ID:        s.newID(),
		UserID:    userID,
		DeckID:    deckID,
		StartedAt: s.now().UTC(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		appErr := errors.FromError(err)
		if appErr.Code == errors.ErrCodeInternal {
			log.Error("failed to create session: %v", err)
		}
		return nil, appErr
	}
	log.Info("session started: session_id=%s, user_id=%s, deck_id=%s", sess.ID, userID, deckID)
	return &sess, nil
}

func (s *schedulerService) EndSession(ctx context.Context, sessionID uuid.UUID) (*models.SessionSummary, error) {
	log := logger.FromContext(ctx)

	sess, err := s.sessions.End(ctx, sessionID, s.now().UTC())
	if err != nil {
		if errors.Is(err, errors.ErrSessionClosed) {
			return nil, errors.NewSessionClosedError(sessionID)
		}
		return nil, errors.FromError(err)
	}

	summary, err := s.summarize(ctx, *sess)
	if err != nil {
		return nil, err
	}
	log.Info("session ended: session_id=%s, cards=%d, accuracy=%.2f", sessionID, summary.CardsStudied, summary.Accuracy)
	return summary, nil
}

func (s *schedulerService) SessionStats(ctx context.Context, sessionID uuid.UUID) (*models.SessionSummary, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.FromError(err)
	}
	return s.summarize(ctx, *sess)
}

func (s *schedulerService) summarize(ctx context.Context, sess models.StudySession) (*models.SessionSummary, error) {
	events, err := s.schedules.ReviewsForSession(ctx, sess.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to load session reviews: %v", err)
		return nil, errors.NewInternalError(err)
	}
	summary, err := session.Summarize(sess, events)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	return &summary, nil
}

func (s *schedulerService) AssignCard(ctx context.Context, userID, cardID string) (*models.ReviewResult, error) {
	state, err := s.store.Assign(ctx, userID, cardID)
	if err != nil {
		return nil, errors.FromError(err)
	}
	result := stateResult(state)
	return &result, nil
}

func (s *schedulerService) CardHistory(ctx context.Context, userID, cardID string) ([]models.ReviewEvent, error) {
	if _, err := s.store.State(ctx, userID, cardID); err != nil {
		return nil, errors.FromError(err)
	}
	events, err := s.schedules.ReviewsForCard(ctx, userID, cardID)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	return events, nil
}

func (s *schedulerService) requireDeck(ctx context.Context, deckID string) error {
	if deckID == "" {
		return errors.NewValidationError("deck_id", errors.ErrRequired.Error())
	}
	ok, err := s.catalog.DeckExists(ctx, deckID)
	if err != nil {
		return errors.NewInternalError(err)
	}
	if !ok {
		return errors.NewNotFoundError("deck", deckID)
	}
	return nil
}
