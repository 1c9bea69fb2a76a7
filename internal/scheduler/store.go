// Package scheduler owns every read and write of card schedule state. ApplyReview is the
// only path that mutates a CardScheduleState.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/flashcard"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

// Mode selects how concurrent reviews of the same (user, card) are serialised.
type Mode string

const (
	// Pessimistic takes an in-process lock per (user, card) around read-compute-commit.
	// The version-conditioned commit still guards against writers in other processes.
	Pessimistic Mode = "pessimistic"
	// Optimistic relies on the version-conditioned commit alone and retries on conflict.
	Optimistic Mode = "optimistic"
)

const DefaultMaxAttempts = 3

type Options struct {
	Mode        Mode
	MaxAttempts int
	Now         func() time.Time
	NewID       func() uuid.UUID
}

// ReviewRequest is an unvalidated review submission.
// SessionID is uuid.Nil for a review outside any study session.
type ReviewRequest struct {
	UserID      string
	CardID      string
	SessionID   uuid.UUID
	Quality     *int
	TimeTakenMs *int64
}

type Store struct {
	catalog   repository.CardCatalog
	schedules repository.ScheduleRepository
	mode      Mode
	attempts  int
	now       func() time.Time
	newID     func() uuid.UUID
	locks     *keyLocks
}

func NewStore(catalog repository.CardCatalog, schedules repository.ScheduleRepository, opts Options) *Store {
	if opts.Mode == "" {
		opts.Mode = Pessimistic
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	return &Store{
		catalog:   catalog,
		schedules: schedules,
		mode:      opts.Mode,
		attempts:  opts.MaxAttempts,
		now:       opts.Now,
		newID:     opts.NewID,
		locks:     newKeyLocks(),
	}
}

// ApplyReview validates req, applies one SM-2 step to the current state of (user, card) and
// commits the new state together with its review event. On error nothing is written.
//
// Cancelling ctx aborts while waiting for the key lock. Once the lock is held the commit
// runs to completion. A commit that keeps losing the version race is retried up to
// MaxAttempts times and then fails with errors.ErrConcurrentModification.
func (s *Store) ApplyReview(ctx context.Context, req ReviewRequest) (models.ReviewEvent, error) {
	log := logger.FromContext(ctx).WithPrefix("scheduler").WithFields(map[string]any{
		"user_id": req.UserID,
		"card_id": req.CardID,
	})

	review, err := flashcard.ValidateReview(req.Quality, req.TimeTakenMs)
	if err != nil {
		return models.ReviewEvent{}, err
	}
	if err := requireIDs(req.UserID, req.CardID); err != nil {
		return models.ReviewEvent{}, err
	}
	if err := s.requireCard(ctx, req.CardID); err != nil {
		return models.ReviewEvent{}, err
	}

	if s.mode == Pessimistic {
		release, err := s.locks.acquire(ctx, lockKey{req.UserID, req.CardID})
		if err != nil {
			log.Debug("gave up waiting for card lock: %v", err)
			return models.ReviewEvent{}, err
		}
		defer release()
	} else if err := ctx.Err(); err != nil {
		return models.ReviewEvent{}, err
	}

	commitCtx := context.WithoutCancel(ctx)
	for attempt := 1; attempt <= s.attempts; attempt++ {
		event, err := s.tryReview(commitCtx, req, review)
		if errors.Is(err, errors.ErrVersionConflict) {
			log.Debug("version conflict on attempt %d/%d", attempt, s.attempts)
			continue
		}
		if err != nil {
			return models.ReviewEvent{}, err
		}
		log.Debug("review committed: quality=%d, interval=%d, easiness=%.2f", event.Quality, event.Next.IntervalDays, event.Next.EasinessFactor)
		return event, nil
	}

	log.Warn("review dropped after %d conflicting attempts", s.attempts)
	return models.ReviewEvent{}, fmt.Errorf("card %s for user %s after %d attempts: %w",
		req.CardID, req.UserID, s.attempts, errors.ErrConcurrentModification)
}

func (s *Store) tryReview(ctx context.Context, req ReviewRequest, review flashcard.ValidatedReview) (models.ReviewEvent, error) {
	now := s.now().UTC()

	current, err := s.current(ctx, req.UserID, req.CardID, now)
	if err != nil {
		return models.ReviewEvent{}, err
	}

	next, err := flashcard.ApplyReview(current, review.Quality, now)
	if err != nil {
		return models.ReviewEvent{}, err
	}
	next.Version = current.Version + 1
	if err := flashcard.CheckInvariants(next); err != nil {
		return models.ReviewEvent{}, fmt.Errorf("card %s for user %s: %w", req.CardID, req.UserID, err)
	}

	event := models.ReviewEvent{
		ID:          s.newID(),
		UserID:      req.UserID,
		CardID:      req.CardID,
		SessionID:   req.SessionID,
		Quality:     review.Quality,
		TimeTakenMs: review.TimeTakenMs,
		Prior:       current.Snapshot(),
		Next:        next.Snapshot(),
		OccurredAt:  now,
	}
	err = s.schedules.Commit(ctx, repository.ReviewCommit{
		ExpectedVersion: current.Version,
		State:           next,
		Event:           event,
	})
	if err != nil {
		return models.ReviewEvent{}, err
	}
	return event, nil
}

// current reads the stored state, or the default state at version 0 when none exists.
func (s *Store) current(ctx context.Context, userID, cardID string, now time.Time) (models.CardScheduleState, error) {
	stored, err := s.schedules.Get(ctx, userID, cardID)
	if err != nil {
		return models.CardScheduleState{}, err
	}
	if stored != nil {
		return *stored, nil
	}
	return flashcard.NewScheduleState(userID, cardID, now)
}

// Assign eagerly creates the default state of (user, card). It is idempotent.
func (s *Store) Assign(ctx context.Context, userID, cardID string) (models.CardScheduleState, error) {
	if err := requireIDs(userID, cardID); err != nil {
		return models.CardScheduleState{}, err
	}
	if err := s.requireCard(ctx, cardID); err != nil {
		return models.CardScheduleState{}, err
	}

	state, err := flashcard.NewScheduleState(userID, cardID, s.now())
	if err != nil {
		return models.CardScheduleState{}, err
	}
	created, err := s.schedules.Create(ctx, state)
	if err != nil {
		return models.CardScheduleState{}, err
	}
	if created {
		logger.FromContext(ctx).WithPrefix("scheduler").Debug("assigned card %s to user %s", cardID, userID)
	}
	return s.State(ctx, userID, cardID)
}

// State returns the current state of (user, card), or the default when it was never stored.
func (s *Store) State(ctx context.Context, userID, cardID string) (models.CardScheduleState, error) {
	if err := requireIDs(userID, cardID); err != nil {
		return models.CardScheduleState{}, err
	}
	if err := s.requireCard(ctx, cardID); err != nil {
		return models.CardScheduleState{}, err
	}
	return s.current(ctx, userID, cardID, s.now())
}

// SelectDue yields the cards of deckID the user may study now, in due order. A failed
// query is yielded once as the error.
func (s *Store) SelectDue(ctx context.Context, userID, deckID string, limit int) iter.Seq2[models.DueCard, error] {
	return func(yield func(models.DueCard, error) bool) {
		due, err := s.schedules.DueCards(ctx, userID, deckID, s.now().UTC(), limit)
		if err != nil {
			yield(models.DueCard{}, err)
			return
		}
		for _, c := range due {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (s *Store) requireCard(ctx context.Context, cardID string) error {
	ok, err := s.catalog.CardExists(ctx, cardID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, errors.ErrCardNotFound)
	}
	return nil
}

func requireIDs(userID, cardID string) error {
	if userID == "" {
		return errors.NewFieldError("user_id", errors.ErrRequired)
	}
	if cardID == "" {
		return errors.NewFieldError("card_id", errors.ErrRequired)
	}
	return nil
}
