package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	apperrors "github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

const reviewColumns = `id, user_id, card_id, session_id, quality, time_taken_ms,
       prev_easiness, prev_interval, prev_repetitions, prev_next_review, prev_last_reviewed,
       new_easiness, new_interval, new_repetitions, new_next_review, new_last_reviewed,
       reviewed_at`

type scheduleRepository struct {
	db DB
}

// NewScheduleRepository creates a new ScheduleRepository implementation
func NewScheduleRepository(db DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Get(ctx context.Context, userID, cardID string) (*models.CardScheduleState, error) {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo")

	var (
		s          models.CardScheduleState
		next, last pgtype.Timestamptz
	)
	err := r.db.QueryRow(ctx, `
SELECT user_id, card_id, easiness, interval_days, repetitions, next_review, last_reviewed, version, created_at
FROM card_schedules
WHERE user_id = $1 AND card_id = $2
`, userID, cardID).Scan(&s.UserID, &s.CardID, &s.EasinessFactor, &s.IntervalDays, &s.RepetitionCount, &next, &last, &s.Version, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to get schedule: %v", err)
		return nil, err
	}
	s.NextReviewAt = timePtr(next)
	s.LastReviewedAt = timePtr(last)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func (r *scheduleRepository) Create(ctx context.Context, state models.CardScheduleState) (bool, error) {
	var created bool
	err := tx(ctx, r.db, func(tx pgx.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM cards WHERE id = $1`, state.CardID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("card %s: %w", state.CardID, apperrors.ErrCardNotFound)
		}
		tag, err := tx.Exec(ctx, `
INSERT INTO card_schedules (user_id, card_id, easiness, interval_days, repetitions, next_review, last_reviewed, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
ON CONFLICT (user_id, card_id) DO NOTHING
`, state.UserID, state.CardID, state.EasinessFactor, state.IntervalDays, state.RepetitionCount,
			timestamptz(state.NextReviewAt), timestamptz(state.LastReviewedAt), state.CreatedAt.UTC())
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).WithPrefix("schedule_repo").Error("failed to create schedule: %v", err)
		return false, err
	}
	return created, nil
}

// Commit reads the session row FOR SHARE, so a concurrent End waits for the review to land
// or the review sees the session closed.
func (r *scheduleRepository) Commit(ctx context.Context, c repository.ReviewCommit) error {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo").WithFields(map[string]any{
		"user_id": c.State.UserID,
		"card_id": c.State.CardID,
	})

	return tx(ctx, r.db, func(tx pgx.Tx) error {
		if err := checkSessionOpen(ctx, tx, c.Event); err != nil {
			return err
		}

		s := c.State
		var (
			tag pgconn.CommandTag
			err error
		)
		if c.ExpectedVersion == 0 {
			tag, err = tx.Exec(ctx, `
INSERT INTO card_schedules (user_id, card_id, easiness, interval_days, repetitions, next_review, last_reviewed, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, card_id) DO NOTHING
`, s.UserID, s.CardID, s.EasinessFactor, s.IntervalDays, s.RepetitionCount,
				timestamptz(s.NextReviewAt), timestamptz(s.LastReviewedAt), s.Version, s.CreatedAt.UTC())
		} else {
			tag, err = tx.Exec(ctx, `
UPDATE card_schedules
SET easiness = $1, interval_days = $2, repetitions = $3, next_review = $4, last_reviewed = $5, version = $6
WHERE user_id = $7 AND card_id = $8 AND version = $9
`, s.EasinessFactor, s.IntervalDays, s.RepetitionCount, timestamptz(s.NextReviewAt), timestamptz(s.LastReviewedAt), s.Version,
				s.UserID, s.CardID, c.ExpectedVersion)
		}
		if err != nil {
			log.Error("failed to write schedule: %v", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("card %s for user %s at version %d: %w", s.CardID, s.UserID, c.ExpectedVersion, apperrors.ErrVersionConflict)
		}

		e := c.Event
		_, err = tx.Exec(ctx, `
INSERT INTO card_reviews (`+reviewColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`, e.ID, e.UserID, e.CardID, sessionUUID(e.SessionID), e.Quality, e.TimeTakenMs,
			e.Prior.EasinessFactor, e.Prior.IntervalDays, e.Prior.RepetitionCount, timestamptz(e.Prior.NextReviewAt), timestamptz(e.Prior.LastReviewedAt),
			e.Next.EasinessFactor, e.Next.IntervalDays, e.Next.RepetitionCount, timestamptz(e.Next.NextReviewAt), timestamptz(e.Next.LastReviewedAt),
			e.OccurredAt.UTC())
		if err != nil {
			log.Error("failed to append review event: %v", err)
		}
		return err
	})
}

func checkSessionOpen(ctx context.Context, tx pgx.Tx, e models.ReviewEvent) error {
	if e.SessionID == uuid.Nil {
		return nil
	}
	var (
		userID string
		ended  pgtype.Timestamptz
	)
	err := tx.QueryRow(ctx, `SELECT user_id, ended_at FROM study_sessions WHERE id = $1 FOR SHARE`, e.SessionID).Scan(&userID, &ended)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && userID != e.UserID) {
		return fmt.Errorf("session %s: %w", e.SessionID, apperrors.ErrSessionNotFound)
	}
	if err != nil {
		return err
	}
	if ended.Valid {
		return fmt.Errorf("session %s: %w", e.SessionID, apperrors.ErrSessionClosed)
	}
	return nil
}

func (r *scheduleRepository) DueCards(ctx context.Context, userID, deckID string, now time.Time, limit int) ([]models.DueCard, error) {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo")

	query := sqlBuilder.Select(
		"c.id", "s.user_id", "s.easiness", "s.interval_days", "s.repetitions",
		"s.next_review", "s.last_reviewed", "s.version", "s.created_at",
	).
		From("cards c").
		LeftJoin("card_schedules s ON s.card_id = c.id AND s.user_id = ?", userID).
		Where(squirrel.Eq{"c.deck_id": deckID}).
		Where(squirrel.Or{
			squirrel.Eq{"s.next_review": nil},
			squirrel.LtOrEq{"s.next_review": now.UTC()},
		}).
		OrderBy("s.next_review ASC NULLS FIRST", "c.seq ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		log.Error("failed to build query: %v", err)
		return nil, err
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Error("failed to query due cards: %v", err)
		return nil, err
	}
	defer rows.Close()

	var due []models.DueCard
	for rows.Next() {
		var (
			cardID     string
			user       pgtype.Text
			easiness   pgtype.Float8
			interval   pgtype.Int4
			reps       pgtype.Int4
			next, last pgtype.Timestamptz
			version    pgtype.Int8
			createdAt  pgtype.Timestamptz
		)
		if err := rows.Scan(&cardID, &user, &easiness, &interval, &reps, &next, &last, &version, &createdAt); err != nil {
			log.Error("failed to scan due card row: %v", err)
			return nil, err
		}
		d := models.DueCard{CardID: cardID}
		if user.Valid {
			d.State = &models.CardScheduleState{
				UserID:          user.String,
				CardID:          cardID,
				EasinessFactor:  easiness.Float64,
				IntervalDays:    int(interval.Int32),
				RepetitionCount: int(reps.Int32),
				NextReviewAt:    timePtr(next),
				LastReviewedAt:  timePtr(last),
				Version:         version.Int64,
				CreatedAt:       createdAt.Time.UTC(),
			}
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (r *scheduleRepository) ReviewsForSession(ctx context.Context, sessionID uuid.UUID) ([]models.ReviewEvent, error) {
	return r.reviews(ctx, `SELECT `+reviewColumns+` FROM card_reviews WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
}

func (r *scheduleRepository) ReviewsForCard(ctx context.Context, userID, cardID string) ([]models.ReviewEvent, error) {
	return r.reviews(ctx, `SELECT `+reviewColumns+` FROM card_reviews WHERE user_id = $1 AND card_id = $2 ORDER BY seq ASC`, userID, cardID)
}

func (r *scheduleRepository) reviews(ctx context.Context, query string, args ...any) ([]models.ReviewEvent, error) {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo")

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		log.Error("failed to query reviews: %v", err)
		return nil, err
	}
	defer rows.Close()

	var events []models.ReviewEvent
	for rows.Next() {
		var (
			e         models.ReviewEvent
			sessionID pgtype.UUID
			took      pgtype.Int8
			prevNext  pgtype.Timestamptz
			prevLast  pgtype.Timestamptz
			newNext   pgtype.Timestamptz
			newLast   pgtype.Timestamptz
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.CardID, &sessionID, &e.Quality, &took,
			&e.Prior.EasinessFactor, &e.Prior.IntervalDays, &e.Prior.RepetitionCount, &prevNext, &prevLast,
			&e.Next.EasinessFactor, &e.Next.IntervalDays, &e.Next.RepetitionCount, &newNext, &newLast,
			&e.OccurredAt); err != nil {
			log.Error("failed to scan review row: %v", err)
			return nil, err
		}
		if sessionID.Valid {
			e.SessionID = uuid.UUID(sessionID.Bytes)
		}
		if took.Valid {
			ms := took.Int64
			e.TimeTakenMs = &ms
		}
		e.Prior.NextReviewAt = timePtr(prevNext)
		e.Prior.LastReviewedAt = timePtr(prevLast)
		e.Next.NextReviewAt = timePtr(newNext)
		e.Next.LastReviewedAt = timePtr(newLast)
		e.OccurredAt = e.OccurredAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func sessionUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}
