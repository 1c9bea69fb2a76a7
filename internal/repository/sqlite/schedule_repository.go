package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

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
	db *sql.DB
}

// NewScheduleRepository creates a new ScheduleRepository implementation
func NewScheduleRepository(db *sql.DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Get(ctx context.Context, userID, cardID string) (*models.CardScheduleState, error) {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo")

	var (
		s          models.CardScheduleState
		next, last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
SELECT user_id, card_id, easiness, interval_days, repetitions, next_review, last_reviewed, version, created_at
FROM card_schedules
WHERE user_id = ? AND card_id = ?
`, userID, cardID).Scan(&s.UserID, &s.CardID, &s.EasinessFactor, &s.IntervalDays, &s.RepetitionCount, &next, &last, &s.Version, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("no schedule yet: user_id=%s, card_id=%s", userID, cardID)
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
	log := logger.FromContext(ctx).WithPrefix("schedule_repo")
	log.Debug("creating schedule: user_id=%s, card_id=%s", state.UserID, state.CardID)

	var created bool
	err := tx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM cards WHERE id = ?`, state.CardID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("card %s: %w", state.CardID, apperrors.ErrCardNotFound)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO card_schedules (user_id, card_id, easiness, interval_days, repetitions, next_review, last_reviewed, version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (user_id, card_id) DO NOTHING
`, state.UserID, state.CardID, state.EasinessFactor, state.IntervalDays, state.RepetitionCount,
			nullTime(state.NextReviewAt), nullTime(state.LastReviewedAt), state.CreatedAt.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n == 1
		return err
	})
	if err != nil {
		log.Error("failed to create schedule: %v", err)
		return false, err
	}
	return created, nil
}

func (r *scheduleRepository) Commit(ctx context.Context, c repository.ReviewCommit) error {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo").WithFields(map[string]any{
		"user_id": c.State.UserID,
		"card_id": c.State.CardID,
	})
	log.Debug("committing review: expected_version=%d", c.ExpectedVersion)

	return tx(ctx, r.db, func(tx *sql.Tx) error {
		if err := checkSessionOpen(ctx, tx, c.Event); err != nil {
			return err
		}

		s := c.State
		var (
			res sql.Result
			err error
		)
		if c.ExpectedVersion == 0 {
			res, err = tx.ExecContext(ctx, `
INSERT INTO card_schedules (user_id, card_id, easiness, interval_days, repetitions, next_review, last_reviewed, version, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, card_id) DO NOTHING
`, s.UserID, s.CardID, s.EasinessFactor, s.IntervalDays, s.RepetitionCount,
				nullTime(s.NextReviewAt), nullTime(s.LastReviewedAt), s.Version, s.CreatedAt.UTC())
		} else {
			res, err = tx.ExecContext(ctx, `
UPDATE card_schedules
SET easiness = ?, interval_days = ?, repetitions = ?, next_review = ?, last_reviewed = ?, version = ?
WHERE user_id = ? AND card_id = ? AND version = ?
`, s.EasinessFactor, s.IntervalDays, s.RepetitionCount, nullTime(s.NextReviewAt), nullTime(s.LastReviewedAt), s.Version,
				s.UserID, s.CardID, c.ExpectedVersion)
		}
		if err != nil {
			log.Error("failed to write schedule: %v", err)
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("card %s for user %s at version %d: %w", s.CardID, s.UserID, c.ExpectedVersion, apperrors.ErrVersionConflict)
		}

		e := c.Event
		_, err = tx.ExecContext(ctx, `
INSERT INTO card_reviews (`+reviewColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, e.ID.String(), e.UserID, e.CardID, nullSessionID(e.SessionID), e.Quality, nullInt64(e.TimeTakenMs),
			e.Prior.EasinessFactor, e.Prior.IntervalDays, e.Prior.RepetitionCount, nullTime(e.Prior.NextReviewAt), nullTime(e.Prior.LastReviewedAt),
			e.Next.EasinessFactor, e.Next.IntervalDays, e.Next.RepetitionCount, nullTime(e.Next.NextReviewAt), nullTime(e.Next.LastReviewedAt),
			e.OccurredAt.UTC())
		if err != nil {
			log.Error("failed to append review event: %v", err)
		}
		return err
	})
}

func checkSessionOpen(ctx context.Context, tx *sql.Tx, e models.ReviewEvent) error {
	if e.SessionID == uuid.Nil {
		return nil
	}
	var (
		userID string
		ended  sql.NullTime
	)
	err := tx.QueryRowContext(ctx, `SELECT user_id, ended_at FROM study_sessions WHERE id = ?`, e.SessionID.String()).Scan(&userID, &ended)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && userID != e.UserID) {
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
	log.Debug("fetching due cards: user_id=%s, deck_id=%s, limit=%d", userID, deckID, limit)

	query := sqlBuilder.Select(
		"c.id", "s.user_id", "s.easiness", "s.interval_days", "s.repetitions",
		"s.next_review", "s.last_reviewed", "s.version", "s.created_at",
	).
		From("cards c").
		LeftJoin("card_schedules s ON s.card_id = c.id AND s.user_id = ?", userID).
		Where(squirrel.Eq{"c.deck_id": deckID}).
		Where(squirrel.Or{
			squirrel.Eq{"s.next_review": nil},
			// DATETIME values compare as text; every write is normalised to UTC.
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

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		log.Error("failed to query due cards: %v", err)
		return nil, err
	}
	defer rows.Close()

	var due []models.DueCard
	for rows.Next() {
		var (
			cardID     string
			user       sql.NullString
			easiness   sql.NullFloat64
			interval   sql.NullInt64
			reps       sql.NullInt64
			next, last sql.NullTime
			version    sql.NullInt64
			createdAt  sql.NullTime
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
				IntervalDays:    int(interval.Int64),
				RepetitionCount: int(reps.Int64),
				NextReviewAt:    timePtr(next),
				LastReviewedAt:  timePtr(last),
				Version:         version.Int64,
				CreatedAt:       createdAt.Time.UTC(),
			}
		}
		due = append(due, d)
	}
	log.Debug("found %d due cards", len(due))
	return due, rows.Err()
}

func (r *scheduleRepository) ReviewsForSession(ctx context.Context, sessionID uuid.UUID) ([]models.ReviewEvent, error) {
	return r.reviews(ctx, `SELECT `+reviewColumns+` FROM card_reviews WHERE session_id = ? ORDER BY seq ASC`, sessionID.String())
}

func (r *scheduleRepository) ReviewsForCard(ctx context.Context, userID, cardID string) ([]models.ReviewEvent, error) {
	return r.reviews(ctx, `SELECT `+reviewColumns+` FROM card_reviews WHERE user_id = ? AND card_id = ? ORDER BY seq ASC`, userID, cardID)
}

func (r *scheduleRepository) reviews(ctx context.Context, query string, args ...any) ([]models.ReviewEvent, error) {
	log := logger.FromContext(ctx).WithPrefix("schedule_repo")

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query reviews: %v", err)
		return nil, err
	}
	defer rows.Close()

	var events []models.ReviewEvent
	for rows.Next() {
		var (
			e         models.ReviewEvent
			id        string
			sessionID sql.NullString
			took      sql.NullInt64
			prevNext  sql.NullTime
			prevLast  sql.NullTime
			newNext   sql.NullTime
			newLast   sql.NullTime
		)
		if err := rows.Scan(&id, &e.UserID, &e.CardID, &sessionID, &e.Quality, &took,
			&e.Prior.EasinessFactor, &e.Prior.IntervalDays, &e.Prior.RepetitionCount, &prevNext, &prevLast,
			&e.Next.EasinessFactor, &e.Next.IntervalDays, &e.Next.RepetitionCount, &newNext, &newLast,
			&e.OccurredAt); err != nil {
			log.Error("failed to scan review row: %v", err)
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("review id %q: %w", id, err)
		}
		if e.SessionID, err = parseSessionID(sessionID); err != nil {
			return nil, fmt.Errorf("review %s session id: %w", id, err)
		}
		e.TimeTakenMs = int64Ptr(took)
		e.Prior.NextReviewAt = timePtr(prevNext)
		e.Prior.LastReviewedAt = timePtr(prevLast)
		e.Next.NextReviewAt = timePtr(newNext)
		e.Next.LastReviewedAt = timePtr(newLast)
		e.OccurredAt = e.OccurredAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
