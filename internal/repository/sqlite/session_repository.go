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

type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository implementation
func NewSessionRepository(db *sql.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s models.StudySession) error {
	log := logger.FromContext(ctx).WithPrefix("session_repo")
	log.Debug("creating session: id=%s, user_id=%s, deck_id=%s", s.ID, s.UserID, s.DeckID)

	return tx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM decks WHERE id = ?`, s.DeckID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deck %s: %w", s.DeckID, apperrors.ErrDeckNotFound)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO study_sessions (id, user_id, deck_id, started_at, ended_at)
VALUES (?, ?, ?, ?, ?)
`, s.ID.String(), s.UserID, s.DeckID, s.StartedAt.UTC(), nullTime(s.EndedAt))
		if err != nil {
			log.Error("failed to insert session: %v", err)
		}
		return err
	})
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.StudySession, error) {
	return getSession(ctx, r.db, id)
}

func getSession(ctx context.Context, q queryRower, id uuid.UUID) (*models.StudySession, error) {
	log := logger.FromContext(ctx).WithPrefix("session_repo")

	s := models.StudySession{ID: id}
	var ended sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT user_id, deck_id, started_at, ended_at FROM study_sessions WHERE id = ?`, id.String()).
		Scan(&s.UserID, &s.DeckID, &s.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("session not found: id=%s", id)
		return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrSessionNotFound)
	}
	if err != nil {
		log.Error("failed to get session: %v", err)
		return nil, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.EndedAt = timePtr(ended)
	return &s, nil
}

func (r *sessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.StudySession, error) {
	log := logger.FromContext(ctx).WithPrefix("session_repo")
	log.Debug("ending session: id=%s", id)

	var ended *models.StudySession
	err := tx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE study_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, endedAt.UTC(), id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		s, err := getSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %s: %w", id, apperrors.ErrSessionClosed)
		}
		ended = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

func (r *sessionRepository) EndIdle(ctx context.Context, cutoff, endedAt time.Time) ([]uuid.UUID, error) {
	log := logger.FromContext(ctx).WithPrefix("session_repo")

	var ids []uuid.UUID
	err := tx(ctx, r.db, func(tx *sql.Tx) error {
		// Timestamps compare as text; every write is normalised to UTC.
		rows, err := tx.QueryContext(ctx, `
SELECT s.id
FROM study_sessions s
LEFT JOIN (
    SELECT session_id, MAX(reviewed_at) AS last_review
    FROM card_reviews
    WHERE session_id IS NOT NULL
    GROUP BY session_id
) r ON r.session_id = s.id
WHERE s.ended_at IS NULL
AND COALESCE(r.last_review, s.started_at) < ?
`, cutoff.UTC())
		if err != nil {
			return err
		}
		var raw []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			raw = append(raw, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(raw) == 0 {
			return nil
		}

		for _, s := range raw {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("session id %q: %w", s, err)
			}
			ids = append(ids, id)
		}

		sqlStr, args, err := sqlBuilder.Update("study_sessions").
			Set("ended_at", endedAt.UTC()).
			Where(squirrel.Eq{"id": raw}).
			Where("ended_at IS NULL").
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlStr, args...)
		return err
	})
	if err != nil {
		log.Error("failed to end idle sessions: %v", err)
		return nil, err
	}
	if len(ids) > 0 {
		log.Info("ended %d idle sessions", len(ids))
	}
	return ids, nil
}
