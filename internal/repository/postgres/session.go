package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	apperrors "github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

type sessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository implementation
func NewSessionRepository(db DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s models.StudySession) error {
	return tx(ctx, r.db, func(tx pgx.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM decks WHERE id = $1`, s.DeckID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("deck %s: %w", s.DeckID, apperrors.ErrDeckNotFound)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO study_sessions (id, user_id, deck_id, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5)
`, s.ID, s.UserID, s.DeckID, s.StartedAt.UTC(), timestamptz(s.EndedAt))
		return err
	})
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.StudySession, error) {
	row := r.db.QueryRow(ctx, `SELECT user_id, deck_id, started_at, ended_at FROM study_sessions WHERE id = $1`, id)
	return scanSession(ctx, row, id)
}

func scanSession(ctx context.Context, row pgx.Row, id uuid.UUID) (*models.StudySession, error) {
	s := models.StudySession{ID: id}
	var ended pgtype.Timestamptz
	err := row.Scan(&s.UserID, &s.DeckID, &s.StartedAt, &ended)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrSessionNotFound)
	}
	if err != nil {
		logger.FromContext(ctx).WithPrefix("session_repo").Error("failed to scan session: %v", err)
		return nil, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.EndedAt = timePtr(ended)
	return &s, nil
}

func (r *sessionRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time) (*models.StudySession, error) {
	row := r.db.QueryRow(ctx, `
UPDATE study_sessions
SET ended_at = $1
WHERE id = $2 AND ended_at IS NULL
RETURNING user_id, deck_id, started_at, ended_at
`, endedAt.UTC(), id)
	s, err := scanSession(ctx, row, id)
	if !errors.Is(err, apperrors.ErrSessionNotFound) {
		return s, err
	}

	// nothing updated: unknown or already ended
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("session %s: %w", id, apperrors.ErrSessionClosed)
}

func (r *sessionRepository) EndIdle(ctx context.Context, cutoff, endedAt time.Time) ([]uuid.UUID, error) {
	log := logger.FromContext(ctx).WithPrefix("session_repo")

	rows, err := r.db.Query(ctx, `
UPDATE study_sessions s
SET ended_at = $1
WHERE s.ended_at IS NULL
AND COALESCE((SELECT MAX(r.reviewed_at) FROM card_reviews r WHERE r.session_id = s.id), s.started_at) < $2
RETURNING s.id
`, endedAt.UTC(), cutoff.UTC())
	if err != nil {
		log.Error("failed to end idle sessions: %v", err)
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		log.Error("failed to collect ended sessions: %v", err)
		return nil, err
	}
	if len(ids) > 0 {
		log.Info("ended %d idle sessions", len(ids))
	}
	return ids, nil
}
