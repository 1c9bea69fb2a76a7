package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func ts(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func reviewCommit(version int64, sessionID uuid.UUID) repository.ReviewCommit {
	next := now.AddDate(0, 0, 6)
	state := models.CardScheduleState{
		UserID: "u1", CardID: "A", EasinessFactor: 2.6, IntervalDays: 6, RepetitionCount: 2,
		NextReviewAt: &next, LastReviewedAt: &now, Version: version + 1, CreatedAt: now,
	}
	return repository.ReviewCommit{
		ExpectedVersion: version,
		State:           state,
		Event: models.ReviewEvent{
			ID: uuid.New(), UserID: "u1", CardID: "A", SessionID: sessionID, Quality: 5,
			Next: state.Snapshot(), OccurredAt: now,
		},
	}
}

func TestCatalog_Exists(t *testing.T) {
	mock := newMock(t)
	catalog := NewCardCatalog(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT 1 FROM cards").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM decks").WillReturnError(pgx.ErrNoRows)

	ok, err := catalog.CardExists(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = catalog.DeckExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_AddCardUnknownDeck(t *testing.T) {
	mock := newMock(t)
	catalog := NewCardCatalog(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM decks").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := catalog.AddCard(context.Background(), models.Card{ID: "A", DeckID: "nope", CreatedAt: now})
	assert.ErrorIs(t, err, errors.ErrDeckNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedule_Get(t *testing.T) {
	mock := newMock(t)
	repo := NewScheduleRepository(mock)
	ctx := context.Background()
	next := now.AddDate(0, 0, 6)

	mock.ExpectQuery("FROM card_schedules").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM card_schedules").WillReturnRows(
		pgxmock.NewRows([]string{"user_id", "card_id", "easiness", "interval_days", "repetitions", "next_review", "last_reviewed", "version", "created_at"}).
			AddRow("u1", "A", 2.6, 6, 2, ts(next), ts(now), int64(2), now),
	)

	state, err := repo.Get(ctx, "u1", "A")
	require.NoError(t, err)
	assert.Nil(t, state)

	state, err = repo.Get(ctx, "u1", "A")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 6, state.IntervalDays)
	assert.Equal(t, int64(2), state.Version)
	require.NotNil(t, state.NextReviewAt)
	assert.True(t, next.Equal(*state.NextReviewAt))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedule_Create(t *testing.T) {
	mock := newMock(t)
	repo := NewScheduleRepository(mock)
	state := models.CardScheduleState{UserID: "u1", CardID: "A", EasinessFactor: 2.5, CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM cards").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("INSERT INTO card_schedules").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, created, "existing row is kept")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedule_Commit(t *testing.T) {
	sessionID := uuid.New()

	tests := []struct {
		name    string
		commit  repository.ReviewCommit
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name:   "first review inserts",
			commit: reviewCommit(0, uuid.Nil),
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO card_schedules").WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectExec("INSERT INTO card_reviews").WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name:   "update in open session",
			commit: reviewCommit(1, sessionID),
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery("FROM study_sessions WHERE id = \\$1 FOR SHARE").WillReturnRows(
					pgxmock.NewRows([]string{"user_id", "ended_at"}).AddRow("u1", pgtype.Timestamptz{}),
				)
				mock.ExpectExec("UPDATE card_schedules").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectExec("INSERT INTO card_reviews").WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name:   "stale version",
			commit: reviewCommit(1, uuid.Nil),
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE card_schedules").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectRollback()
			},
			wantErr: errors.ErrVersionConflict,
		},
		{
			name:   "closed session",
			commit: reviewCommit(1, sessionID),
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery("FROM study_sessions").WillReturnRows(
					pgxmock.NewRows([]string{"user_id", "ended_at"}).AddRow("u1", ts(now)),
				)
				mock.ExpectRollback()
			},
			wantErr: errors.ErrSessionClosed,
		},
		{
			name:   "session of another user",
			commit: reviewCommit(1, sessionID),
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery("FROM study_sessions").WillReturnRows(
					pgxmock.NewRows([]string{"user_id", "ended_at"}).AddRow("u2", pgtype.Timestamptz{}),
				)
				mock.ExpectRollback()
			},
			wantErr: errors.ErrSessionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			err := NewScheduleRepository(mock).Commit(context.Background(), tt.commit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSchedule_DueCards(t *testing.T) {
	mock := newMock(t)
	repo := NewScheduleRepository(mock)
	past := now.AddDate(0, 0, -1)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.next_review ASC NULLS FIRST, c.seq ASC LIMIT 2")).WillReturnRows(
		pgxmock.NewRows([]string{"id", "user_id", "easiness", "interval_days", "repetitions", "next_review", "last_reviewed", "version", "created_at"}).
			AddRow("A", pgtype.Text{}, pgtype.Float8{}, pgtype.Int4{}, pgtype.Int4{}, pgtype.Timestamptz{}, pgtype.Timestamptz{}, pgtype.Int8{}, pgtype.Timestamptz{}).
			AddRow("B", pgtype.Text{String: "u1", Valid: true}, pgtype.Float8{Float64: 2.6, Valid: true},
				pgtype.Int4{Int32: 1, Valid: true}, pgtype.Int4{Int32: 1, Valid: true},
				ts(past), ts(past.AddDate(0, 0, -1)), pgtype.Int8{Int64: 1, Valid: true}, ts(past)),
	)

	due, err := repo.DueCards(context.Background(), "u1", "d1", now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "A", due[0].CardID)
	assert.Nil(t, due[0].State)
	require.NotNil(t, due[1].State)
	assert.Equal(t, 1, due[1].State.IntervalDays)
	assert.InDelta(t, 2.6, due[1].State.EasinessFactor, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedule_ReviewsForSession(t *testing.T) {
	mock := newMock(t)
	repo := NewScheduleRepository(mock)
	sessionID := uuid.New()
	eventID := uuid.New()
	next := now.AddDate(0, 0, 1)

	mock.ExpectQuery("FROM card_reviews WHERE session_id").WillReturnRows(
		pgxmock.NewRows([]string{
			"id", "user_id", "card_id", "session_id", "quality", "time_taken_ms",
			"prev_easiness", "prev_interval", "prev_repetitions", "prev_next_review", "prev_last_reviewed",
			"new_easiness", "new_interval", "new_repetitions", "new_next_review", "new_last_reviewed",
			"reviewed_at",
		}).AddRow(
			eventID, "u1", "A", pgtype.UUID{Bytes: sessionID, Valid: true}, 4, pgtype.Int8{Int64: 1500, Valid: true},
			2.5, 0, 0, pgtype.Timestamptz{}, pgtype.Timestamptz{},
			2.5, 1, 1, ts(next), ts(now),
			now,
		),
	)

	events, err := repo.ReviewsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, eventID, e.ID)
	assert.Equal(t, sessionID, e.SessionID)
	require.NotNil(t, e.TimeTakenMs)
	assert.Equal(t, int64(1500), *e.TimeTakenMs)
	assert.Nil(t, e.Prior.NextReviewAt)
	require.NotNil(t, e.Next.NextReviewAt)
	assert.True(t, next.Equal(*e.Next.NextReviewAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_End(t *testing.T) {
	id := uuid.New()
	started := now.Add(-time.Hour)
	sessionRow := func(ended pgtype.Timestamptz) *pgxmock.Rows {
		return pgxmock.NewRows([]string{"user_id", "deck_id", "started_at", "ended_at"}).AddRow("u1", "d1", started, ended)
	}

	t.Run("open", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("UPDATE study_sessions").WillReturnRows(sessionRow(ts(now)))

		s, err := NewSessionRepository(mock).End(context.Background(), id, now)
		require.NoError(t, err)
		assert.True(t, s.Ended())
		assert.Equal(t, id, s.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already ended", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("UPDATE study_sessions").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT user_id, deck_id").WillReturnRows(sessionRow(ts(now)))

		_, err := NewSessionRepository(mock).End(context.Background(), id, now)
		assert.ErrorIs(t, err, errors.ErrSessionClosed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("UPDATE study_sessions").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT user_id, deck_id").WillReturnError(pgx.ErrNoRows)

		_, err := NewSessionRepository(mock).End(context.Background(), id, now)
		assert.ErrorIs(t, err, errors.ErrSessionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSession_EndIdle(t *testing.T) {
	mock := newMock(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("UPDATE study_sessions s").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))

	ids, err := NewSessionRepository(mock).EndIdle(context.Background(), now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_CreateUnknownDeck(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM decks").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := NewSessionRepository(mock).Create(context.Background(), models.StudySession{ID: uuid.New(), UserID: "u1", DeckID: "nope", StartedAt: now})
	assert.ErrorIs(t, err, errors.ErrDeckNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
