package scheduler_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/errors"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/flashcard"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/models"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository/memory"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository/sqlite"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/scheduler"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/testutil"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/testutil/mocks"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     *scheduler.Store
	catalog   repository.CardCatalog
	schedules repository.ScheduleRepository
	sessions  repository.SessionRepository
}

func newMemoryFixture(t *testing.T, mode scheduler.Mode) fixture {
	db := memory.NewDB()
	return newFixture(t, mode, memory.NewCardCatalog(db), memory.NewScheduleRepository(db), memory.NewSessionRepository(db))
}

func newSQLiteFixture(t *testing.T, mode scheduler.Mode) fixture {
	db := testutil.NewTestDB(t)
	t.Cleanup(func() { testutil.MustClose(t, db) })
	return newFixture(t, mode, sqlite.NewCardCatalog(db), sqlite.NewScheduleRepository(db), sqlite.NewSessionRepository(db))
}

func newFixture(t *testing.T, mode scheduler.Mode, catalog repository.CardCatalog, schedules repository.ScheduleRepository, sessions repository.SessionRepository) fixture {
	testutil.SeedDeck(t, catalog, "d1", "A", "B", "C")
	return fixture{
		store: scheduler.NewStore(catalog, schedules, scheduler.Options{
			Mode: mode,
			Now:  func() time.Time { return now },
		}),
		catalog:   catalog,
		schedules: schedules,
		sessions:  sessions,
	}
}

func review(userID, cardID string, q int) scheduler.ReviewRequest {
	return scheduler.ReviewRequest{UserID: userID, CardID: cardID, Quality: testutil.Quality(q)}
}

func TestApplyReview_FirstReview(t *testing.T) {
	f := newMemoryFixture(t, scheduler.Pessimistic)
	ctx := context.Background()

	req := review("u1", "A", 5)
	req.TimeTakenMs = testutil.Millis(2300)
	event, err := f.store.ApplyReview(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 5, event.Quality)
	assert.Equal(t, int64(2300), *event.TimeTakenMs)
	assert.Equal(t, 0, event.Prior.RepetitionCount)
	assert.Nil(t, event.Prior.NextReviewAt)
	assert.Equal(t, 1, event.Next.RepetitionCount)
	assert.Equal(t, 1, event.Next.IntervalDays)
	assert.InDelta(t, 2.6, event.Next.EasinessFactor, 1e-9)
	assert.Equal(t, now.AddDate(0, 0, 1), *event.Next.NextReviewAt)

	state, err := f.store.State(ctx, "u1", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
	assert.NoError(t, flashcard.CheckInvariants(state))
}

func TestApplyReview_Scenario(t *testing.T) {
	f := newMemoryFixture(t, scheduler.Pessimistic)
	ctx := context.Background()

	var intervals []int
	var easiness []float64
	for _, q := range []int{4, 5, 2, 3} {
		event, err := f.store.ApplyReview(ctx, review("u1", "A", q))
		require.NoError(t, err)
		intervals = append(intervals, event.Next.IntervalDays)
		easiness = append(easiness, event.Next.EasinessFactor)
	}

	assert.Equal(t, []int{1, 6, 1, 1}, intervals)
	assert.InDeltaSlice(t, []float64{2.5, 2.6, 2.28, 2.14}, easiness, 1e-9)

	events, err := f.schedules.ReviewsForCard(ctx, "u1", "A")
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Next, events[i].Prior, "event %d continues from its predecessor", i)
	}
}

func TestApplyReview_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		req     scheduler.ReviewRequest
		wantErr error
	}{
		{"missing quality", scheduler.ReviewRequest{UserID: "u1", CardID: "A"}, errors.ErrInvalidQuality},
		{"quality above range", review("u1", "A", 6), errors.ErrInvalidQuality},
		{"quality below range", review("u1", "A", -1), errors.ErrInvalidQuality},
		{"negative duration", scheduler.ReviewRequest{UserID: "u1", CardID: "A", Quality: testutil.Quality(3), TimeTakenMs: testutil.Millis(-5)}, errors.ErrInvalidDuration},
		{"missing user", review("", "A", 3), errors.ErrRequired},
		{"unknown card", review("u1", "Z", 3), errors.ErrCardNotFound},
		{"unknown session", scheduler.ReviewRequest{UserID: "u1", CardID: "A", SessionID: uuid.New(), Quality: testutil.Quality(3)}, errors.ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMemoryFixture(t, scheduler.Pessimistic)
			ctx := context.Background()

			_, err := f.store.ApplyReview(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			stored, err := f.schedules.Get(ctx, "u1", "A")
			require.NoError(t, err)
			assert.Nil(t, stored, "a rejected review writes nothing")
		})
	}
}

func TestApplyReview_ClosedSession(t *testing.T) {
	f := newSQLiteFixture(t, scheduler.Pessimistic)
	ctx := context.Background()

	sess := models.StudySession{ID: uuid.New(), UserID: "u1", DeckID: "d1", StartedAt: now}
	require.NoError(t, f.sessions.Create(ctx, sess))

	req := review("u1", "A", 4)
	req.SessionID = sess.ID
	_, err := f.store.ApplyReview(ctx, req)
	require.NoError(t, err)

	_, err = f.sessions.End(ctx, sess.ID, now)
	require.NoError(t, err)

	_, err = f.store.ApplyReview(ctx, req)
	assert.ErrorIs(t, err, errors.ErrSessionClosed)

	state, err := f.store.State(ctx, "u1", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version, "the rejected review left the state untouched")
}

func TestApplyReview_RetriesOnConflict(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	store := scheduler.NewStore(catalog, schedules, scheduler.Options{Mode: scheduler.Optimistic})

	catalog.On("CardExists", mock.Anything, "A").Return(true, nil)
	schedules.On("Get", mock.Anything, "u1", "A").Return(nil, nil)
	schedules.On("Commit", mock.Anything, mock.Anything).Return(errors.ErrVersionConflict).Once()
	schedules.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()

	event, err := store.ApplyReview(context.Background(), review("u1", "A", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, event.Quality)
	schedules.AssertNumberOfCalls(t, "Commit", 2)
	schedules.AssertNumberOfCalls(t, "Get", 2)
}

func TestApplyReview_RetriesExhausted(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	store := scheduler.NewStore(catalog, schedules, scheduler.Options{MaxAttempts: 3})

	catalog.On("CardExists", mock.Anything, "A").Return(true, nil)
	schedules.On("Get", mock.Anything, "u1", "A").Return(nil, nil)
	schedules.On("Commit", mock.Anything, mock.Anything).Return(fmt.Errorf("stale: %w", errors.ErrVersionConflict))

	_, err := store.ApplyReview(context.Background(), review("u1", "A", 3))
	assert.ErrorIs(t, err, errors.ErrConcurrentModification)
	assert.NotErrorIs(t, err, errors.ErrVersionConflict)
	schedules.AssertNumberOfCalls(t, "Commit", 3)
}

func TestApplyReview_CommitErrorIsNotRetried(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	store := scheduler.NewStore(catalog, schedules, scheduler.Options{})
	boom := errors.New("disk full")

	catalog.On("CardExists", mock.Anything, "A").Return(true, nil)
	schedules.On("Get", mock.Anything, "u1", "A").Return(nil, nil)
	schedules.On("Commit", mock.Anything, mock.Anything).Return(boom)

	_, err := store.ApplyReview(context.Background(), review("u1", "A", 3))
	assert.ErrorIs(t, err, boom)
	schedules.AssertNumberOfCalls(t, "Commit", 1)
}

func TestApplyReview_CancelWhileWaitingForLock(t *testing.T) {
	catalog := new(mocks.MockCardCatalog)
	schedules := new(mocks.MockScheduleRepository)
	store := scheduler.NewStore(catalog, schedules, scheduler.Options{Mode: scheduler.Pessimistic})

	entered := make(chan struct{})
	unblock := make(chan struct{})
	catalog.On("CardExists", mock.Anything, "A").Return(true, nil)
	schedules.On("Get", mock.Anything, "u1", "A").Return(nil, nil)
	schedules.On("Commit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		close(entered)
		<-unblock
		assert.NoError(t, ctx.Err(), "the commit outlives the caller's context")
	}).Return(nil).Once()

	holderCtx, cancelHolder := context.WithCancel(context.Background())
	holder := make(chan error, 1)
	go func() {
		_, err := store.ApplyReview(holderCtx, review("u1", "A", 4))
		holder <- err
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := store.ApplyReview(waitCtx, review("u1", "A", 5))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelHolder()
	close(unblock)
	assert.NoError(t, <-holder)
	schedules.AssertNumberOfCalls(t, "Commit", 1)
}

func TestApplyReview_CancelledBeforeLock(t *testing.T) {
	f := newMemoryFixture(t, scheduler.Pessimistic)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 100 {
		_, err := f.store.ApplyReview(ctx, review("u1", "A", 5))
		require.ErrorIs(t, err, context.Canceled)
	}

	state, err := f.schedules.Get(context.Background(), "u1", "A")
	require.NoError(t, err)
	assert.Nil(t, state, "no review may be committed")

	history, err := f.schedules.ReviewsForCard(context.Background(), "u1", "A")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAssign(t *testing.T) {
	f := newMemoryFixture(t, scheduler.Pessimistic)
	ctx := context.Background()

	state, err := f.store.State(ctx, "u1", "B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Version)
	assert.Equal(t, 2.5, state.EasinessFactor)

	assigned, err := f.store.Assign(ctx, "u1", "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), assigned.Version)
	assert.Nil(t, assigned.NextReviewAt)

	again, err := f.store.Assign(ctx, "u1", "B")
	require.NoError(t, err)
	assert.Equal(t, assigned, again)

	event, err := f.store.ApplyReview(ctx, review("u1", "B", 5))
	require.NoError(t, err)
	assert.Equal(t, 1, event.Next.RepetitionCount)

	state, err = f.store.State(ctx, "u1", "B")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)

	_, err = f.store.Assign(ctx, "u1", "Z")
	assert.ErrorIs(t, err, errors.ErrCardNotFound)
}

func TestSelectDue(t *testing.T) {
	f := newSQLiteFixture(t, scheduler.Pessimistic)
	ctx := context.Background()

	_, err := f.store.ApplyReview(ctx, review("u1", "A", 5))
	require.NoError(t, err)

	var ids []string
	for card, err := range f.store.SelectDue(ctx, "u1", "d1", 0) {
		require.NoError(t, err)
		ids = append(ids, card.CardID)
	}
	assert.Equal(t, []string{"B", "C"}, ids, "A is scheduled for tomorrow")

	ids = ids[:0]
	for card, err := range f.store.SelectDue(ctx, "u2", "d1", 0) {
		require.NoError(t, err)
		ids = append(ids, card.CardID)
		if len(ids) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestSelectDue_YieldsQueryError(t *testing.T) {
	schedules := new(mocks.MockScheduleRepository)
	store := scheduler.NewStore(new(mocks.MockCardCatalog), schedules, scheduler.Options{Now: func() time.Time { return now }})
	boom := errors.New("connection reset")
	schedules.On("DueCards", mock.Anything, "u1", "d1", now, 5).Return(nil, boom)

	var errs []error
	for _, err := range store.SelectDue(context.Background(), "u1", "d1", 5) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestApplyReview_NoLostUpdates(t *testing.T) {
	const reviewers = 40

	fixtures := map[string]func(*testing.T, scheduler.Mode) fixture{
		"memory": newMemoryFixture,
		"sqlite": newSQLiteFixture,
	}
	for name, newF := range fixtures {
		for _, mode := range []scheduler.Mode{scheduler.Pessimistic, scheduler.Optimistic} {
			t.Run(fmt.Sprintf("%s/%s", name, mode), func(t *testing.T) {
				f := newF(t, mode)
				ctx := context.Background()

				var committed atomic.Int64
				var g errgroup.Group
				for range reviewers {
					g.Go(func() error {
						_, err := f.store.ApplyReview(ctx, review("u1", "A", 5))
						if errors.Is(err, errors.ErrConcurrentModification) {
							return nil
						}
						if err != nil {
							return err
						}
						committed.Add(1)
						return nil
					})
				}
				require.NoError(t, g.Wait())

				n := int(committed.Load())
				if mode == scheduler.Pessimistic {
					assert.Equal(t, reviewers, n, "the key lock admits every review in turn")
				}
				state, err := f.store.State(ctx, "u1", "A")
				require.NoError(t, err)
				assert.Equal(t, n, state.RepetitionCount)
				assert.Equal(t, int64(n), state.Version)

				events, err := f.schedules.ReviewsForCard(ctx, "u1", "A")
				require.NoError(t, err)
				assert.Len(t, events, n)
			})
		}
	}
}
