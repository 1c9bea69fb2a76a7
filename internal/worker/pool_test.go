package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/testutil/mocks"
)

type countJob struct {
	runs *atomic.Int32
	done chan struct{}
	err  error
}

func (j countJob) Name() string { return "count" }

func (j countJob) Run(context.Context) error {
	j.runs.Add(1)
	if j.done != nil {
		j.done <- struct{}{}
	}
	return j.err
}

type blockingJob struct {
	started chan struct{}
}

func (j blockingJob) Name() string { return "block" }

func (j blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestPool_RunsJobs(t *testing.T) {
	p := NewPool(2, 4)
	p.Start(context.Background())

	var runs atomic.Int32
	done := make(chan struct{}, 3)
	p.Submit(countJob{runs: &runs, done: done})
	p.Submit(countJob{runs: &runs, done: done, err: errors.New("failed")})
	p.Submit(countJob{runs: &runs, done: done})

	for range 3 {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("job did not run")
		}
	}
	p.Stop()
	assert.Equal(t, int32(3), runs.Load())
}

func TestPool_TrySubmitWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	var runs atomic.Int32

	assert.True(t, p.TrySubmit(countJob{runs: &runs}))
	assert.False(t, p.TrySubmit(countJob{runs: &runs}), "queue holds one job and no worker is draining it")
	assert.Equal(t, 1, p.QueueSize())
}

func TestPool_StopCancelsRunningJob(t *testing.T) {
	p := NewPool(1, 1)
	p.Start(context.Background())

	started := make(chan struct{})
	p.Submit(blockingJob{started: started})
	<-started

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running job")
	}
}

func TestEndIdleSessionsJob(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sessions := new(mocks.MockSessionRepository)
	job := &EndIdleSessionsJob{
		Sessions:    sessions,
		IdleTimeout: 2 * time.Hour,
		Now:         func() time.Time { return now },
	}

	ended := []uuid.UUID{uuid.New()}
	sessions.On("EndIdle", mock.Anything, now.Add(-2*time.Hour), now).Return(ended, nil).Once()
	require.NoError(t, job.Run(context.Background()))

	boom := errors.New("database is locked")
	sessions.On("EndIdle", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom).Once()
	assert.ErrorIs(t, job.Run(context.Background()), boom)

	sessions.AssertExpectations(t)
	assert.Equal(t, "end_idle_sessions", job.Name())
}
