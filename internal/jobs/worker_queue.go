package jobs

import (
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/worker"
)

// WorkerQueue implements JobQueue using worker pools
type WorkerQueue struct {
	sweepPool   *worker.Pool
	sessions    repository.SessionRepository
	idleTimeout time.Duration
}

// NewWorkerQueue creates a new WorkerQueue implementation
func NewWorkerQueue(sweepPool *worker.Pool, sessions repository.SessionRepository, idleTimeout time.Duration) JobQueue {
	return &WorkerQueue{
		sweepPool:   sweepPool,
		sessions:    sessions,
		idleTimeout: idleTimeout,
	}
}

// EnqueueSessionSweep never blocks. A sweep that finds the queue full is skipped; the
// next tick covers the same sessions.
func (q *WorkerQueue) EnqueueSessionSweep() error {
	ok := q.sweepPool.TrySubmit(&worker.EndIdleSessionsJob{
		Sessions:    q.sessions,
		IdleTimeout: q.idleTimeout,
	})
	if !ok {
		return ErrQueueFull
	}
	return nil
}
