package jobs

import "errors"

// ErrQueueFull is returned when a job could not be enqueued without blocking.
var ErrQueueFull = errors.New("job queue full")

// JobQueue provides an abstraction for enqueueing background jobs
type JobQueue interface {
	EnqueueSessionSweep() error
}
