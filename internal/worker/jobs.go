package worker

import (
	"context"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
)

// EndIdleSessionsJob ends study sessions with no review for longer than IdleTimeout.
// A session with no reviews at all is measured from its start.
type EndIdleSessionsJob struct {
	Sessions    repository.SessionRepository
	IdleTimeout time.Duration
	Now         func() time.Time
}

func (j *EndIdleSessionsJob) Name() string { return "end_idle_sessions" }

func (j *EndIdleSessionsJob) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	endedAt := now().UTC()
	cutoff := endedAt.Add(-j.IdleTimeout)

	ended, err := j.Sessions.EndIdle(ctx, cutoff, endedAt)
	if err != nil {
		log.Error("failed to end idle sessions: %v", err)
		return err
	}
	for _, id := range ended {
		log.Info("ended idle session %s after %v without activity", id, j.IdleTimeout)
	}
	return nil
}
