package jobs

import (
	"context"
	"time"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
)

// RunSessionSweeper enqueues an idle-session sweep every interval until ctx is done.
func RunSessionSweeper(ctx context.Context, queue JobQueue, interval time.Duration) {
	log := logger.FromContext(ctx).WithPrefix("sweeper")
	log.Info("sweeping idle sessions every %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("sweeper stopped")
			return
		case <-ticker.C:
			if err := queue.EnqueueSessionSweep(); err != nil {
				log.Warn("skipped session sweep: %v", err)
			}
		}
	}
}
