package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for queue depth queries
type DB interface {
	GetPollJobQueueLength() (int, error)
}

// StartQueueDepthCollector starts a background goroutine that periodically
// collects queue depth metrics from the database
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(db, logger)
		}
	}
}

func collectQueueDepths(db DB, logger *slog.Logger) {
	if total, err := db.GetPollJobQueueLength(); err != nil {
		logger.Error("Failed to get poll job queue length", "error", err)
	} else {
		QueueDepthTotal.WithLabelValues(QueueTypePollJob).Set(float64(total))
	}
}
