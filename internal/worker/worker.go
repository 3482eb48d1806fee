package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"club-segment-sync/internal/database"
	"club-segment-sync/internal/ingest"
	"club-segment-sync/internal/metrics"
	"club-segment-sync/internal/strava"
)

// Worker drains the poll job queue. Polls are fire and forget from the
// caller's perspective: the worker retries transient failures with
// backoff and leaves terminal failures in the dead-letter state.
type Worker struct {
	db           *database.DB
	pipeline     *ingest.Pipeline
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewWorker creates a new poll job worker
func NewWorker(db *database.DB, pipeline *ingest.Pipeline) *Worker {
	return &Worker{
		db:           db,
		pipeline:     pipeline,
		logger:       slog.Default(),
		pollInterval: 500 * time.Millisecond,
	}
}

// Start begins processing poll jobs until the context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting poll worker")
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping poll worker")
			return ctx.Err()
		default:
			job, err := w.db.ClaimPollJob()
			if err != nil {
				w.logger.Error("Failed to claim poll job", "error", err)
				time.Sleep(w.pollInterval)
				continue
			}

			if job == nil {
				metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
				time.Sleep(w.pollInterval)
				continue
			}

			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomePollJobFound).Inc()
			w.processJob(ctx, job)
		}
	}
}

// processJob runs one claimed poll job and settles it: deleted on
// success, released with backoff on failure, dropped when malformed.
func (w *Worker) processJob(ctx context.Context, job *database.PollJob) {
	runID := uuid.NewString()
	start := time.Now()

	logger := w.logger.With(
		"run_id", runID,
		"job_id", job.ID,
		"job_type", job.JobType,
		"segment_id", job.SegmentID,
		"retry_count", job.RetryCount,
	)
	logger.Info("Processing poll job")

	var err error
	switch job.JobType {
	case database.JobTypePollSegment:
		err = w.pipeline.PollSegment(ctx, job.SegmentID)
	case database.JobTypeBackfillAthlete:
		if job.AthleteID == nil {
			logger.Error("Backfill job missing athlete_id")
			w.completeJob(logger, job.ID, start, metrics.ResultDropped)
			return
		}
		err = w.pipeline.PollAthleteSegment(ctx, job.SegmentID, *job.AthleteID)
	default:
		logger.Warn("Unknown poll job type, dropping")
		w.completeJob(logger, job.ID, start, metrics.ResultDropped)
		return
	}

	if err != nil {
		logger.Error("Poll job failed", "error", err)
		duration := time.Since(start).Seconds()
		metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypePollJob, metrics.ResultFailure).Observe(duration)
		metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypePollJob, metrics.ResultRetry).Inc()
		metrics.QueueRetryTotal.WithLabelValues(metrics.QueueTypePollJob, strconv.Itoa(job.RetryCount+1)).Inc()

		// A rate limit hint means the upstream told us exactly how long
		// to back off; give it that long before the queue retries.
		if delay := strava.RetryAfter(err); delay > 0 {
			logger.Info("Honoring upstream retry hint", "delay", delay)
			time.Sleep(delay)
		}

		w.releaseJob(logger, job, err)
		return
	}

	w.completeJob(logger, job.ID, start, metrics.ResultSuccess)
}

func (w *Worker) completeJob(logger *slog.Logger, jobID int64, start time.Time, result string) {
	if err := w.db.DeletePollJob(jobID); err != nil {
		logger.Error("Failed to delete completed poll job", "error", err)
		return
	}
	duration := time.Since(start).Seconds()
	metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypePollJob, metrics.ResultSuccess).Observe(duration)
	metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypePollJob, result).Inc()
	logger.Info("Poll job completed", "result", result)
}

func (w *Worker) releaseJob(logger *slog.Logger, job *database.PollJob, jobErr error) {
	willRetry, err := w.db.ReleasePollJob(job.ID, job.RetryCount, fmt.Sprintf("%v", jobErr))
	if err != nil {
		logger.Error("Failed to release poll job", "error", err)
		return
	}

	if !willRetry {
		logger.Warn("Poll job exceeded max retries, moved to failed state")
		metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypePollJob, metrics.ResultDropped).Inc()
	} else {
		logger.Info("Poll job released for retry", "next_retry_count", job.RetryCount+1)
	}
}
