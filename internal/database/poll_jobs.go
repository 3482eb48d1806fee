package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"club-segment-sync/internal/metrics"
)

// Poll job types
const (
	JobTypePollSegment     = "poll_segment"     // Top-N leaderboard poll for one segment
	JobTypeBackfillAthlete = "backfill_athlete" // Per-athlete effort backfill for one segment
)

// Poll job statuses
const (
	JobStatusReady      = "ready"
	JobStatusProcessing = "processing"
	JobStatusFailed     = "failed" // Terminal; kept as a dead-letter record
)

// PollJob is one queued batch-poll or backfill request
type PollJob struct {
	ID         int64
	JobType    string
	SegmentID  int64
	AthleteID  *int64 // Set for backfill_athlete jobs
	RetryCount int
	LastError  *string
	CreatedAt  time.Time
}

// EnqueuePollJob adds a poll job to the queue. athleteID is nil for
// whole-segment polls.
func (d *DB) EnqueuePollJob(jobType string, segmentID int64, athleteID *int64) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpEnqueuePollJob))
	defer timer.ObserveDuration()

	result, err := d.db.Exec(`
		INSERT INTO poll_jobs (job_type, segment_id, athlete_id, created_at)
		VALUES (?, ?, ?, ?)
	`, jobType, segmentID, athleteID, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueuePollJob).Inc()
		return 0, fmt.Errorf("failed to enqueue poll job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueuePollJob).Inc()
		return 0, fmt.Errorf("failed to get poll job id: %w", err)
	}

	metrics.QueueEnqueueTotal.WithLabelValues(metrics.QueueTypePollJob).Inc()

	return id, nil
}

// ClaimPollJob atomically claims the oldest ready poll job and marks it as
// processing. Jobs are ready when their backoff has elapsed and they are
// not already claimed (or the claim has gone stale). Returns nil if no
// jobs are ready.
func (d *DB) ClaimPollJob() (*PollJob, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClaimPollJob))
	defer timer.ObserveDuration()

	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	query := `
		UPDATE poll_jobs
		SET status = 'processing', processing_started_at = ?
		WHERE id = (
			SELECT id
			FROM poll_jobs
			WHERE status != 'failed'
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (processing_started_at IS NULL OR processing_started_at < ?)
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING id, job_type, segment_id, athlete_id, retry_count, last_error, created_at
	`

	var job PollJob
	var createdAt int64

	err := d.db.QueryRow(query, now.Unix(), now.Unix(), staleThreshold).Scan(
		&job.ID, &job.JobType, &job.SegmentID, &job.AthleteID,
		&job.RetryCount, &job.LastError, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClaimPollJob).Inc()
		return nil, fmt.Errorf("failed to claim poll job: %w", err)
	}

	job.CreatedAt = time.Unix(createdAt, 0)

	return &job, nil
}

// DeletePollJob deletes a completed poll job from the queue
func (d *DB) DeletePollJob(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeletePollJob))
	defer timer.ObserveDuration()

	_, err := d.db.Exec(`DELETE FROM poll_jobs WHERE id = ?`, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeletePollJob).Inc()
		return fmt.Errorf("failed to delete poll job: %w", err)
	}
	return nil
}

// ReleasePollJob releases a failed poll job back to the queue with
// exponential backoff. After MaxRetries the job is moved to the failed
// state with its last error preserved, so terminal failures stay visible
// instead of vanishing. Returns true if the job will be retried.
func (d *DB) ReleasePollJob(id int64, retryCount int, errMsg string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpReleasePollJob))
	defer timer.ObserveDuration()

	newRetryCount := retryCount + 1

	if newRetryCount > MaxRetries {
		_, err := d.db.Exec(`
			UPDATE poll_jobs
			SET status = 'failed', retry_count = ?, last_error = ?, processing_started_at = NULL
			WHERE id = ?
		`, newRetryCount, errMsg, id)
		if err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpReleasePollJob).Inc()
			return false, fmt.Errorf("failed to dead-letter poll job: %w", err)
		}
		return false, nil
	}

	// Exponential backoff: 1min, 5min, 15min, 30min, 60min
	backoffMinutes := []int{1, 5, 15, 30, 60}
	backoffIdx := newRetryCount - 1
	if backoffIdx >= len(backoffMinutes) {
		backoffIdx = len(backoffMinutes) - 1
	}
	nextRetryAt := time.Now().Add(time.Duration(backoffMinutes[backoffIdx]) * time.Minute)

	_, err := d.db.Exec(`
		UPDATE poll_jobs
		SET status = 'ready', retry_count = ?, last_error = ?, next_retry_at = ?, processing_started_at = NULL
		WHERE id = ?
	`, newRetryCount, errMsg, nextRetryAt.Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpReleasePollJob).Inc()
		return false, fmt.Errorf("failed to release poll job: %w", err)
	}

	return true, nil
}

// GetPollJobQueueLength returns the number of non-terminal jobs in the queue
func (d *DB) GetPollJobQueueLength() (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM poll_jobs WHERE status != 'failed'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get poll job queue length: %w", err)
	}
	return count, nil
}

// GetFailedPollJobs returns terminally failed jobs for operational review
func (d *DB) GetFailedPollJobs() ([]*PollJob, error) {
	rows, err := d.db.Query(`
		SELECT id, job_type, segment_id, athlete_id, retry_count, last_error, created_at
		FROM poll_jobs WHERE status = 'failed' ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed poll jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*PollJob
	for rows.Next() {
		var job PollJob
		var createdAt int64
		if err := rows.Scan(&job.ID, &job.JobType, &job.SegmentID, &job.AthleteID,
			&job.RetryCount, &job.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan poll job row: %w", err)
		}
		job.CreatedAt = time.Unix(createdAt, 0)
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating poll jobs: %w", err)
	}

	return jobs, nil
}
