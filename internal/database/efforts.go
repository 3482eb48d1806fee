package database

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"club-segment-sync/internal/metrics"
)

// Effort is one recorded performance by one athlete over one segment.
// EffortID is the upstream effort ID and the sole idempotency key: the
// same effort re-ingested with any payload overwrites in place.
type Effort struct {
	EffortID       int64
	SegmentID      int64
	AthleteID      int64
	AthleteName    string
	ElapsedSeconds int64
	MovingSeconds  int64
	StartDate      int64 // Local wall-clock of the performance (unix)

	AverageWatts     *float64
	DeviceWatts      bool
	AverageHeartrate *float64
	MaxHeartrate     *float64

	CreatedAt int64
	UpdatedAt int64
}

// EffortWindow restricts effort queries to performances within
// [Start, End], both inclusive.
type EffortWindow struct {
	Start int64
	End   int64
}

// UpsertEffort inserts or overwrites an effort keyed purely by effort_id.
// Last write wins; created_at is preserved across overwrites.
func (d *DB) UpsertEffort(e *Effort) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertEffort))
	defer timer.ObserveDuration()

	now := time.Now().Unix()

	_, err := d.db.Exec(`
		INSERT INTO efforts (
			effort_id, segment_id, athlete_id, athlete_name,
			elapsed_seconds, moving_seconds, start_date,
			average_watts, device_watts, average_heartrate, max_heartrate,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(effort_id) DO UPDATE SET
			segment_id = excluded.segment_id,
			athlete_id = excluded.athlete_id,
			athlete_name = excluded.athlete_name,
			elapsed_seconds = excluded.elapsed_seconds,
			moving_seconds = excluded.moving_seconds,
			start_date = excluded.start_date,
			average_watts = excluded.average_watts,
			device_watts = excluded.device_watts,
			average_heartrate = excluded.average_heartrate,
			max_heartrate = excluded.max_heartrate,
			updated_at = excluded.updated_at
	`, e.EffortID, e.SegmentID, e.AthleteID, e.AthleteName,
		e.ElapsedSeconds, e.MovingSeconds, e.StartDate,
		e.AverageWatts, e.DeviceWatts, e.AverageHeartrate, e.MaxHeartrate,
		now, now)

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertEffort).Inc()
		return fmt.Errorf("failed to upsert effort: %w", err)
	}
	return nil
}

// QueryEfforts returns all efforts for a segment ordered ascending by
// elapsed seconds. Equal times order by earliest start date, then effort
// ID, so the first row seen per athlete is their best qualifying effort.
// A nil window returns every stored effort for the segment.
func (d *DB) QueryEfforts(segmentID int64, window *EffortWindow) ([]*Effort, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpQueryEfforts))
	defer timer.ObserveDuration()

	query := `
		SELECT effort_id, segment_id, athlete_id, athlete_name,
		       elapsed_seconds, moving_seconds, start_date,
		       average_watts, device_watts, average_heartrate, max_heartrate,
		       created_at, updated_at
		FROM efforts
		WHERE segment_id = ?
	`
	args := []interface{}{segmentID}

	if window != nil {
		query += ` AND start_date >= ? AND start_date <= ?`
		args = append(args, window.Start, window.End)
	}

	query += ` ORDER BY elapsed_seconds ASC, start_date ASC, effort_id ASC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpQueryEfforts).Inc()
		return nil, fmt.Errorf("failed to query efforts: %w", err)
	}
	defer rows.Close()

	var efforts []*Effort
	for rows.Next() {
		var e Effort
		err := rows.Scan(
			&e.EffortID, &e.SegmentID, &e.AthleteID, &e.AthleteName,
			&e.ElapsedSeconds, &e.MovingSeconds, &e.StartDate,
			&e.AverageWatts, &e.DeviceWatts, &e.AverageHeartrate, &e.MaxHeartrate,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan effort row: %w", err)
		}
		efforts = append(efforts, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating efforts: %w", err)
	}

	return efforts, nil
}

// CountEfforts returns the number of stored efforts for a segment
func (d *DB) CountEfforts(segmentID int64) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM efforts WHERE segment_id = ?`, segmentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count efforts: %w", err)
	}
	return count, nil
}
