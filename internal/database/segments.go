package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Segment is a tracked route segment with an optional challenge window
type Segment struct {
	SegmentID int64
	Name      string
	StartDate *int64 // Challenge window start (unix, inclusive)
	EndDate   *int64 // Challenge window end (unix, inclusive)
	CreatedAt int64
}

// UpsertSegment creates or updates a tracked segment
func (d *DB) UpsertSegment(s *Segment) error {
	_, err := d.db.Exec(`
		INSERT INTO segments (segment_id, name, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date
	`, s.SegmentID, s.Name, s.StartDate, s.EndDate, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to upsert segment: %w", err)
	}
	return nil
}

// GetSegment retrieves a segment by ID.
// Returns (nil, nil) if the segment is not tracked.
func (d *DB) GetSegment(segmentID int64) (*Segment, error) {
	var s Segment
	err := d.db.QueryRow(`
		SELECT segment_id, name, start_date, end_date, created_at
		FROM segments WHERE segment_id = ?
	`, segmentID).Scan(&s.SegmentID, &s.Name, &s.StartDate, &s.EndDate, &s.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return &s, nil
}

// ListSegments returns all tracked segments
func (d *DB) ListSegments() ([]*Segment, error) {
	rows, err := d.db.Query(`
		SELECT segment_id, name, start_date, end_date, created_at
		FROM segments ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []*Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.SegmentID, &s.Name, &s.StartDate, &s.EndDate, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segments = append(segments, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}
