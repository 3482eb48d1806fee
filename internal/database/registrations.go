package database

import (
	"fmt"
	"time"
)

// Registration is one athlete's opt-in to a segment challenge
type Registration struct {
	SegmentID   int64
	AthleteID   int64
	DisplayName string
	CreatedAt   int64
}

// CreateRegistration records an athlete's opt-in to a segment challenge.
// Duplicate inserts for the same (segment, athlete) pair are idempotent.
func (d *DB) CreateRegistration(segmentID, athleteID int64, displayName string) error {
	_, err := d.db.Exec(`
		INSERT INTO registrations (segment_id, athlete_id, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(segment_id, athlete_id) DO NOTHING
	`, segmentID, athleteID, displayName, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

// DeleteRegistration removes an athlete's opt-in on explicit withdrawal
func (d *DB) DeleteRegistration(segmentID, athleteID int64) error {
	_, err := d.db.Exec(`
		DELETE FROM registrations WHERE segment_id = ? AND athlete_id = ?
	`, segmentID, athleteID)

	if err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	return nil
}

// SegmentsForAthlete returns the IDs of all segments the athlete is registered for
func (d *DB) SegmentsForAthlete(athleteID int64) ([]int64, error) {
	rows, err := d.db.Query(`
		SELECT segment_id FROM registrations WHERE athlete_id = ? ORDER BY segment_id ASC
	`, athleteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments for athlete: %w", err)
	}
	defer rows.Close()

	var segmentIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		segmentIDs = append(segmentIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrations: %w", err)
	}

	return segmentIDs, nil
}

// AthletesForSegment returns all registrations for a segment, including display names
func (d *DB) AthletesForSegment(segmentID int64) ([]*Registration, error) {
	rows, err := d.db.Query(`
		SELECT segment_id, athlete_id, display_name, created_at
		FROM registrations WHERE segment_id = ?
		ORDER BY created_at ASC, athlete_id ASC
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query athletes for segment: %w", err)
	}
	defer rows.Close()

	var registrations []*Registration
	for rows.Next() {
		var r Registration
		if err := rows.Scan(&r.SegmentID, &r.AthleteID, &r.DisplayName, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		registrations = append(registrations, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrations: %w", err)
	}

	return registrations, nil
}
