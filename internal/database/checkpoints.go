package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// SyncCheckpoint is an advisory last-synced marker per (segment, athlete).
// It is overwritten on every successful ingest and is used only for
// operational visibility; the idempotent effort upsert carries correctness.
type SyncCheckpoint struct {
	SegmentID    int64
	AthleteID    int64
	LastSyncedAt int64
	LastEffortID int64
}

// UpsertCheckpoint overwrites the checkpoint for a (segment, athlete) pair
func (d *DB) UpsertCheckpoint(c *SyncCheckpoint) error {
	_, err := d.db.Exec(`
		INSERT INTO checkpoints (segment_id, athlete_id, last_synced_at, last_effort_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(segment_id, athlete_id) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			last_effort_id = excluded.last_effort_id
	`, c.SegmentID, c.AthleteID, c.LastSyncedAt, c.LastEffortID)

	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the checkpoint for a (segment, athlete) pair.
// Returns (nil, nil) if no sync has happened yet.
func (d *DB) GetCheckpoint(segmentID, athleteID int64) (*SyncCheckpoint, error) {
	var c SyncCheckpoint
	err := d.db.QueryRow(`
		SELECT segment_id, athlete_id, last_synced_at, last_effort_id
		FROM checkpoints WHERE segment_id = ? AND athlete_id = ?
	`, segmentID, athleteID).Scan(&c.SegmentID, &c.AthleteID, &c.LastSyncedAt, &c.LastEffortID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &c, nil
}
