package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential holds the OAuth tokens for one athlete.
// There is at most one live credential per athlete_id.
type Credential struct {
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	CreatedAt    int64
	UpdatedAt    int64
}

// GetCredential retrieves the credential for an athlete.
// Returns (nil, nil) if the athlete has no credential on file.
func (d *DB) GetCredential(athleteID int64) (*Credential, error) {
	var c Credential
	err := d.db.QueryRow(`
		SELECT athlete_id, access_token, refresh_token, expires_at, created_at, updated_at
		FROM credentials WHERE athlete_id = ?
	`, athleteID).Scan(
		&c.AthleteID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

// UpsertCredential creates or replaces the credential for an athlete in a
// single atomic write. Used on first OAuth exchange and on every refresh.
func (d *DB) UpsertCredential(c *Credential) error {
	now := time.Now().Unix()

	_, err := d.db.Exec(`
		INSERT INTO credentials (athlete_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, c.AthleteID, c.AccessToken, c.RefreshToken, c.ExpiresAt, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// DeleteCredential removes an athlete's credential on explicit unbinding
func (d *DB) DeleteCredential(athleteID int64) error {
	result, err := d.db.Exec(`DELETE FROM credentials WHERE athlete_id = ?`, athleteID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential not found")
	}

	return nil
}

// ListCredentialAthleteIDs returns the athlete IDs of all stored credentials
func (d *DB) ListCredentialAthleteIDs() ([]int64, error) {
	rows, err := d.db.Query(`SELECT athlete_id FROM credentials ORDER BY athlete_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return ids, nil
}
