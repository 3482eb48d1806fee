package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"club-segment-sync/internal/database"
	"club-segment-sync/internal/metrics"
	"club-segment-sync/internal/strava"
)

// ErrNotBound means the athlete has no credential on file; they have
// never connected their Strava account or have unbound it.
var ErrNotBound = errors.New("athlete not bound")

// ErrCredentialRevoked means the upstream rejected the refresh token.
// The athlete must re-authenticate; retrying cannot help.
var ErrCredentialRevoked = errors.New("credential revoked")

// Manager guarantees that any credential it hands out is valid for at
// least the configured safety margin, refreshing and persisting through
// the credential store when needed. It holds no token state in memory
// across calls.
type Manager struct {
	db     *database.DB
	client *strava.Client
	margin time.Duration
	logger *slog.Logger

	// Per-athlete refresh serialization. Two tasks refreshing the same
	// athlete concurrently would rotate the refresh token out from under
	// each other; cross-process races still collapse to last-writer-wins
	// on the credential row.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager creates a token manager with the given refresh-ahead margin
func NewManager(db *database.DB, client *strava.Client, margin time.Duration) *Manager {
	return &Manager{
		db:     db,
		client: client,
		margin: margin,
		logger: slog.Default(),
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (m *Manager) lockFor(athleteID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[athleteID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[athleteID] = lock
	}
	return lock
}

// GetValidCredential returns a credential for the athlete that will stay
// valid for at least the safety margin, refreshing it first if needed.
// A successful refresh is durably persisted before this call returns.
func (m *Manager) GetValidCredential(ctx context.Context, athleteID int64) (*database.Credential, error) {
	lock := m.lockFor(athleteID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.db.GetCredential(athleteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: athlete %d", ErrNotBound, athleteID)
	}

	if time.Until(time.Unix(cred.ExpiresAt, 0)) >= m.margin {
		return cred, nil
	}

	m.logger.Info("Refreshing token", "athlete_id", athleteID, "expires_at", cred.ExpiresAt)

	tokenResp, err := m.client.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		if strava.IsUnavailable(err) || strava.IsRateLimited(err) {
			metrics.TokenRefreshesTotal.WithLabelValues("unavailable").Inc()
			return nil, fmt.Errorf("token refresh for athlete %d: %w", athleteID, err)
		}
		// Any other upstream rejection means the refresh token is dead
		m.logger.Warn("Refresh token rejected by upstream", "athlete_id", athleteID, "error", err)
		metrics.TokenRefreshesTotal.WithLabelValues("revoked").Inc()
		return nil, fmt.Errorf("%w: athlete %d: %v", ErrCredentialRevoked, athleteID, err)
	}

	refreshed := &database.Credential{
		AthleteID:    athleteID,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    tokenResp.ExpiresAt,
	}

	if err := m.db.UpsertCredential(refreshed); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	m.logger.Info("Token refreshed", "athlete_id", athleteID, "expires_at", refreshed.ExpiresAt)

	return refreshed, nil
}
