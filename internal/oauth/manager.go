package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"club-segment-sync/internal/config"
	"club-segment-sync/internal/database"
	"club-segment-sync/internal/strava"
)

const (
	authorizationURL = "https://www.strava.com/oauth/authorize"
	// read covers segment and leaderboard data; activity:read is needed
	// to fetch efforts off incoming activities
	scope = "read,activity:read"
)

// Manager handles the OAuth 2.0 connect and disconnect flow with Strava
type Manager struct {
	config       *config.Config
	db           *database.DB
	stravaClient *strava.Client
	logger       *slog.Logger
	states       *stateStore // CSRF protection
}

// stateStore tracks valid OAuth states for CSRF protection
type stateStore struct {
	mu     sync.RWMutex
	states map[string]time.Time
}

// NewManager creates a new OAuth manager
func NewManager(cfg *config.Config, db *database.DB, stravaClient *strava.Client) *Manager {
	mgr := &Manager{
		config:       cfg,
		db:           db,
		stravaClient: stravaClient,
		logger:       slog.Default(),
		states: &stateStore{
			states: make(map[string]time.Time),
		},
	}

	// Start background cleanup of expired states
	go mgr.cleanupStates()

	return mgr
}

// GenerateAuthURL generates a Strava authorization URL with CSRF protection
func (m *Manager) GenerateAuthURL(redirectURI string) (string, string, error) {
	state, err := generateRandomState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	// Store state with expiration (10 minutes)
	m.states.mu.Lock()
	m.states.states[state] = time.Now().Add(10 * time.Minute)
	m.states.mu.Unlock()

	params := url.Values{
		"client_id":     {m.config.StravaClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {scope},
		"state":         {state},
	}

	authURL := fmt.Sprintf("%s?%s", authorizationURL, params.Encode())

	m.logger.Info("Generated auth URL", "state", state)

	return authURL, state, nil
}

// HandleCallback exchanges the authorization code and binds the athlete's
// credential. Returns the athlete ID on success.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (int64, error) {
	// Validate state for CSRF protection
	if !m.validateState(state) {
		return 0, fmt.Errorf("invalid or expired state")
	}

	m.logger.Info("Handling OAuth callback", "code_length", len(code))

	tokenResp, err := m.stravaClient.ExchangeCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("failed to exchange code: %w", err)
	}

	var athleteData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(tokenResp.Athlete, &athleteData); err != nil {
		return 0, fmt.Errorf("failed to parse athlete data: %w", err)
	}
	if athleteData.ID == 0 {
		return 0, fmt.Errorf("token response carried no athlete ID")
	}

	athleteID := athleteData.ID

	cred := &database.Credential{
		AthleteID:    athleteID,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    tokenResp.ExpiresAt,
	}

	if err := m.db.UpsertCredential(cred); err != nil {
		return 0, fmt.Errorf("failed to store credential: %w", err)
	}

	m.logger.Info("Bound athlete credential", "athlete_id", athleteID, "expires_at", tokenResp.ExpiresAt)

	return athleteID, nil
}

// Unbind removes an athlete's credential. Stored efforts are kept; they
// were ingested while the athlete was connected.
func (m *Manager) Unbind(athleteID int64) error {
	if err := m.db.DeleteCredential(athleteID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	m.logger.Info("Unbound athlete credential", "athlete_id", athleteID)
	return nil
}

// validateState checks if a state is valid and removes it (one-time use)
func (m *Manager) validateState(state string) bool {
	m.states.mu.Lock()
	defer m.states.mu.Unlock()

	expiry, exists := m.states.states[state]
	if !exists {
		return false
	}

	if time.Now().After(expiry) {
		delete(m.states.states, state)
		return false
	}

	delete(m.states.states, state)

	return true
}

// cleanupStates removes expired states every minute
func (m *Manager) cleanupStates() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.states.mu.Lock()
		now := time.Now()
		for state, expiry := range m.states.states {
			if now.After(expiry) {
				delete(m.states.states, state)
			}
		}
		m.states.mu.Unlock()
	}
}

// generateRandomState generates a cryptographically secure random state
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
