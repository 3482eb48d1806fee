package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"club-segment-sync/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"
)

// Client is a Strava API client. It is stateless with respect to
// credentials: every read takes the access token of an already validated
// credential obtained by the caller.
type Client struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	baseURL      string
	tokenURL     string
	logger       *slog.Logger
	tracker      *RateLimitTracker
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[*apiResponse]
}

// apiResponse is the transport-level result passed through the breaker.
// Only network errors and 5xx count as breaker failures; 4xx responses
// are successes at the transport level and classified afterwards.
type apiResponse struct {
	statusCode int
	body       []byte
	header     http.Header
}

// NewClient creates a new Strava API client with a bounded per-request
// timeout, local request pacing, and a circuit breaker over transient
// upstream failures.
func NewClient(clientID, clientSecret string, timeout time.Duration) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		logger:       slog.Default(),
		tracker:      NewRateLimitTracker(),
		// Strava allows 200 requests per 15 minutes; pace well under that
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 10),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:    "strava-api",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Upstream circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			metrics.UpstreamBreakerState.Set(breakerStateValue(to))
		},
	})

	return c
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// SetBaseURL overrides the API base URL (used in tests)
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// SetTokenURL overrides the OAuth token URL (used in tests)
func (c *Client) SetTokenURL(u string) {
	c.tokenURL = u
}

// RateLimitStatus returns the most recently observed upstream rate limits
func (c *Client) RateLimitStatus() RateLimitStatus {
	return c.tracker.Status()
}

// TokenResponse represents the response from a token exchange or refresh
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	ExpiresIn    int             `json:"expires_in"`
	Athlete      json.RawMessage `json:"athlete,omitempty"`
}

// ExchangeCode exchanges an authorization code for access and refresh tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, metrics.OpExchangeCode, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	})
}

// RefreshToken refreshes an access token using a refresh token.
// A 4xx response means the refresh token itself was rejected; 5xx and
// network failures are reported as unavailable.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, metrics.OpRefreshToken, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	})
}

func (c *Client) tokenRequest(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("token request failed", "operation", op, "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading token response: %v", ErrUnavailable, err)
	}

	c.logger.Info("strava_token_request", "operation", op, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())
	metrics.StravaAPIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: token endpoint status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResp, nil
}

// do performs an authenticated GET against the API. There is no retry
// loop here: retry policy belongs to the callers that can honor
// rate-limit hints and backoff.
func (c *Client) do(ctx context.Context, op, path, accessToken string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	res, err := c.breaker.Execute(func() (*apiResponse, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
		}

		if resp.StatusCode >= 500 {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		return &apiResponse{statusCode: resp.StatusCode, body: body, header: resp.Header}, nil
	})
	duration := time.Since(start)

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		c.logger.Error("strava_api_request failed", "operation", op, "path", path, "error", err, "duration_ms", duration.Milliseconds())
		metrics.StravaAPIRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, err
	}

	c.parseRateLimitHeaders(res.header)

	c.logger.Info("strava_api_request", "operation", op, "path", path, "status", res.statusCode, "duration_ms", duration.Milliseconds())
	metrics.StravaAPIRequestsTotal.WithLabelValues(op, strconv.Itoa(res.statusCode)).Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(op, strconv.Itoa(res.statusCode)).Observe(duration.Seconds())

	if res.statusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: res.statusCode,
			Body:       string(res.body),
			RetryAfter: parseRetryAfter(res.header),
		}
	}

	return res.body, nil
}

// parseRateLimitHeaders extracts rate limit information from response headers
func (c *Client) parseRateLimitHeaders(headers http.Header) {
	limitHeader := headers.Get("X-RateLimit-Limit")
	usageHeader := headers.Get("X-RateLimit-Usage")

	if limitHeader == "" || usageHeader == "" {
		return
	}

	limits := strings.Split(limitHeader, ",")
	usages := strings.Split(usageHeader, ",")
	if len(limits) != 2 || len(usages) != 2 {
		return
	}

	limit15, _ := strconv.Atoi(strings.TrimSpace(limits[0]))
	limitDaily, _ := strconv.Atoi(strings.TrimSpace(limits[1]))
	usage15, _ := strconv.Atoi(strings.TrimSpace(usages[0]))
	usageDaily, _ := strconv.Atoi(strings.TrimSpace(usages[1]))

	c.tracker.Update(limit15, usage15, limitDaily, usageDaily)

	metrics.StravaRateLimitUsage.WithLabelValues("15min", "limit").Set(float64(limit15))
	metrics.StravaRateLimitUsage.WithLabelValues("15min", "usage").Set(float64(usage15))
	metrics.StravaRateLimitUsage.WithLabelValues("daily", "limit").Set(float64(limitDaily))
	metrics.StravaRateLimitUsage.WithLabelValues("daily", "usage").Set(float64(usageDaily))
}

// parseRetryAfter extracts retry delay from the Retry-After header
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
