package strava

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks transient upstream failures: network errors,
// timeouts, 5xx responses, and an open circuit breaker. Callers may retry
// with backoff but must not mutate stored state.
var ErrUnavailable = errors.New("upstream unavailable")

// HTTPError is a non-2xx response from the Strava API
type HTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter is the upstream-provided hint on 429 responses
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("strava api error: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an upstream 404
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

// IsUnauthorized reports whether err is an upstream 401 or 403
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && (httpErr.StatusCode == 401 || httpErr.StatusCode == 403)
}

// IsRateLimited reports whether err is an upstream 429
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 429
}

// IsUnavailable reports whether err is a transient upstream failure
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 500
}

// RetryAfter returns the upstream retry-after hint, or zero if none applies
func RetryAfter(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}
