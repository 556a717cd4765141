package types

import (
	"errors"
	"fmt"
)

// The error taxonomy for a collection run. Retryable errors (rate limit,
// transient server, network) only surface to callers wrapped inside an
// ExhaustedRetriesError; the rest are terminal and abort the run on first
// occurrence.

// ConfigError is a fatal pre-flight configuration problem. No network call
// has been attempted when one of these is returned.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// AuthError is a terminal 401/403 response. The credential is wrong or lacks
// access; retrying cannot change the outcome.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected (HTTP %d): %s", e.Status, e.Body)
}

// NotFoundError is a terminal 404 response.
type NotFoundError struct {
	Body string
}

func (e *NotFoundError) Error() string { return "not found (HTTP 404): " + e.Body }

// RateLimitError is a retryable 429 response. RetryAfter is the parsed
// Retry-After header in seconds, or 0 when absent or unparseable.
type RateLimitError struct {
	RetryAfter float64
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (HTTP 429, retry after %.0fs)", e.RetryAfter)
	}
	return "rate limited (HTTP 429)"
}

// TransientServerError is a retryable 5xx response.
type TransientServerError struct {
	Status int
}

func (e *TransientServerError) Error() string {
	return fmt.Sprintf("transient server error (HTTP %d)", e.Status)
}

// NetworkError is a retryable network-level failure: connect timeout, read
// timeout, DNS failure, connection reset.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a terminal contract violation: the response arrived but
// its shape does not match what the API documents (missing container field,
// wrong kind, HTTP 400). A malformed success is not retried; repeating the
// request will not change a structural mismatch.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// ExhaustedRetriesError is returned when the retry budget is consumed.
// It carries the last observed status and error for diagnostics.
type ExhaustedRetriesError struct {
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("failed after %d attempts (last_status=%d, last_error=%v)",
		e.Attempts, e.LastStatus, e.LastErr)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.LastErr }

// IsKnown reports whether err belongs to the taxonomy above. Callers map
// known failures to exit code 1 and anything unclassified to exit code 2,
// so operators can tell an expected failure mode from a bug.
func IsKnown(err error) bool {
	var (
		ce *ConfigError
		ae *AuthError
		nf *NotFoundError
		rl *RateLimitError
		ts *TransientServerError
		ne *NetworkError
		pe *ProtocolError
		ex *ExhaustedRetriesError
	)
	return errors.As(err, &ce) || errors.As(err, &ae) || errors.As(err, &nf) ||
		errors.As(err, &rl) || errors.As(err, &ts) || errors.As(err, &ne) ||
		errors.As(err, &pe) || errors.As(err, &ex)
}
