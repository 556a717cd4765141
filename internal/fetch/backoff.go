package fetch

import (
	"context"
	"math/rand"
	"strconv"
	"time"
)

// Retry timing. Rate-limit sleeps honor Retry-After up to the same ceiling
// as the exponential curve; both get a small random jitter so concurrent
// collectors don't retry in lockstep.
const (
	baseBackoff         = 1 * time.Second
	maxBackoff          = 30 * time.Second
	retryAfterJitterMax = 500 * time.Millisecond
	backoffJitterMax    = 750 * time.Millisecond
)

// backoffDelay returns the exponential delay after a failed attempt:
// base * 2^(attempt-1), capped at maxBackoff.
func backoffDelay(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// retryAfterDelay converts a parsed Retry-After value in seconds to the
// sleep duration, clamped to maxBackoff.
func retryAfterDelay(seconds float64) time.Duration {
	d := time.Duration(seconds * float64(time.Second))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// jitter returns a uniform random duration in [0, max).
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max))) //nolint:gosec // not crypto
}

// parseRetryAfter parses a numeric Retry-After header value.
// Returns 0 when the header is absent or unparseable, in which case the
// caller falls back to the exponential curve.
func parseRetryAfter(header string) float64 {
	if header == "" {
		return 0
	}
	v, err := strconv.ParseFloat(header, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
