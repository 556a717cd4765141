package fetch

import (
	"testing"
	"time"
)

func TestBackoffDelay_Curve(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}
	for _, tc := range tests {
		if got := backoffDelay(tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDelay_StrictlyIncreasingToCap(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffDelay(attempt)
		if d < prev {
			t.Fatalf("backoffDelay(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > maxBackoff {
			t.Fatalf("backoffDelay(%d) = %v exceeds cap %v", attempt, d, maxBackoff)
		}
		prev = d
	}
}

func TestRetryAfterDelay_Clamped(t *testing.T) {
	if got := retryAfterDelay(2); got != 2*time.Second {
		t.Errorf("retryAfterDelay(2) = %v", got)
	}
	if got := retryAfterDelay(300); got != maxBackoff {
		t.Errorf("retryAfterDelay(300) = %v, want %v", got, maxBackoff)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   float64
	}{
		{"", 0},
		{"2", 2},
		{"1.5", 1.5},
		{"-3", 0},
		{"soon", 0},
	}
	for _, tc := range tests {
		if got := parseRetryAfter(tc.header); got != tc.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestJitter_Bounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(backoffJitterMax)
		if d < 0 || d >= backoffJitterMax {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
	if jitter(0) != 0 {
		t.Error("jitter(0) should be 0")
	}
}
