package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/asmfeed/asmfeed/internal/config"
	"github.com/asmfeed/asmfeed/pkg/types"
)

// newTestEngine builds an Engine against srv with a fake sleep that records
// requested delays instead of waiting.
func newTestEngine(srv *httptest.Server, maxAttempts, pageLimit int) (*Engine, *[]time.Duration) {
	cfg := &config.Config{
		API:   config.APIConfig{BaseURL: srv.URL, Key: "k"},
		Retry: config.RetryConfig{MaxAttempts: maxAttempts},
		Jobs:  config.JobsConfig{PageLimit: pageLimit},
	}
	e := New(srv.Client(), cfg)

	var sleeps []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return e, &sleeps
}

func collect(t *testing.T, e *Engine, req Request) ([]json.RawMessage, *types.Stats, error) {
	t.Helper()
	var records []json.RawMessage
	stats, err := e.FetchAll(context.Background(), req, func(rec json.RawMessage) error {
		records = append(records, rec)
		return nil
	})
	return records, stats, err
}

// paginatedServer serves total records under the "list" container with
// offset/limit semantics and a running "total" field.
func paginatedServer(t *testing.T, total int, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		end := offset + limit
		if end > total {
			end = total
		}
		recs := make([]map[string]int, 0)
		for i := offset; i < end; i++ {
			recs = append(recs, map[string]int{"id": i})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"list": recs, "total": total})
	}))
}

func TestFetchAll_PaginatedFullSet(t *testing.T) {
	var calls int
	srv := paginatedServer(t, 247, &calls)
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	records, stats, err := collect(t, e, Request{Path: "/user-action-logs", Container: "list", Paginated: true})
	if err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}

	if len(records) != 247 {
		t.Fatalf("records: got %d, want 247", len(records))
	}
	// No duplicates, no gaps, request order.
	for i, rec := range records {
		if got := gjson.GetBytes(rec, "id").Int(); got != int64(i) {
			t.Fatalf("record %d has id %d", i, got)
		}
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3 (100/100/47)", calls)
	}
	if stats.Records != 247 {
		t.Errorf("stats.Records = %d", stats.Records)
	}
	if stats.RawTotal != 247 {
		t.Errorf("stats.RawTotal = %d", stats.RawTotal)
	}
	if stats.Attempts != 3 {
		t.Errorf("stats.Attempts = %d, want 3", stats.Attempts)
	}
	if stats.HTTPStatus != http.StatusOK {
		t.Errorf("stats.HTTPStatus = %d", stats.HTTPStatus)
	}
}

func TestFetchAll_EmptyFirstPage(t *testing.T) {
	var calls int
	srv := paginatedServer(t, 0, &calls)
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	records, stats, err := collect(t, e, Request{Path: "/user-action-logs", Container: "list", Paginated: true})
	if err != nil {
		t.Fatalf("empty first page should terminate cleanly, got: %v", err)
	}
	if len(records) != 0 || stats.Records != 0 {
		t.Errorf("records: got %d, want 0", len(records))
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestFetchAll_MissingContainerIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"users": [], "total": 0}`)
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	_, _, err := collect(t, e, Request{Path: "/admin/users", Container: "list"})

	var pe *types.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError for missing container, got %v", err)
	}
}

func TestFetchAll_ContainerWrongKindIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"list": {"nope": true}}`)
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	_, _, err := collect(t, e, Request{Path: "/admin/users", Container: "list"})

	var pe *types.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError for non-list container, got %v", err)
	}
}

func TestFetchAll_InvalidJSONIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	_, _, err := collect(t, e, Request{Path: "/whatever", Container: "list"})

	var pe *types.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError for invalid JSON, got %v", err)
	}
}

func TestFetchAll_WholeObjectEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"asset_limit": 5000, "limit_reached": false}`)
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	records, stats, err := collect(t, e, Request{Path: "/asset-limit"})
	if err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}
	if len(records) != 1 || stats.Records != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}
	if gjson.GetBytes(records[0], "asset_limit").Int() != 5000 {
		t.Errorf("record passthrough lost fields: %s", records[0])
	}
}

func TestDoRetry_429HonorsRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"list": [{"id": 1}]}`)
	}))
	defer srv.Close()

	e, sleeps := newTestEngine(srv, 6, 100)
	records, stats, err := collect(t, e, Request{Path: "/admin/users", Container: "list"})
	if err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}

	if stats.Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", stats.Attempts)
	}
	if len(records) != 1 {
		t.Errorf("records: got %d, want 1", len(records))
	}
	if len(*sleeps) != 1 {
		t.Fatalf("sleeps: got %d, want 1", len(*sleeps))
	}
	// Exactly Retry-After plus 0–0.5s jitter.
	if d := (*sleeps)[0]; d < 2*time.Second || d >= 2*time.Second+retryAfterJitterMax {
		t.Errorf("retry-after sleep = %v, want [2s, 2.5s)", d)
	}
}

func TestDoRetry_429UnparseableRetryAfterFallsBack(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "soon")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"list": []}`)
	}))
	defer srv.Close()

	e, sleeps := newTestEngine(srv, 6, 100)
	if _, _, err := collect(t, e, Request{Path: "/x", Container: "list"}); err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}
	if len(*sleeps) != 1 {
		t.Fatalf("sleeps: got %d, want 1", len(*sleeps))
	}
	// Exponential fallback: 1s base plus 0–0.75s jitter.
	if d := (*sleeps)[0]; d < 1*time.Second || d >= 1*time.Second+backoffJitterMax {
		t.Errorf("fallback sleep = %v, want [1s, 1.75s)", d)
	}
}

func TestDoRetry_5xxExponentialBackoff(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"list": [{"id": 1}]}`)
	}))
	defer srv.Close()

	e, sleeps := newTestEngine(srv, 6, 100)
	_, stats, err := collect(t, e, Request{Path: "/x", Container: "list"})
	if err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}
	if stats.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", stats.Attempts)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("sleeps: got %d, want 2", len(*sleeps))
	}
	if d := (*sleeps)[0]; d < 1*time.Second || d >= 1*time.Second+backoffJitterMax {
		t.Errorf("first backoff = %v, want [1s, 1.75s)", d)
	}
	if d := (*sleeps)[1]; d < 2*time.Second || d >= 2*time.Second+backoffJitterMax {
		t.Errorf("second backoff = %v, want [2s, 2.75s)", d)
	}
}

func TestDoRetry_TerminalStatusesNeverRetried(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, func(err error) bool { var e *types.AuthError; return errors.As(err, &e) }},
		{http.StatusForbidden, func(err error) bool { var e *types.AuthError; return errors.As(err, &e) }},
		{http.StatusNotFound, func(err error) bool { var e *types.NotFoundError; return errors.As(err, &e) }},
		{http.StatusBadRequest, func(err error) bool { var e *types.ProtocolError; return errors.As(err, &e) }},
	}
	for _, tc := range tests {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			var calls int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error": "nope"}`)
			}))
			defer srv.Close()

			e, sleeps := newTestEngine(srv, 6, 100)
			_, stats, err := collect(t, e, Request{Path: "/x", Container: "list"})

			if !tc.check(err) {
				t.Fatalf("status %d: wrong error type: %v", tc.status, err)
			}
			if calls != 1 {
				t.Errorf("status %d: %d attempts, want exactly 1", tc.status, calls)
			}
			if len(*sleeps) != 0 {
				t.Errorf("status %d: slept %d times, want 0", tc.status, len(*sleeps))
			}
			if stats.Attempts != 1 {
				t.Errorf("status %d: stats.Attempts = %d", tc.status, stats.Attempts)
			}
		})
	}
}

func TestDoRetry_AuthErrorCapturesTruncatedBody(t *testing.T) {
	big := make([]byte, 10000)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	_, _, err := collect(t, e, Request{Path: "/x", Container: "list"})

	var ae *types.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if len(ae.Body) != maxErrBody {
		t.Errorf("captured body length = %d, want %d", len(ae.Body), maxErrBody)
	}
}

func TestDoRetry_ExhaustedRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e, sleeps := newTestEngine(srv, 3, 100)
	_, _, err := collect(t, e, Request{Path: "/x", Container: "list"})

	var ex *types.ExhaustedRetriesError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	if ex.Attempts != 3 || ex.LastStatus != http.StatusBadGateway {
		t.Errorf("exhausted: attempts=%d last_status=%d", ex.Attempts, ex.LastStatus)
	}
	var ts *types.TransientServerError
	if !errors.As(ex.LastErr, &ts) {
		t.Errorf("LastErr = %v, want TransientServerError", ex.LastErr)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
	// No sleep after the final attempt.
	if len(*sleeps) != 2 {
		t.Errorf("sleeps: got %d, want 2", len(*sleeps))
	}
}

func TestDoRetry_NetworkErrorsRetried(t *testing.T) {
	// Point at a closed port; every attempt fails at the network level.
	cfg := &config.Config{
		API:   config.APIConfig{BaseURL: "http://127.0.0.1:1", Key: "k"},
		Retry: config.RetryConfig{MaxAttempts: 2},
		Jobs:  config.JobsConfig{PageLimit: 100},
	}
	e := New(&http.Client{}, cfg)
	var sleeps []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	_, err := e.FetchAll(context.Background(), Request{Path: "/x", Container: "list"},
		func(json.RawMessage) error { return nil })

	var ex *types.ExhaustedRetriesError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedRetriesError, got %v", err)
	}
	var ne *types.NetworkError
	if !errors.As(ex.LastErr, &ne) {
		t.Errorf("LastErr = %v, want NetworkError", ex.LastErr)
	}
	if len(sleeps) != 1 {
		t.Errorf("sleeps: got %d, want 1", len(sleeps))
	}
}

func TestFetchAll_PageFailureAbortsPagination(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset >= 100 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		recs := make([]map[string]int, 100)
		for i := range recs {
			recs[i] = map[string]int{"id": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"list": recs, "total": 300})
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	records, _, err := collect(t, e, Request{Path: "/x", Container: "list", Paginated: true})

	var ae *types.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError from second page, got %v", err)
	}
	// First page's records were already streamed before the failure.
	if len(records) != 100 {
		t.Errorf("records before abort: got %d, want 100", len(records))
	}
}

func TestFetchAll_EmitErrorAborts(t *testing.T) {
	var calls int
	srv := paginatedServer(t, 300, &calls)
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	boom := errors.New("sink write failed")
	_, err := e.FetchAll(context.Background(),
		Request{Path: "/x", Container: "list", Paginated: true},
		func(json.RawMessage) error { return boom })

	if !errors.Is(err, boom) {
		t.Fatalf("emit error should propagate, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls after emit failure: got %d, want 1", calls)
	}
}

func TestFetchAll_QueryParamsPreserved(t *testing.T) {
	var gotArchived string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotArchived = r.URL.Query().Get("is_archived")
		fmt.Fprint(w, `{"suggestions": []}`)
	}))
	defer srv.Close()

	e, _ := newTestEngine(srv, 6, 100)
	_, _, err := collect(t, e, Request{
		Path:      "/suggestions/list",
		Method:    http.MethodPost,
		Query:     url.Values{"is_archived": []string{"true"}},
		Container: "suggestions",
	})
	if err != nil {
		t.Fatalf("FetchAll() error: %v", err)
	}
	if gotArchived != "true" {
		t.Errorf("is_archived query param: got %q", gotArchived)
	}
}
