package fetch

import (
	"bytes"
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

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/asmfeed/asmfeed/internal/config"
	"github.com/asmfeed/asmfeed/pkg/types"
)

// maxErrBody bounds how much of a terminal response body is captured as
// diagnostic context.
const maxErrBody = 2048

// Request describes one logical retrieval against the API.
type Request struct {
	// Path is joined to the engine's base URL unless it is already absolute.
	Path string

	// Method defaults to GET when empty.
	Method string

	// Query parameters sent with every page.
	Query url.Values

	// Body is marshaled as a JSON request body when non-nil.
	Body any

	// Container names the payload field holding the record list
	// ("list", "suggestions", "txt_records"). Empty means the whole
	// response object is the single record.
	Container string

	// Paginated drives the endpoint with offset/limit parameters.
	Paginated bool
}

// EmitFunc receives each record as it is retrieved. Records pass through
// unmodified; returning an error aborts the fetch.
type EmitFunc func(record json.RawMessage) error

// Engine composes the shared HTTP client with the retry policy and, for
// list endpoints, the pagination cursor. One Engine serves one run; the
// underlying client pools connections across its paginated requests.
type Engine struct {
	client      *http.Client
	baseURL     string
	maxAttempts int
	pageLimit   int
	limiter     *rate.Limiter

	// sleep is injectable so tests assert retry timing without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Engine from the run configuration and a client produced by
// the transport package.
func New(client *http.Client, cfg *config.Config) *Engine {
	e := &Engine{
		client:      client,
		baseURL:     strings.TrimRight(cfg.API.BaseURL, "/"),
		maxAttempts: cfg.Retry.MaxAttempts,
		pageLimit:   cfg.Jobs.PageLimit,
		sleep:       sleepCtx,
	}
	if cfg.RateLimitPerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1)
	}
	return e
}

// FetchAll retrieves every record the request describes, calling emit once
// per record in request order. It returns run statistics alongside any
// terminal error; stats are valid even on failure (attempts so far, last
// status seen).
func (e *Engine) FetchAll(ctx context.Context, req Request, emit EmitFunc) (*types.Stats, error) {
	start := time.Now()
	stats := &types.Stats{RawTotal: -1}
	defer func() {
		stats.LatencyMS = time.Since(start).Milliseconds()
	}()

	if !req.Paginated {
		err := e.fetchPage(ctx, req, req.Query, stats, emit)
		return stats, err
	}

	cur := newCursor(e.pageLimit)
	for {
		q := cloneValues(req.Query)
		q.Set("offset", strconv.Itoa(cur.offset))
		q.Set("limit", strconv.Itoa(cur.limit))

		pageStats := &types.Stats{RawTotal: -1}
		if err := e.fetchPage(ctx, req, q, pageStats, emit); err != nil {
			stats.Attempts += pageStats.Attempts
			stats.HTTPStatus = pageStats.HTTPStatus
			return stats, err
		}
		stats.Attempts += pageStats.Attempts
		stats.HTTPStatus = pageStats.HTTPStatus
		stats.Records += pageStats.Records
		if pageStats.RawTotal >= 0 {
			stats.RawTotal = pageStats.RawTotal
		}

		if !cur.advance(pageStats.Records, pageStats.RawTotal) {
			return stats, nil
		}
	}
}

// fetchPage performs one retried request and streams its records.
func (e *Engine) fetchPage(ctx context.Context, req Request, query url.Values, stats *types.Stats, emit EmitFunc) error {
	payload, status, attempts, err := e.doRetry(ctx, req, query)
	stats.Attempts += attempts
	stats.HTTPStatus = status
	if err != nil {
		return err
	}

	if req.Container == "" {
		// Whole-object endpoint: the response itself is the record.
		stats.Records++
		return emit(json.RawMessage(payload))
	}

	list := gjson.GetBytes(payload, req.Container)
	if !list.Exists() {
		return &types.ProtocolError{
			Reason: fmt.Sprintf("response missing %q field", req.Container),
		}
	}
	if !list.IsArray() {
		return &types.ProtocolError{
			Reason: fmt.Sprintf("%q field is %s, expected a list", req.Container, list.Type),
		}
	}

	var emitErr error
	list.ForEach(func(_, rec gjson.Result) bool {
		if err := emit(json.RawMessage(rec.Raw)); err != nil {
			emitErr = err
			return false
		}
		stats.Records++
		return true
	})
	if emitErr != nil {
		return emitErr
	}

	if total := gjson.GetBytes(payload, "total"); total.Type == gjson.Number {
		stats.RawTotal = int(total.Int())
	}
	return nil
}

// doRetry issues one request under the retry policy. Rate-limit (429) and
// transient (5xx, network) failures back off and retry until the attempt
// budget is spent; definitive client errors and contract violations fail
// fast so a bad credential does not burn thirty seconds of backoff.
func (e *Engine) doRetry(ctx context.Context, req Request, query url.Values) (payload []byte, status int, attempts int, err error) {
	fullURL, err := e.buildURL(req.Path, query)
	if err != nil {
		return nil, 0, 0, err
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var (
		lastStatus int
		lastErr    error
	)

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, lastStatus, attempt - 1, err
			}
		}

		resp, err := e.do(ctx, req.Method, fullURL, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, lastStatus, attempt, ctx.Err()
			}
			lastErr = &types.NetworkError{Err: err}
			lastStatus = 0
			slog.Warn("fetch: network error, will retry",
				"url", req.Path, "attempt", attempt, "err", err)
			if serr := e.backoff(ctx, attempt, 0); serr != nil {
				return nil, lastStatus, attempt, serr
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			ra := parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = &types.RateLimitError{RetryAfter: ra}
			slog.Warn("fetch: rate limited",
				"url", req.Path, "attempt", attempt, "retry_after", ra)
			if serr := e.backoff(ctx, attempt, ra); serr != nil {
				return nil, lastStatus, attempt, serr
			}
			continue

		case resp.StatusCode >= 500:
			lastErr = &types.TransientServerError{Status: resp.StatusCode}
			slog.Warn("fetch: server error, will retry",
				"url", req.Path, "attempt", attempt, "status", resp.StatusCode)
			if serr := e.backoff(ctx, attempt, 0); serr != nil {
				return nil, lastStatus, attempt, serr
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, lastStatus, attempt, &types.AuthError{
				Status: resp.StatusCode, Body: truncate(data),
			}

		case resp.StatusCode == http.StatusNotFound:
			return nil, lastStatus, attempt, &types.NotFoundError{Body: truncate(data)}

		case resp.StatusCode >= 300:
			// Includes 400: a request this process built and the server
			// rejected outright is a contract problem, not a transient one.
			return nil, lastStatus, attempt, &types.ProtocolError{
				Reason: fmt.Sprintf("unexpected HTTP %d: %s", resp.StatusCode, truncate(data)),
			}

		default: // 2xx
			if readErr != nil {
				lastErr = &types.NetworkError{Err: readErr}
				slog.Warn("fetch: body read failed, will retry",
					"url", req.Path, "attempt", attempt, "err", readErr)
				if serr := e.backoff(ctx, attempt, 0); serr != nil {
					return nil, lastStatus, attempt, serr
				}
				continue
			}
			if !gjson.ValidBytes(data) {
				return nil, lastStatus, attempt, &types.ProtocolError{
					Reason: "response body is not valid JSON",
				}
			}
			return data, lastStatus, attempt, nil
		}
	}

	return nil, lastStatus, e.maxAttempts, &types.ExhaustedRetriesError{
		Attempts:   e.maxAttempts,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}

// do issues a single HTTP request.
func (e *Engine) do(ctx context.Context, method, fullURL string, body []byte) (*http.Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return e.client.Do(httpReq)
}

// backoff sleeps before the next attempt. retryAfter > 0 takes precedence
// over the exponential curve, clamped to the same ceiling. No sleep happens
// after the final attempt.
func (e *Engine) backoff(ctx context.Context, attempt int, retryAfter float64) error {
	if attempt >= e.maxAttempts {
		return nil
	}
	var d time.Duration
	if retryAfter > 0 {
		d = retryAfterDelay(retryAfter) + jitter(retryAfterJitterMax)
	} else {
		d = backoffDelay(attempt) + jitter(backoffJitterMax)
	}
	return e.sleep(ctx, d)
}

// buildURL joins path to the base URL and attaches query parameters.
func (e *Engine) buildURL(path string, query url.Values) (string, error) {
	raw := path
	if !strings.Contains(path, "://") {
		raw = e.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &types.ConfigError{Reason: fmt.Sprintf("invalid endpoint %q: %v", path, err)}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// truncate bounds a response body snippet for diagnostic context.
func truncate(b []byte) string {
	if len(b) > maxErrBody {
		b = b[:maxErrBody]
	}
	return string(b)
}
