package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/asmfeed/asmfeed/internal/fetch"
	"github.com/asmfeed/asmfeed/internal/sink"
	"github.com/asmfeed/asmfeed/pkg/types"
)

// Runner executes collection jobs. It is the single explicit value carrying
// everything a run needs (engine, sink, logger, clock) so there is no
// hidden process-global state anywhere in a run.
type Runner struct {
	Engine    *fetch.Engine
	Sink      *sink.Writer
	Log       *slog.Logger
	ProxyUsed bool

	// Now and NewRunID are injectable for deterministic tests.
	Now      func() time.Time
	NewRunID func() string
}

// NewRunner returns a Runner with the default clock and UUID run IDs.
func NewRunner(engine *fetch.Engine, sk *sink.Writer, proxyUsed bool) *Runner {
	return &Runner{
		Engine:    engine,
		Sink:      sk,
		Log:       slog.Default(),
		ProxyUsed: proxyUsed,
		Now:       time.Now,
		NewRunID:  uuid.NewString,
	}
}

type runStartEvent struct {
	EventType string `json:"event_type"`
	TS        int64  `json:"ts"`
	RunID     string `json:"run_id"`
	Collector string `json:"collector"`
	Endpoint  string `json:"endpoint"`
}

type runSummaryEvent struct {
	EventType  string `json:"event_type"`
	TS         int64  `json:"ts"`
	RunID      string `json:"run_id"`
	Collector  string `json:"collector"`
	Endpoint   string `json:"endpoint"`
	HTTPStatus int    `json:"http_status"`
	Attempts   int    `json:"attempts"`
	LatencyMS  int64  `json:"latency_ms"`
	Records    int    `json:"records_retrieved"`
	RawTotal   int    `json:"raw_total"`
	ProxyUsed  bool   `json:"proxy_used"`
}

type runErrorEvent struct {
	EventType string `json:"event_type"`
	TS        int64  `json:"ts"`
	RunID     string `json:"run_id"`
	Collector string `json:"collector"`
	Endpoint  string `json:"endpoint"`
	Error     string `json:"error"`
}

// Run executes one job to completion: run_start, one line per record, then
// run_summary. On failure it writes exactly one structured error record and
// returns the error; stats reflect work done up to the failure.
func (r *Runner) Run(ctx context.Context, def Definition) (*types.Stats, error) {
	runID := r.NewRunID()
	start := r.Now()

	r.Log.Info("run: starting", "collector", def.Name, "run_id", runID)
	if err := r.Sink.WriteEvent(runStartEvent{
		EventType: def.EventType + "_run_start",
		TS:        start.Unix(),
		RunID:     runID,
		Collector: def.Name,
		Endpoint:  def.Path,
	}); err != nil {
		return nil, err
	}

	total := &types.Stats{RawTotal: -1}
	for _, pass := range def.passes() {
		stats, err := r.runPass(ctx, def, pass)
		accumulate(total, stats)
		if err != nil {
			r.Log.Error("run: failed",
				"collector", def.Name, "run_id", runID, "err", err)
			_ = r.Sink.WriteEvent(runErrorEvent{
				EventType: def.EventType + "_error",
				TS:        r.Now().Unix(),
				RunID:     runID,
				Collector: def.Name,
				Endpoint:  def.Path,
				Error:     err.Error(),
			})
			return total, err
		}
	}
	total.LatencyMS = r.Now().Sub(start).Milliseconds()

	r.Log.Info("run: complete",
		"collector", def.Name,
		"run_id", runID,
		"records", total.Records,
		"attempts", total.Attempts,
		"latency_ms", total.LatencyMS,
	)
	err := r.Sink.WriteEvent(runSummaryEvent{
		EventType:  def.EventType + "_run_summary",
		TS:         r.Now().Unix(),
		RunID:      runID,
		Collector:  def.Name,
		Endpoint:   def.Path,
		HTTPStatus: total.HTTPStatus,
		Attempts:   total.Attempts,
		LatencyMS:  total.LatencyMS,
		Records:    total.Records,
		RawTotal:   total.RawTotal,
		ProxyUsed:  r.ProxyUsed,
	})
	return total, err
}

// runPass streams one request variant's records through the envelope merge.
func (r *Runner) runPass(ctx context.Context, def Definition, pass Pass) (*types.Stats, error) {
	req := fetch.Request{
		Path:      def.Path,
		Method:    def.Method,
		Query:     pass.Query,
		Body:      pass.Body,
		Container: def.Container,
		Paginated: def.Paginated,
	}
	return r.Engine.FetchAll(ctx, req, func(record json.RawMessage) error {
		out, err := r.envelope(record, def, pass)
		if err != nil {
			return err
		}
		return r.Sink.WriteRaw(out)
	})
}

// envelope merges the documented context fields into a record. The record's
// own fields are never dropped or renamed; a payload field colliding with an
// envelope key is overwritten, which the envelope keys are chosen to avoid.
func (r *Runner) envelope(record json.RawMessage, def Definition, pass Pass) (json.RawMessage, error) {
	out := []byte(record)
	var err error
	if out, err = sjson.SetBytes(out, "event_type", def.EventType); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "retrieved_at", r.Now().Unix()); err != nil {
		return nil, err
	}
	for k, v := range pass.Envelope {
		if out, err = sjson.SetBytes(out, k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// accumulate folds one pass's stats into the run total.
func accumulate(total, stats *types.Stats) {
	if stats == nil {
		return
	}
	total.Attempts += stats.Attempts
	total.Records += stats.Records
	total.HTTPStatus = stats.HTTPStatus
	if stats.RawTotal >= 0 {
		total.RawTotal = stats.RawTotal
	}
}
