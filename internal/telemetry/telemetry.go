// Package telemetry tracks per-collector run counters for daemon mode and
// exposes them in Prometheus text exposition format, so the long-running
// process can be scraped like any other pipeline component.
package telemetry

import (
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/asmfeed/asmfeed/pkg/types"
)

type counters struct {
	runs     float64
	errors   float64
	records  float64
	attempts float64
}

// Registry accumulates run counters keyed by collector name.
// All methods are safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	data map[string]*counters
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{data: make(map[string]*counters)}
}

// RecordRun folds one completed (or failed) run into the counters.
// stats may be nil when the run failed before any request was made.
func (r *Registry) RecordRun(collector string, stats *types.Stats, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.data[collector]
	if !ok {
		c = &counters{}
		r.data[collector] = c
	}
	c.runs++
	if err != nil {
		c.errors++
	}
	if stats != nil {
		c.records += float64(stats.Records)
		c.attempts += float64(stats.Attempts)
	}
}

// Gather builds the metric families for the current counter values,
// deterministically ordered.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.data))
	for name := range r.data {
		names = append(names, name)
	}
	sort.Strings(names)

	families := []struct {
		name  string
		help  string
		value func(*counters) float64
	}{
		{"asmfeed_runs_total", "Collection runs started.", func(c *counters) float64 { return c.runs }},
		{"asmfeed_run_errors_total", "Collection runs that ended in error.", func(c *counters) float64 { return c.errors }},
		{"asmfeed_records_total", "Records emitted to the event sink.", func(c *counters) float64 { return c.records }},
		{"asmfeed_http_attempts_total", "HTTP attempts including retries.", func(c *counters) float64 { return c.attempts }},
	}

	out := make([]*dto.MetricFamily, 0, len(families))
	for _, fam := range families {
		mf := &dto.MetricFamily{
			Name: strP(fam.name),
			Help: strP(fam.help),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		for _, name := range names {
			mf.Metric = append(mf.Metric, &dto.Metric{
				Label: []*dto.LabelPair{
					{Name: strP("collector"), Value: strP(name)},
				},
				Counter: &dto.Counter{Value: f64P(fam.value(r.data[name]))},
			})
		}
		out = append(out, mf)
	}
	return out
}

// Handler serves the counters in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range r.Gather() {
			if err := enc.Encode(mf); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
	})
}

func strP(s string) *string   { return &s }
func f64P(f float64) *float64 { return &f }
