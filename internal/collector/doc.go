// Package collector defines the named collection jobs (which endpoint each
// one hits, which payload field carries its records, whether it paginates)
// and the Runner that executes a job: run-start event, streamed records with
// the documented envelope merge, then a run-summary with the fetch
// statistics.
//
// Records pass through unmodified except for the envelope fields the job
// declares (event_type, retrieved_at, and per-pass context such as
// is_archived). No payload field is ever dropped or renamed.
package collector
