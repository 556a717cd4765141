// Package types defines shared Go types used by both asmfeed binaries and by
// downstream consumers of the NDJSON stream: the error taxonomy for collection
// runs, per-run fetch statistics, and the diagnostic report shape emitted by
// asmprobe. These are the canonical in-memory representations, separate from
// any one endpoint's payload format.
package types
