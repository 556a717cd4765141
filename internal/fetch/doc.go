// Package fetch implements the resilient retrieval engine shared by every
// collector: bounded retries with exponential backoff and jitter, Retry-After
// handling for rate limits, offset/limit pagination with multiple termination
// conditions, and extraction of the named container field from otherwise
// opaque API payloads.
//
// Within one call the flow is strictly sequential: page N+1 is never
// requested before page N completes, and the delay before a retry is a
// blocking wait on the calling flow. Records stream to the caller through an
// emit callback so arbitrarily large result sets never buffer in memory.
package fetch
