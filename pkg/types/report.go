package types

// Stats summarizes one FetchAll call: how hard the engine had to
// work and what it got back. The collector runner folds these into the
// run_summary event.
type Stats struct {
	// Attempts is the total number of HTTP attempts across all pages,
	// including retries.
	Attempts int `json:"attempts"`

	// HTTPStatus is the status code of the last response received.
	HTTPStatus int `json:"http_status"`

	// LatencyMS is wall-clock time for the whole fetch, in milliseconds.
	LatencyMS int64 `json:"latency_ms"`

	// Records is the number of records emitted.
	Records int `json:"records_retrieved"`

	// RawTotal is the server-reported running total, when the endpoint
	// returns one; -1 otherwise.
	RawTotal int `json:"raw_total"`
}

// DiagnosticResult is the per-target report produced by asmprobe. The shape
// is stable: inapplicable fields are null rather than omitted, so downstream
// consumers stay schema-stable.
type DiagnosticResult struct {
	URL        string   `json:"url"`
	Success    bool     `json:"success"`
	ProxyUsed  bool     `json:"proxy_used"`
	FinalURL   *string  `json:"final_url"`
	ResolvedIP *string  `json:"resolved_ip"`
	HTTPStatus *int     `json:"http_status"`
	LatencyMS  *float64 `json:"latency_ms"`
	TLS        TLSInfo  `json:"tls"`
	Cert       CertInfo `json:"cert"`
	Error      *string  `json:"error"`
}

// TLSInfo holds the negotiated TLS parameters for a direct connection.
// Note carries an explanation when inspection is unavailable (proxied path).
type TLSInfo struct {
	Version *string `json:"tls_version"`
	Cipher  *string `json:"cipher"`
	Note    *string `json:"note"`
}

// CertInfo holds best-effort fields extracted from the peer certificate.
// Each field is populated independently; a partial CertInfo is valid output.
type CertInfo struct {
	SubjectCN *string `json:"subject_cn"`
	IssuerCN  *string `json:"issuer_cn"`
	NotBefore *string `json:"not_before"`
	NotAfter  *string `json:"not_after"`
	SANCount  *int    `json:"sans_count"`
}
