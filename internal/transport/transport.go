// Package transport constructs the HTTP client every collector and probe
// shares: optional proxy routing for both schemes, per-request connect and
// read timeouts, TLS verification policy, and credential header injection.
// Construction is pure; no network I/O happens until the client is used.
package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/asmfeed/asmfeed/internal/config"
)

// Connection-pool settings shared by all clients. A single run reuses the
// transport across paginated requests; runs do not share clients.
const (
	maxIdleConns        = 10
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// authRoundTripper injects the API credential and Accept header into every
// outgoing request. The credential is attached verbatim, with no scheme prefix.
type authRoundTripper struct {
	base       http.RoundTripper
	credential string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	if t.credential != "" {
		req.Header.Set("Authorization", t.credential)
	}
	return t.base.RoundTrip(req)
}

// Build constructs an http.Client for the given configuration. The connect
// timeout applies to dialing, the read timeout to waiting for response
// headers; there is deliberately no overall client timeout, since a
// collection run's wall-clock time is bounded by its caller.
func Build(cfg *config.Config) (*http.Client, error) {
	tr, err := baseTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &authRoundTripper{base: tr, credential: cfg.API.Credential().Reveal()},
	}, nil
}

// BuildAnonymous is Build without credential injection, for probing targets
// that must not see the API key.
func BuildAnonymous(cfg *config.Config) (*http.Client, error) {
	tr, err := baseTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr}, nil
}

// baseTransport builds the shared http.Transport. A partially specified
// proxy fails closed here via ProxyURL rather than bypassing the proxy.
func baseTransport(cfg *config.Config) (*http.Transport, error) {
	proxyURL, err := cfg.Proxy.ProxyURL()
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeouts.Connect(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // user-configured
		},
		ResponseHeaderTimeout: cfg.Timeouts.Read(),
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		MaxIdleConnsPerHost:   maxIdleConns,
		IdleConnTimeout:       idleConnTimeout,
	}
	if proxyURL != nil {
		// Routes both http and https egress through the proxy.
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	return tr, nil
}
