// Package probe performs the connectivity and TLS posture test operators
// run before trusting the collection data path. Each target gets exactly
// one DiagnosticResult; a target failure is captured inline, never raised.
// TLS and certificate introspection is best-effort and direct-path only;
// through a proxy the probe reports inspection as unavailable rather than
// fabricating values.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/asmfeed/asmfeed/internal/config"
	"github.com/asmfeed/asmfeed/internal/transport"
	"github.com/asmfeed/asmfeed/pkg/types"
)

const (
	userAgent      = "asmprobe/1.0"
	proxyTLSNote   = "TLS inspection unavailable via proxy"
	maxDrainBytes  = 64 << 10
	defaultTimeout = 10 * time.Second
)

// Prober runs connectivity tests with the run configuration's proxy and TLS
// policy.
type Prober struct {
	cfg     *config.Config
	timeout time.Duration
	log     *slog.Logger
}

// New returns a Prober. timeout bounds each target's full request;
// non-positive values use the default.
func New(cfg *config.Config, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Prober{cfg: cfg, timeout: timeout, log: slog.Default()}
}

// Probe tests every target and returns one result per target, in order.
// A failing target never aborts the rest.
func (p *Prober) Probe(ctx context.Context, targets []string) []types.DiagnosticResult {
	results := make([]types.DiagnosticResult, 0, len(targets))
	for _, target := range targets {
		res := p.probeOne(ctx, target)
		p.log.Info("probe: target done",
			"url", target, "success", res.Success, "proxy", res.ProxyUsed)
		results = append(results, res)
	}
	return results
}

func (p *Prober) probeOne(ctx context.Context, target string) types.DiagnosticResult {
	res := types.DiagnosticResult{URL: target}

	proxyURL, err := p.cfg.Proxy.ProxyURL()
	if err != nil {
		res.Error = strPtr("Proxy error: " + err.Error())
		return res
	}
	res.ProxyUsed = proxyURL != nil
	if res.ProxyUsed {
		res.TLS.Note = strPtr(proxyTLSNote)
	}

	// Best-effort DNS resolution for reporting; failure leaves the field
	// null and the test proceeds.
	if u, perr := url.Parse(target); perr == nil && u.Hostname() != "" {
		if addrs, derr := net.DefaultResolver.LookupHost(ctx, u.Hostname()); derr == nil && len(addrs) > 0 {
			res.ResolvedIP = strPtr(addrs[0])
		}
	}

	client, inspector, err := p.buildClient(res.ProxyUsed)
	if err != nil {
		res.Error = strPtr(classify(err))
		return res
	}
	defer client.CloseIdleConnections()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		res.Error = strPtr("Unexpected error: invalid target URL: " + err.Error())
		return res
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		res.Error = strPtr(classify(err))
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	latency := math.Round(float64(time.Since(start).Microseconds())/10) / 100
	res.LatencyMS = &latency
	res.HTTPStatus = &resp.StatusCode
	res.FinalURL = strPtr(resp.Request.URL.String())

	fillTLS(&res, inspector)

	if resp.StatusCode >= 400 {
		res.Error = strPtr(fmt.Sprintf("HTTP error: status %d", resp.StatusCode))
		return res
	}
	res.Success = true
	return res
}

// buildClient returns the client and the TLS inspector matching the path.
// The proxied client comes straight from the transport package; the direct
// client swaps in a state-capturing TLS dialer.
func (p *Prober) buildClient(proxied bool) (*http.Client, TLSInspector, error) {
	if proxied {
		client, err := transport.BuildAnonymous(p.cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, unavailableInspector{}, nil
	}

	dialer := &captureDialer{
		connectTimeout: p.cfg.Timeouts.Connect(),
		insecure:       p.cfg.InsecureSkipVerify,
	}
	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: p.cfg.Timeouts.Connect(),
		}).DialContext,
		DialTLSContext:        dialer.DialTLSContext,
		ResponseHeaderTimeout: p.cfg.Timeouts.Read(),
	}
	return &http.Client{Transport: tr}, dialer, nil
}

// fillTLS populates TLS and certificate fields from the inspector. Every
// extraction step is independent: one missing value never blocks the rest.
func fillTLS(res *types.DiagnosticResult, inspector TLSInspector) {
	if v, ok := inspector.NegotiatedTLSVersion(); ok {
		res.TLS.Version = &v
	}
	if c, ok := inspector.NegotiatedCipher(); ok {
		res.TLS.Cipher = &c
	}

	cert, ok := inspector.PeerCertificate()
	if !ok {
		return
	}
	if cn := cert.Subject.CommonName; cn != "" {
		res.Cert.SubjectCN = &cn
	}
	if cn := cert.Issuer.CommonName; cn != "" {
		res.Cert.IssuerCN = &cn
	}
	res.Cert.NotBefore = strPtr(cert.NotBefore.UTC().Format(time.RFC3339))
	res.Cert.NotAfter = strPtr(cert.NotAfter.UTC().Format(time.RFC3339))
	sans := len(cert.DNSNames) + len(cert.IPAddresses) + len(cert.EmailAddresses) + len(cert.URIs)
	res.Cert.SANCount = &sans
}

// classify maps a transport error to the human-readable categories the
// diagnostic report documents.
func classify(err error) string {
	var (
		certErr   *tls.CertificateVerificationError
		recordErr tls.RecordHeaderError
		authErr   x509.UnknownAuthorityError
		dnsErr    *net.DNSError
		opErr     *net.OpError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &recordErr), errors.As(err, &authErr):
		return "TLS/SSL error: " + err.Error()
	case strings.Contains(err.Error(), "proxyconnect"):
		return "Proxy error: " + err.Error()
	case errors.As(err, &dnsErr):
		return "DNS failure: " + err.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return "Connect timeout: " + err.Error()
		}
		return "Read timeout: " + err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Read timeout: " + err.Error()
	}
	if errors.As(err, &opErr) {
		return "Connect error: " + err.Error()
	}
	return "Unexpected error: " + err.Error()
}

func strPtr(s string) *string { return &s }
