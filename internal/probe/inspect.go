package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"time"
)

// TLSInspector is the narrow capability for reading negotiated TLS
// parameters after a request. Each accessor reports whether its value is
// available; the proxied path implements none of them, since the proxy
// terminates or tunnels the handshake and low-level introspection there
// would fabricate values.
type TLSInspector interface {
	NegotiatedTLSVersion() (string, bool)
	NegotiatedCipher() (string, bool)
	PeerCertificate() (*x509.Certificate, bool)
}

// captureDialer dials TLS directly and records the connection state of the
// most recent handshake, implementing TLSInspector for the direct path.
type captureDialer struct {
	connectTimeout time.Duration
	insecure       bool

	mu    sync.Mutex
	state *tls.ConnectionState
}

func (d *captureDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.connectTimeout},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: d.insecure, //nolint:gosec // user-configured
		},
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	// Redirect chains may handshake more than once; the last one wins,
	// matching the final URL the result reports.
	st := conn.(*tls.Conn).ConnectionState()
	d.mu.Lock()
	d.state = &st
	d.mu.Unlock()

	return conn, nil
}

func (d *captureDialer) connState() *tls.ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *captureDialer) NegotiatedTLSVersion() (string, bool) {
	st := d.connState()
	if st == nil {
		return "", false
	}
	return tls.VersionName(st.Version), true
}

func (d *captureDialer) NegotiatedCipher() (string, bool) {
	st := d.connState()
	if st == nil {
		return "", false
	}
	return tls.CipherSuiteName(st.CipherSuite), true
}

func (d *captureDialer) PeerCertificate() (*x509.Certificate, bool) {
	st := d.connState()
	if st == nil || len(st.PeerCertificates) == 0 {
		return nil, false
	}
	return st.PeerCertificates[0], true
}

// unavailableInspector is the TLSInspector for the proxied path.
type unavailableInspector struct{}

func (unavailableInspector) NegotiatedTLSVersion() (string, bool) { return "", false }
func (unavailableInspector) NegotiatedCipher() (string, bool)     { return "", false }
func (unavailableInspector) PeerCertificate() (*x509.Certificate, bool) {
	return nil, false
}
