// internal/app/system/certcheck/certcheck.go
package certcheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// CertInfo describes the certificate a TLS endpoint presents.
type CertInfo struct {
	Host      string    `json:"host"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	DaysLeft  int       `json:"daysLeft"`
	Issuer    string    `json:"issuer,omitempty"`
	IsValid   bool      `json:"isValid"`
	Error     string    `json:"error,omitempty"`
}

// Checker dials TLS endpoints and reports their leaf certificate.
type Checker struct {
	// Timeout bounds the dial and handshake. Zero means 5s.
	Timeout time.Duration
	// RootCAs overrides the system pool.
	RootCAs *x509.CertPool
	now     func() time.Time
}

// Check connects to target, which may be a URL (https://example.com), a
// host, or host:port. Port 443 is assumed when none is given. Failures are
// reported in CertInfo.Error rather than returned.
func (c Checker) Check(ctx context.Context, target string) CertInfo {
	host, addr, err := splitTarget(target)
	if err != nil {
		return CertInfo{Host: target, Error: err.Error()}
	}
	info := CertInfo{Host: host}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{ServerName: host, RootCAs: c.RootCAs},
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		info.Error = fmt.Sprintf("connection failed: %v", err)
		return info
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		info.Error = "no certificates found"
		return info
	}

	now := time.Now()
	if c.now != nil {
		now = c.now()
	}
	cert := certs[0]
	info.ExpiresAt = cert.NotAfter
	info.DaysLeft = int(cert.NotAfter.Sub(now).Hours() / 24)
	info.Issuer = cert.Issuer.CommonName
	info.IsValid = now.Before(cert.NotAfter) && now.After(cert.NotBefore)
	return info
}

// splitTarget returns the TLS server name and the dial address.
func splitTarget(target string) (host, addr string, err error) {
	t := strings.TrimSpace(target)
	if strings.Contains(t, "://") {
		u, err := url.Parse(t)
		if err != nil {
			return "", "", fmt.Errorf("invalid url: %w", err)
		}
		t = u.Host
	}
	if t == "" {
		return "", "", errors.New("invalid host")
	}
	if h, p, err := net.SplitHostPort(t); err == nil {
		return h, net.JoinHostPort(h, p), nil
	}
	return t, net.JoinHostPort(t, "443"), nil
}
