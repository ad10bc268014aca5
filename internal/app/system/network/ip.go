// Package network provides request address helpers for logging.
package network

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the best guess at the caller's address for log fields.
// The first well-formed entry of X-Forwarded-For wins, then X-Real-IP, then
// the host part of RemoteAddr. Header values are not trusted for access
// decisions.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}

	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// parseIP returns the canonical form of s, or "" if s is not an address.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
