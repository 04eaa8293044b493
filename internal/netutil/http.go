// Package netutil provides shared HTTP/network normalization helpers.
package netutil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// IsLocalHost reports whether a normalized host is a loopback address or a
// development hostname.
func IsLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

// ClientIP returns the caller address without its port. RemoteAddr only
// reflects forwarded headers when the socket peer is a trusted proxy.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// PeerTrusted reports whether the socket peer of r falls inside one of nets.
func PeerTrusted(r *http.Request, nets []netip.Prefix) bool {
	if r == nil || len(nets) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ClientIP(r))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// RequestScheme returns "https" when the request arrived over TLS or the
// edge proxy says so.
func RequestScheme(r *http.Request, forwardedProto string) string {
	if r != nil && r.TLS != nil {
		return "https"
	}
	if p := strings.ToLower(strings.TrimSpace(forwardedProto)); p == "http" || p == "https" {
		return p
	}
	return "http"
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
