package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/acme/autocert"

	"github.com/gatekeep/gatekeeper/internal/audit"
	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/netutil"
)

var errHostNotAllowed = errors.New("host not allowed")

type staticCertificate struct {
	cert tls.Certificate
	leaf *x509.Certificate
}

func loadStaticCertificate(certFile, keyFile string) (*staticCertificate, error) {
	cert, err := tls.LoadX509KeyPair(strings.TrimSpace(certFile), strings.TrimSpace(keyFile))
	if err != nil {
		return nil, fmt.Errorf("load tls certificate: %w", err)
	}
	var leaf *x509.Certificate
	if len(cert.Certificate) > 0 {
		leaf, _ = x509.ParseCertificate(cert.Certificate[0])
	}
	return &staticCertificate{cert: cert, leaf: leaf}, nil
}

func (c *staticCertificate) supportsHost(host string) bool {
	if c == nil {
		return false
	}
	if host == "" || c.leaf == nil {
		return true
	}
	return c.leaf.VerifyHostname(host) == nil
}

func (c *staticCertificate) subject() string {
	if c == nil || c.leaf == nil {
		return ""
	}
	return c.leaf.Subject.String()
}

// hostPolicy admits the platform domain and tenant hosts that resolve to a
// servable workspace. Anything else never reaches the ACME CA.
func (s *Server) hostPolicy(ctx context.Context, host string) error {
	host = netutil.NormalizeHost(host)
	base := s.resolver.DefaultDomain()
	if host == base || host == "www."+base {
		return nil
	}
	if host == "" || netutil.IsLocalHost(host) {
		return errHostNotAllowed
	}
	dc := s.resolver.Resolve(ctx, host, "https")
	if dc.WorkspaceID == "" || dc.Rejected() {
		return errHostNotAllowed
	}
	s.queueSSLStatus(dc.DomainID, domain.SSLStatusProvisioning)
	return nil
}

func (s *Server) selectCertificate(manager *autocert.Manager, static *staticCertificate) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		host := netutil.NormalizeHost(hello.ServerName)
		if static.supportsHost(host) {
			return &static.cert, nil
		}
		if manager == nil {
			return nil, fmt.Errorf("tls certificate does not cover host %q", host)
		}
		cert, err := manager.GetCertificate(hello)
		s.recordCertificateOutcome(hello.Context(), host, err)
		return cert, err
	}
}

// recordCertificateOutcome advances sslStatus for admitted tenant hosts.
func (s *Server) recordCertificateOutcome(ctx context.Context, host string, err error) {
	if errors.Is(err, errHostNotAllowed) || host == "" {
		return
	}
	base := s.resolver.DefaultDomain()
	if host == base || host == "www."+base {
		return
	}
	dc := s.resolver.Resolve(ctx, host, "https")
	if dc.DomainID == "" {
		return
	}
	if err == nil {
		s.queueSSLStatus(dc.DomainID, domain.SSLStatusActive)
		return
	}
	s.log.Warn("certificate provisioning failed", "host", host, "domain_id", dc.DomainID, "err", err)
	s.audit.Record(audit.Event{Kind: audit.KindCertificate, Host: host, WorkspaceID: dc.WorkspaceID, Reason: err.Error()})
	s.queueSSLStatus(dc.DomainID, domain.SSLStatusFailed)
}

// tlsErrorLogWriter routes net/http's TLS error log into slog, demoting
// scanner noise to debug.
type tlsErrorLogWriter struct {
	log      *slog.Logger
	hintOnce sync.Once
	acme     bool
}

func newTLSErrorLogWriter(logger *slog.Logger, acme bool) *tlsErrorLogWriter {
	return &tlsErrorLogWriter{log: logger, acme: acme}
}

func (w *tlsErrorLogWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	const marker = "TLS handshake error from "
	_, payload, found := strings.Cut(line, marker)
	if !found {
		w.log.Warn("https server error", "err", line)
		return len(p), nil
	}
	addr, reason, ok := strings.Cut(payload, ": ")
	addr = strings.TrimSpace(addr)
	reason = strings.TrimSpace(reason)
	switch {
	case !ok:
		w.log.Debug("tls handshake dropped", "detail", payload)
	case isScannerTLSReason(reason):
		w.log.Debug("tls handshake rejected", "remote_addr", addr, "reason", reason)
	case w.acme && isProvisioningTLSReason(reason):
		w.hintOnce.Do(func() {
			w.log.Info("certificate provisioning in progress for a new host; early handshake failures are expected")
		})
		w.log.Info("tls handshake retried during provisioning", "remote_addr", addr, "reason", reason)
	default:
		w.log.Warn("tls handshake failed", "remote_addr", addr, "reason", reason)
	}
	return len(p), nil
}

var scannerTLSReasons = []string{
	"missing server name",
	"unsupported application protocols",
	"offered only unsupported versions",
	"no cipher suite supported",
	"unsupported sslv2 handshake",
	errHostNotAllowed.Error(),
	"connection reset by peer",
	"i/o timeout",
	"does not look like a tls handshake",
	"http request to an https server",
}

func isScannerTLSReason(reason string) bool {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		return false
	}
	if reason == "eof" {
		return true
	}
	for _, marker := range scannerTLSReasons {
		if strings.Contains(reason, marker) {
			return true
		}
	}
	return false
}

func isProvisioningTLSReason(reason string) bool {
	reason = strings.ToLower(reason)
	return strings.Contains(reason, "bad certificate") ||
		strings.Contains(reason, "failed to verify certificate") ||
		strings.Contains(reason, "x509:")
}
