package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/netutil"
)

func newUpstreamProxy(target *url.URL, headerTimeout time.Duration, logger *slog.Logger) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if headerTimeout > 0 {
		transport.ResponseHeaderTimeout = headerTimeout
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// The application routes by tenant host, not the upstream's.
			pr.Out.Host = pr.In.Host
			stripProducedHeaders(pr.Out.Header)
			if info, ok := InfoFromContext(pr.In.Context()); ok {
				info.applyHeaders(pr.Out.Header)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, r.Context().Err()) {
				logger.Debug("upstream request canceled", "host", r.Host, "path", r.URL.Path)
				return
			}
			logger.Warn("upstream request failed", "host", r.Host, "path", r.URL.Path, "err", err)
			netutil.WriteJSON(w, http.StatusBadGateway, domain.ErrorResponse{Error: "upstream unavailable", ErrorCode: "upstream_unavailable"})
		},
	}
}

// stripProducedHeaders removes every case variant of the headers only the
// gatekeeper may set. Callers can send non-canonical keys through a raw map.
func stripProducedHeaders(h http.Header) {
	for k := range h {
		for _, name := range producedHeaders {
			if strings.EqualFold(k, name) {
				delete(h, k)
				break
			}
		}
	}
}
