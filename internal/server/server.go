// Package server is the gatekeeper HTTP front door. It resolves each
// request's host to a workspace, applies routing and portal rules, and
// proxies what survives to the upstream application.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatekeep/gatekeeper/internal/audit"
	"github.com/gatekeep/gatekeeper/internal/auth"
	"github.com/gatekeep/gatekeeper/internal/config"
	"github.com/gatekeep/gatekeeper/internal/debughttp"
	"github.com/gatekeep/gatekeeper/internal/dnsverify"
	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/domainstore"
	"github.com/gatekeep/gatekeeper/internal/identity"
	"github.com/gatekeep/gatekeeper/internal/log"
	"github.com/gatekeep/gatekeeper/internal/netutil"
	"github.com/gatekeep/gatekeeper/internal/ownership"
	"github.com/gatekeep/gatekeeper/internal/portal"
	"github.com/gatekeep/gatekeeper/internal/ratelimit"
	"github.com/gatekeep/gatekeeper/internal/resolver"
	"github.com/gatekeep/gatekeeper/internal/routing"
	"github.com/gatekeep/gatekeeper/internal/waf"
)

const (
	healthPath      = "/healthz"
	brandingCSSPath = "/_gatekeeper/branding.css"
	auditStreamPath = "/_gatekeeper/audit/stream"

	sslQueueSize = 64
)

// Store is everything the server reads and writes durably.
// *sqlite.Store implements it.
type Store interface {
	domainstore.Store
	portal.Store
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      config.ServerConfig
	store    Store
	log      *slog.Logger
	now      func() time.Time
	verifier ownership.Verifier

	domains   *domainstore.Client
	resolver  *resolver.Resolver
	ownership *ownership.Validator
	portals   *portal.Validator
	limiter   *ratelimit.Limiter
	auth      *identity.Authenticator
	policy    routing.Policy
	audit     *audit.Recorder
	filter    *waf.Filter
	proxy     *httputil.ReverseProxy
	handler   http.Handler

	sslUpdates chan string
	sslMu      sync.Mutex
	sslPending map[string]domain.SSLStatus
	sslKnown   map[string]domain.SSLStatus
}

// Option customizes a Server.
type Option func(*Server)

// WithVerifier replaces the DNS ownership verifier.
func WithVerifier(v ownership.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithClock overrides the time source for every time-dependent component.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithAudit shares an audit recorder with the caller.
func WithAudit(rec *audit.Recorder) Option {
	return func(s *Server) { s.audit = rec }
}

func New(cfg config.ServerConfig, store Store, logger *slog.Logger, opts ...Option) (*Server, error) {
	upstream, err := url.Parse(strings.TrimSpace(cfg.UpstreamURL))
	if err != nil || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", cfg.UpstreamURL)
	}
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		cfg:        cfg,
		store:      store,
		log:        logger,
		now:        time.Now,
		sslUpdates: make(chan string, sslQueueSize),
		sslPending: make(map[string]domain.SSLStatus),
		sslKnown:   make(map[string]domain.SSLStatus),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		s.verifier = dnsverify.New(nil)
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder(0)
	}

	s.domains = domainstore.New(store, domainstore.Options{
		LookupTimeout:   cfg.LookupTimeout,
		BrandingTTL:     cfg.BrandingCacheTTL,
		SubscriptionTTL: cfg.SubscriptionCacheTTL,
		SweepInterval:   cfg.CacheSweepInterval,
		Now:             s.now,
	})
	s.resolver = resolver.New(s.domains, resolver.Options{
		DefaultDomain: cfg.DefaultDomain,
		TTL:           cfg.DomainCacheTTL,
		Attempts:      cfg.LookupAttempts,
		Backoff:       cfg.LookupBackoff,
		SweepInterval: cfg.CacheSweepInterval,
		Now:           s.now,
		Logger:        logger,
	})
	s.ownership = ownership.New(s.domains, ownership.Options{
		RecheckInterval: cfg.OwnershipRecheck,
		Attempts:        cfg.LookupAttempts,
		Backoff:         cfg.LookupBackoff,
		Verifier:        s.verifier,
		Invalidator:     s.resolver,
		Now:             s.now,
		Logger:          logger,
	})
	s.portals = portal.New(store, portal.Options{
		Policy:        portal.Policy{MaxAttempts: cfg.PortalMaxAttempts, LockDuration: cfg.PortalLockDuration},
		CacheTTL:      cfg.PortalCacheTTL,
		LookupTimeout: cfg.LookupTimeout,
		SweepInterval: cfg.CacheSweepInterval,
		Now:           s.now,
		Logger:        logger,
	})
	s.limiter = ratelimit.New(ratelimit.DefaultLimits(), ratelimit.WithClock(s.now))
	s.auth = identity.New(cfg.SessionSecret).WithClock(s.now)
	s.policy = routing.DefaultPolicy(s.resolver.DefaultDomain())
	if cfg.TrialGracePeriod > 0 {
		s.policy.TrialGrace = cfg.TrialGracePeriod
	}
	s.filter = waf.New(waf.Options{
		Mode:    waf.Mode(cfg.WAFMode),
		Exempt:  []string{healthPath, "/_gatekeeper/"},
		OnMatch: s.recordFiltered,
		Logger:  logger,
	})
	s.proxy = newUpstreamProxy(upstream, cfg.RequestTimeout, logger)
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full gatekeeper handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Audit exposes the recorder security events are written to.
func (s *Server) Audit() *audit.Recorder {
	return s.audit
}

// Close stops cache sweepers. Run calls it on exit.
func (s *Server) Close() {
	s.resolver.Close()
	s.domains.Close()
	s.portals.Close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.trustedRealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.filter.Middleware)

	r.Get(healthPath, s.handleHealth)
	r.Get(brandingCSSPath, s.handleBrandingCSS)
	r.Get(auditStreamPath, s.requireAdmin(audit.StreamHandler(s.audit, s.log)))
	r.Handle("/*", http.HandlerFunc(s.handleGate))
	return r
}

// trustedRealIP honors client IP headers only from configured proxies. Other
// peers are keyed by their socket address.
func (s *Server) trustedRealIP(next http.Handler) http.Handler {
	withHeaders := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if netutil.PeerTrusted(r, s.cfg.TrustedProxies) {
			withHeaders.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recordFiltered(r *http.Request, m waf.Match) {
	status := 0
	if m.Blocked {
		status = http.StatusForbidden
	}
	s.audit.Record(audit.Event{
		Kind:      audit.KindRequestFiltered,
		Host:      m.Host,
		Path:      m.Path,
		ClientIP:  m.ClientIP,
		Reason:    m.Rule,
		Status:    status,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// debugHandler adds the recent audit log to the debug listener.
func (s *Server) debugHandler() http.Handler {
	return debughttp.Handler(func(r chi.Router) {
		r.Get("/ops/audit", func(w http.ResponseWriter, req *http.Request) {
			n, _ := strconv.Atoi(req.URL.Query().Get("n"))
			netutil.WriteJSON(w, http.StatusOK, s.audit.Recent(n))
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", "err", err)
		netutil.WriteJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse{Error: "store unavailable", ErrorCode: "store_unavailable"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireAdmin gates operator endpoints on the configured admin token. With
// no token configured they do not exist.
func (s *Server) requireAdmin(next http.Handler) http.HandlerFunc {
	var want string
	if s.cfg.AdminToken != "" {
		want = auth.HashToken(s.cfg.AdminToken)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if want == "" {
			http.NotFound(w, r)
			return
		}
		presented, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" {
			presented = r.URL.Query().Get("token")
		}
		if !auth.TokenMatches(presented, want) {
			netutil.WriteJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized", ErrorCode: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	}
}
