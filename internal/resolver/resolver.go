// Package resolver maps an inbound Host header to the workspace that owns
// it, caching results and coalescing concurrent misses.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gatekeep/gatekeeper/internal/cache"
	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/domainstore"
	"github.com/gatekeep/gatekeeper/internal/log"
	"github.com/gatekeep/gatekeeper/internal/netutil"
)

// CacheKeyPrefix namespaces resolved contexts in the cache.
const CacheKeyPrefix = "domain-config:"

// Source loads domain configuration. *domainstore.Client implements it.
type Source interface {
	DomainConfig(ctx context.Context, host string) (domainstore.Config, error)
	SubdomainConfig(ctx context.Context, label string) (domainstore.Config, error)
}

type Options struct {
	DefaultDomain string
	TTL           time.Duration
	Attempts      int
	Backoff       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

const defaultTTL = 5 * time.Minute

type Resolver struct {
	src           Source
	defaultDomain string
	ttl           time.Duration
	retry         domainstore.RetryPolicy
	log           *slog.Logger

	cache *cache.Cache[domain.DomainContext]
	group singleflight.Group
}

func New(src Source, opts Options) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Attempts <= 0 {
		opts.Attempts = domainstore.DefaultAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	} else if opts.Backoff == 0 {
		opts.Backoff = domainstore.DefaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Resolver{
		src:           src,
		defaultDomain: netutil.NormalizeHost(opts.DefaultDomain),
		ttl:           opts.TTL,
		retry:         domainstore.RetryPolicy{Attempts: opts.Attempts, Backoff: opts.Backoff, Logger: logger},
		log:           logger,
		cache:         cache.New[domain.DomainContext](cache.Options{SweepInterval: opts.SweepInterval, Now: opts.Now}),
	}
}

// Close stops the cache sweeper.
func (r *Resolver) Close() {
	r.cache.Close()
}

// DefaultDomain returns the normalized platform domain.
func (r *Resolver) DefaultDomain() string {
	return r.defaultDomain
}

// Resolve never fails: lookup problems degrade to the default-domain
// context, which carries no tenant association. forwardedProto is only
// used for log context.
func (r *Resolver) Resolve(ctx context.Context, hostHeader, forwardedProto string) domain.DomainContext {
	host := netutil.NormalizeHost(hostHeader)
	if host == "" || r.IsDefaultHost(host) {
		return r.defaultContext(host)
	}

	key := CacheKeyPrefix + host
	if dc, ok := r.cache.Get(key); ok {
		return cloneContext(dc)
	}

	// The shared lookup outlives any single caller; each caller abandons on
	// its own context while attempt timeouts bound the lookup itself.
	ch := r.group.DoChan(key, func() (any, error) {
		return r.lookup(context.WithoutCancel(ctx), host)
	})
	select {
	case <-ctx.Done():
		r.log.Debug("domain resolve abandoned", "host", host, "err", ctx.Err())
		return r.defaultContext(host)
	case res := <-ch:
		if res.Err != nil {
			r.log.Warn("domain lookup failed, serving default context",
				"host", host, "proto", forwardedProto, "err", res.Err)
			return r.defaultContext(host)
		}
		return cloneContext(res.Val.(domain.DomainContext))
	}
}

// Invalidate drops the cached context for host.
func (r *Resolver) Invalidate(host string) {
	r.cache.Delete(CacheKeyPrefix + netutil.NormalizeHost(host))
}

// InvalidateWorkspace drops every cached context owned by workspaceID.
func (r *Resolver) InvalidateWorkspace(workspaceID string) int {
	return r.cache.DeleteFunc(func(_ string, dc domain.DomainContext) bool {
		return dc.WorkspaceID == workspaceID
	})
}

// Cached reports whether a live cache entry exists for host.
func (r *Resolver) Cached(host string) bool {
	_, ok := r.cache.Get(CacheKeyPrefix + netutil.NormalizeHost(host))
	return ok
}

// IsDefaultHost reports whether host is served as the platform itself.
func (r *Resolver) IsDefaultHost(host string) bool {
	return host == r.defaultDomain || host == "www."+r.defaultDomain || netutil.IsLocalHost(host)
}

// subdomainLabel returns the label of a direct child of the default domain.
func (r *Resolver) subdomainLabel(host string) (string, bool) {
	label, ok := strings.CutSuffix(host, "."+r.defaultDomain)
	if !ok || label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}

func (r *Resolver) defaultContext(host string) domain.DomainContext {
	if host == "" {
		host = r.defaultDomain
	}
	return domain.DomainContext{Domain: host, ShowCookieBanner: true}
}

func (r *Resolver) lookup(ctx context.Context, host string) (domain.DomainContext, error) {
	label, isSubdomain := r.subdomainLabel(host)
	cfg, err := domainstore.Retry(ctx, r.retry, func(ctx context.Context) (domainstore.Config, error) {
		if isSubdomain {
			return r.src.SubdomainConfig(ctx, label)
		}
		return r.src.DomainConfig(ctx, host)
	})

	var dc domain.DomainContext
	switch {
	case errors.Is(err, domain.ErrDomainNotFound):
		dc = domain.DomainContext{Domain: host, Subdomain: label, IsCustomDomain: !isSubdomain}
	case err != nil:
		return domain.DomainContext{}, err
	case !cfg.Record.Servable():
		dc = domain.DomainContext{Domain: host, Subdomain: label, ShowCookieBanner: true, Rejection: rejectionFor(cfg.Record)}
		r.log.Warn("host matched a non-servable domain record",
			"host", host, "domain_id", cfg.Record.ID, "reason", string(dc.Rejection))
	default:
		dc = domain.DomainContext{
			Domain:           host,
			Subdomain:        label,
			IsCustomDomain:   !isSubdomain,
			IsWhiteLabel:     cfg.Workspace.WhiteLabel,
			WorkspaceID:      cfg.Workspace.ID,
			DomainID:         cfg.Record.ID,
			Settings:         cfg.Workspace.FeatureFlags.Clone(),
			BrandingRef:      cfg.Workspace.ID,
			ShowCookieBanner: cfg.Workspace.ShowCookieBanner,
		}
	}
	r.cache.Set(CacheKeyPrefix+host, dc, r.ttl)
	return dc, nil
}

func rejectionFor(rec domain.DomainRecord) domain.Rejection {
	if !rec.IsActive {
		return domain.RejectionInactive
	}
	return domain.RejectionUnverified
}

func cloneContext(dc domain.DomainContext) domain.DomainContext {
	dc.Settings = dc.Settings.Clone()
	return dc
}
