// Package domainstore wraps the durable store with per-call timeouts,
// transient-error classification, and memoization of branding and
// subscription reads.
package domainstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/cache"
	"github.com/gatekeep/gatekeeper/internal/domain"
)

// Store is the durable record source. internal/store/sqlite implements it.
type Store interface {
	GetDomainByHost(ctx context.Context, host string) (domain.DomainRecord, error)
	GetDomainBySubdomain(ctx context.Context, label string) (domain.DomainRecord, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	GetBrandingForWorkspace(ctx context.Context, workspaceID, domainID string) (domain.BrandingRecord, error)
	GetSubscriptionStatus(ctx context.Context, workspaceID string) (domain.SubscriptionState, error)
	SetDomainVerification(ctx context.Context, domainID string, status domain.VerificationStatus) error
	SetDomainSSLStatus(ctx context.Context, domainID string, status domain.SSLStatus) error
}

// Config is a domain record joined with its workspace. Workspace is only
// populated for servable records.
type Config struct {
	Record    domain.DomainRecord
	Workspace domain.Workspace
}

type Options struct {
	LookupTimeout   time.Duration
	BrandingTTL     time.Duration
	SubscriptionTTL time.Duration
	SweepInterval   time.Duration
	Now             func() time.Time
}

const (
	defaultLookupTimeout   = 3 * time.Second
	defaultBrandingTTL     = 10 * time.Minute
	defaultSubscriptionTTL = time.Minute
)

type brandingEntry struct {
	rec   domain.BrandingRecord
	found bool
}

// Client is safe for concurrent use.
type Client struct {
	store   Store
	timeout time.Duration

	brandingTTL     time.Duration
	subscriptionTTL time.Duration
	branding        *cache.Cache[brandingEntry]
	subscriptions   *cache.Cache[domain.SubscriptionState]
}

func New(store Store, opts Options) *Client {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	if opts.BrandingTTL <= 0 {
		opts.BrandingTTL = defaultBrandingTTL
	}
	if opts.SubscriptionTTL <= 0 {
		opts.SubscriptionTTL = defaultSubscriptionTTL
	}
	cacheOpts := cache.Options{SweepInterval: opts.SweepInterval, Now: opts.Now}
	return &Client{
		store:           store,
		timeout:         opts.LookupTimeout,
		brandingTTL:     opts.BrandingTTL,
		subscriptionTTL: opts.SubscriptionTTL,
		branding:        cache.New[brandingEntry](cacheOpts),
		subscriptions:   cache.New[domain.SubscriptionState](cacheOpts),
	}
}

// Close stops the cache sweepers.
func (c *Client) Close() {
	c.branding.Close()
	c.subscriptions.Close()
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// DomainConfig loads the custom domain record for host and, when the record
// may serve traffic, its workspace.
func (c *Client) DomainConfig(ctx context.Context, host string) (Config, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	rec, err := c.store.GetDomainByHost(ctx, host)
	if err != nil {
		return Config{}, &domain.LookupError{Host: host, Op: "get domain", Err: err}
	}
	return c.attachWorkspace(ctx, host, rec)
}

// SubdomainConfig is DomainConfig for a platform subdomain label.
func (c *Client) SubdomainConfig(ctx context.Context, label string) (Config, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	rec, err := c.store.GetDomainBySubdomain(ctx, label)
	if err != nil {
		return Config{}, &domain.LookupError{Host: label, Op: "get subdomain", Err: err}
	}
	return c.attachWorkspace(ctx, label, rec)
}

func (c *Client) attachWorkspace(ctx context.Context, host string, rec domain.DomainRecord) (Config, error) {
	cfg := Config{Record: rec}
	if !rec.Servable() {
		return cfg, nil
	}
	ws, err := c.store.GetWorkspace(ctx, rec.WorkspaceID)
	if err != nil {
		return Config{}, &domain.LookupError{Host: host, Op: "get workspace", Err: err}
	}
	cfg.Workspace = ws
	return cfg, nil
}

// DomainRecord is an authoritative read that never consults a cache.
func (c *Client) DomainRecord(ctx context.Context, host string) (domain.DomainRecord, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	rec, err := c.store.GetDomainByHost(ctx, host)
	if err != nil {
		return domain.DomainRecord{}, &domain.LookupError{Host: host, Op: "get domain", Err: err}
	}
	return rec, nil
}

// Branding returns the domain override or workspace default branding.
// domain.ErrBrandingNotFound is memoized like a hit.
func (c *Client) Branding(ctx context.Context, workspaceID, domainID string) (domain.BrandingRecord, error) {
	key := workspaceID + "|" + domainID
	if e, ok := c.branding.Get(key); ok {
		if !e.found {
			return domain.BrandingRecord{}, domain.ErrBrandingNotFound
		}
		return e.rec, nil
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()
	rec, err := c.store.GetBrandingForWorkspace(ctx, workspaceID, domainID)
	switch {
	case err == nil:
		c.branding.Set(key, brandingEntry{rec: rec, found: true}, c.brandingTTL)
		return rec, nil
	case errors.Is(err, domain.ErrBrandingNotFound):
		c.branding.Set(key, brandingEntry{}, c.brandingTTL)
		return domain.BrandingRecord{}, domain.ErrBrandingNotFound
	default:
		return domain.BrandingRecord{}, &domain.LookupError{Op: "get branding " + workspaceID, Err: err}
	}
}

// Subscription returns the billing state. A workspace without a billing
// record reports SubscriptionUnknown.
func (c *Client) Subscription(ctx context.Context, workspaceID string) (domain.SubscriptionState, error) {
	if s, ok := c.subscriptions.Get(workspaceID); ok {
		return s, nil
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()
	s, err := c.store.GetSubscriptionStatus(ctx, workspaceID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		s, err = domain.SubscriptionState{Status: domain.SubscriptionUnknown}, nil
	}
	if err != nil {
		return domain.SubscriptionState{}, &domain.LookupError{Op: "get subscription " + workspaceID, Err: err}
	}
	c.subscriptions.Set(workspaceID, s, c.subscriptionTTL)
	return s, nil
}

func (c *Client) SetVerification(ctx context.Context, domainID string, status domain.VerificationStatus) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.store.SetDomainVerification(ctx, domainID, status)
}

func (c *Client) SetSSLStatus(ctx context.Context, domainID string, status domain.SSLStatus) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.store.SetDomainSSLStatus(ctx, domainID, status)
}

// InvalidateWorkspace drops memoized branding and subscription state for a
// workspace after an admin write.
func (c *Client) InvalidateWorkspace(workspaceID string) {
	c.subscriptions.Delete(workspaceID)
	prefix := workspaceID + "|"
	c.branding.DeleteFunc(func(key string, _ brandingEntry) bool { return strings.HasPrefix(key, prefix) })
}

// IsTransient reports whether err may succeed on retry. Not-found results
// and caller cancellation are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, final := range []error{
		domain.ErrDomainNotFound,
		domain.ErrWorkspaceNotFound,
		domain.ErrBrandingNotFound,
		domain.ErrPortalNotFound,
		domain.ErrSubscriptionNotFound,
		context.Canceled,
	} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}
