// Package config parses gatekeeper server settings from flags with
// GATEKEEPER_* environment defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/waf"
)

type ServerConfig struct {
	ListenHTTPS   string
	ListenHTTP    string
	EnableHTTP3   bool
	DefaultDomain string
	UpstreamURL   string
	DBPath        string
	LogLevel      string
	LogFormat     string

	TLSMode      string
	CertCacheDir string
	TLSCertFile  string
	TLSKeyFile   string
	ACMEEmail    string

	SessionSecret string
	AdminToken    string

	DBMaxOpenConns int
	DBMaxIdleConns int

	DomainCacheTTL       time.Duration
	BrandingCacheTTL     time.Duration
	SubscriptionCacheTTL time.Duration
	PortalCacheTTL       time.Duration
	CacheSweepInterval   time.Duration

	LookupTimeout  time.Duration
	LookupAttempts int
	LookupBackoff  time.Duration

	PortalMaxAttempts  int
	PortalLockDuration time.Duration
	TrialGracePeriod   time.Duration
	OwnershipRecheck   time.Duration

	CleanupInterval time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64

	WAFMode     string
	PprofListen string

	// TrustedProxies lists the peers whose X-Forwarded-For, X-Real-IP and
	// True-Client-IP headers name the client. Empty trusts no one.
	TrustedProxies []netip.Prefix
}

const defaultServerHTTPSListen = ":8443"
const defaultServerHTTPListen = ":8080"
const defaultServerDBPath = "./gatekeeper.db"
const defaultServerCertCacheDir = "./cert"
const defaultServerUpstream = "http://127.0.0.1:3000"

const (
	TLSModeOff    = "off"
	TLSModeAuto   = "auto"
	TLSModeStatic = "static"
)

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		ListenHTTPS:   envOrDefault("GATEKEEPER_LISTEN_HTTPS", defaultServerHTTPSListen),
		ListenHTTP:    envOrDefault("GATEKEEPER_LISTEN_HTTP", defaultServerHTTPListen),
		EnableHTTP3:   envBoolOrDefault("GATEKEEPER_HTTP3", false),
		DefaultDomain: envOrDefault("GATEKEEPER_DOMAIN", ""),
		UpstreamURL:   envOrDefault("GATEKEEPER_UPSTREAM", defaultServerUpstream),
		DBPath:        envOrDefault("GATEKEEPER_DB_PATH", defaultServerDBPath),
		LogLevel:      envOrDefault("GATEKEEPER_LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("GATEKEEPER_LOG_FORMAT", "text"),
		TLSMode:       envOrDefault("GATEKEEPER_TLS_MODE", TLSModeOff),
		CertCacheDir:  envOrDefault("GATEKEEPER_CERT_CACHE_DIR", defaultServerCertCacheDir),
		TLSCertFile:   envOrDefault("GATEKEEPER_TLS_CERT_FILE", ""),
		TLSKeyFile:    envOrDefault("GATEKEEPER_TLS_KEY_FILE", ""),
		ACMEEmail:     envOrDefault("GATEKEEPER_ACME_EMAIL", ""),
		SessionSecret: envOrDefault("GATEKEEPER_SESSION_SECRET", ""),
		AdminToken:    envOrDefault("GATEKEEPER_ADMIN_TOKEN", ""),

		DBMaxOpenConns: envIntOrDefault("GATEKEEPER_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns: envIntOrDefault("GATEKEEPER_DB_MAX_IDLE_CONNS", 4),

		DomainCacheTTL:       envDurationOrDefault("GATEKEEPER_DOMAIN_CACHE_TTL", 5*time.Minute),
		BrandingCacheTTL:     envDurationOrDefault("GATEKEEPER_BRANDING_CACHE_TTL", 10*time.Minute),
		SubscriptionCacheTTL: envDurationOrDefault("GATEKEEPER_SUBSCRIPTION_CACHE_TTL", time.Minute),
		PortalCacheTTL:       envDurationOrDefault("GATEKEEPER_PORTAL_CACHE_TTL", time.Minute),
		CacheSweepInterval:   envDurationOrDefault("GATEKEEPER_CACHE_SWEEP_INTERVAL", time.Minute),

		LookupTimeout:  envDurationOrDefault("GATEKEEPER_LOOKUP_TIMEOUT", 3*time.Second),
		LookupAttempts: envIntOrDefault("GATEKEEPER_LOOKUP_ATTEMPTS", 3),
		LookupBackoff:  envDurationOrDefault("GATEKEEPER_LOOKUP_BACKOFF", 200*time.Millisecond),

		PortalMaxAttempts:  envIntOrDefault("GATEKEEPER_PORTAL_MAX_ATTEMPTS", 5),
		PortalLockDuration: envDurationOrDefault("GATEKEEPER_PORTAL_LOCK_DURATION", 15*time.Minute),
		TrialGracePeriod:   envDurationOrDefault("GATEKEEPER_TRIAL_GRACE", 72*time.Hour),
		OwnershipRecheck:   envDurationOrDefault("GATEKEEPER_OWNERSHIP_RECHECK", 6*time.Hour),

		CleanupInterval: envDurationOrDefault("GATEKEEPER_CLEANUP_INTERVAL", time.Minute),
		RequestTimeout:  envDurationOrDefault("GATEKEEPER_REQUEST_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    10 * 1024 * 1024,

		WAFMode:     envOrDefault("GATEKEEPER_WAF", "block"),
		PprofListen: envOrDefault("GATEKEEPER_PPROF_LISTEN", ""),
	}

	trustedProxies := envOrDefault("GATEKEEPER_TRUSTED_PROXIES", "")

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenHTTPS, "listen", cfg.ListenHTTPS, "HTTPS listen address (used when tls-mode is not off)")
	fs.StringVar(&cfg.ListenHTTP, "http-listen", cfg.ListenHTTP, "HTTP listen address (plain traffic and ACME HTTP-01)")
	fs.BoolVar(&cfg.EnableHTTP3, "http3", cfg.EnableHTTP3, "Serve HTTP/3 alongside HTTPS")
	fs.StringVar(&cfg.DefaultDomain, "domain", cfg.DefaultDomain, "Platform default domain, e.g. app.example.com")
	fs.StringVar(&cfg.UpstreamURL, "upstream", cfg.UpstreamURL, "Upstream application base URL")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text|json")
	fs.StringVar(&cfg.TLSMode, "tls-mode", cfg.TLSMode, "TLS mode: off|auto|static")
	fs.StringVar(&cfg.CertCacheDir, "cert-cache-dir", cfg.CertCacheDir, "ACME certificate cache dir")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "Static TLS cert PEM file")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "Static TLS key PEM file")
	fs.StringVar(&cfg.ACMEEmail, "acme-email", cfg.ACMEEmail, "ACME account contact email")
	fs.StringVar(&cfg.SessionSecret, "session-secret", cfg.SessionSecret, "HMAC secret for session tokens")
	fs.StringVar(&cfg.AdminToken, "admin-token", cfg.AdminToken, "Bearer token for the audit stream (empty disables it)")
	fs.IntVar(&cfg.DBMaxOpenConns, "db-max-open-conns", cfg.DBMaxOpenConns, "SQLite max open connections")
	fs.IntVar(&cfg.DBMaxIdleConns, "db-max-idle-conns", cfg.DBMaxIdleConns, "SQLite max idle connections")
	fs.DurationVar(&cfg.DomainCacheTTL, "domain-cache-ttl", cfg.DomainCacheTTL, "Resolved domain context cache TTL")
	fs.DurationVar(&cfg.BrandingCacheTTL, "branding-cache-ttl", cfg.BrandingCacheTTL, "Branding record cache TTL")
	fs.DurationVar(&cfg.SubscriptionCacheTTL, "subscription-cache-ttl", cfg.SubscriptionCacheTTL, "Subscription state cache TTL")
	fs.DurationVar(&cfg.PortalCacheTTL, "portal-cache-ttl", cfg.PortalCacheTTL, "Client portal record cache TTL")
	fs.DurationVar(&cfg.CacheSweepInterval, "cache-sweep-interval", cfg.CacheSweepInterval, "Background cache sweep interval")
	fs.DurationVar(&cfg.LookupTimeout, "lookup-timeout", cfg.LookupTimeout, "Per-attempt store lookup timeout")
	fs.IntVar(&cfg.LookupAttempts, "lookup-attempts", cfg.LookupAttempts, "Store lookup attempts on transient errors")
	fs.DurationVar(&cfg.LookupBackoff, "lookup-backoff", cfg.LookupBackoff, "Initial retry backoff, doubled per attempt")
	fs.IntVar(&cfg.PortalMaxAttempts, "portal-max-attempts", cfg.PortalMaxAttempts, "Failed portal token attempts before lockout")
	fs.DurationVar(&cfg.PortalLockDuration, "portal-lock-duration", cfg.PortalLockDuration, "Portal lockout duration")
	fs.DurationVar(&cfg.TrialGracePeriod, "trial-grace", cfg.TrialGracePeriod, "Grace period after trial end")
	fs.DurationVar(&cfg.OwnershipRecheck, "ownership-recheck", cfg.OwnershipRecheck, "Live DNS ownership re-check interval (0 disables)")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "Rate limiter cleanup interval")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Upstream request timeout")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Largest request body forwarded upstream (0 disables the limit)")
	fs.StringVar(&cfg.WAFMode, "waf", cfg.WAFMode, "Request filter mode: off|audit|block")
	fs.StringVar(&cfg.PprofListen, "pprof-listen", cfg.PprofListen, "Debug pprof listen address (empty disables)")
	fs.StringVar(&trustedProxies, "trusted-proxies", trustedProxies, "Comma-separated CIDRs or IPs of proxies allowed to set client IP headers")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	prefixes, err := ParseTrustedProxies(trustedProxies)
	if err != nil {
		return cfg, err
	}
	cfg.TrustedProxies = prefixes

	return cfg, cfg.normalize()
}

func (cfg *ServerConfig) normalize() error {
	cfg.DefaultDomain = normalizeDomainHost(cfg.DefaultDomain)
	if cfg.DefaultDomain == "" {
		return errors.New("missing --domain or GATEKEEPER_DOMAIN")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.UpstreamURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream must be an absolute http(s) URL, got %q", cfg.UpstreamURL)
	}
	cfg.UpstreamURL = strings.TrimRight(u.String(), "/")

	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeOff
	}
	switch cfg.TLSMode {
	case TLSModeOff, TLSModeAuto:
	case TLSModeStatic:
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return errors.New("static tls mode requires --tls-cert-file and --tls-key-file")
		}
	default:
		return errors.New("tls mode must be one of: off, auto, static")
	}
	if cfg.EnableHTTP3 && cfg.TLSMode == TLSModeOff {
		return errors.New("http3 requires tls")
	}
	if len(cfg.SessionSecret) < 16 {
		return errors.New("session secret must be at least 16 bytes (--session-secret or GATEKEEPER_SESSION_SECRET)")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return errors.New("db max open conns must be > 0")
	}
	if cfg.DBMaxIdleConns <= 0 {
		return errors.New("db max idle conns must be > 0")
	}
	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		return errors.New("db max idle conns cannot exceed max open conns")
	}
	for name, d := range map[string]time.Duration{
		"domain cache ttl":       cfg.DomainCacheTTL,
		"branding cache ttl":     cfg.BrandingCacheTTL,
		"subscription cache ttl": cfg.SubscriptionCacheTTL,
		"portal cache ttl":       cfg.PortalCacheTTL,
		"lookup timeout":         cfg.LookupTimeout,
		"portal lock duration":   cfg.PortalLockDuration,
		"cleanup interval":       cfg.CleanupInterval,
		"request timeout":        cfg.RequestTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if cfg.LookupAttempts < 1 {
		return errors.New("lookup attempts must be >= 1")
	}
	if cfg.LookupBackoff < 0 || cfg.TrialGracePeriod < 0 || cfg.OwnershipRecheck < 0 {
		return errors.New("backoff, trial grace and ownership re-check must not be negative")
	}
	if cfg.PortalMaxAttempts < 1 {
		return errors.New("portal max attempts must be >= 1")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("max body bytes must not be negative")
	}
	mode, err := waf.ParseMode(cfg.WAFMode)
	if err != nil {
		return err
	}
	cfg.WAFMode = string(mode)
	cfg.PprofListen = strings.TrimSpace(cfg.PprofListen)
	return nil
}

// ParseTrustedProxies parses a comma-separated list of CIDRs. A bare address
// is taken as a single-host prefix.
func ParseTrustedProxies(v string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", part, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func normalizeDomainHost(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	if idx := strings.Index(v, "/"); idx >= 0 {
		v = v[:idx]
	}
	if strings.HasPrefix(v, "[") {
		if end := strings.Index(v, "]"); end > 0 {
			return v[1:end]
		}
	}
	if strings.Contains(v, ":") {
		parts := strings.Split(v, ":")
		v = parts[0]
	}
	return strings.TrimSuffix(v, ".")
}
