package config

import (
	"net/netip"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func TestNormalizeDomainHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"example.com":                 "example.com",
		"https://example.com/path":    "example.com",
		"http://EXAMPLE.com:443/abc":  "example.com",
		"  sub.example.com.  ":        "sub.example.com",
		"https://[2001:db8::1]:10443": "2001:db8::1",
	}

	for in, want := range tests {
		if got := normalizeDomainHost(in); got != want {
			t.Fatalf("normalizeDomainHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestParseServerFlagsDefaults(t *testing.T) {
	t.Setenv("GATEKEEPER_DOMAIN", "")
	t.Setenv("GATEKEEPER_DOMAIN_CACHE_TTL", "")
	t.Setenv("GATEKEEPER_TLS_MODE", "")
	t.Setenv("GATEKEEPER_WAF", "")

	cfg, err := ParseServerFlags([]string{"--domain", "https://App.Example.com/", "--session-secret", testSecret})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultDomain != "app.example.com" {
		t.Fatalf("unexpected domain %q", cfg.DefaultDomain)
	}
	if cfg.DomainCacheTTL != 5*time.Minute || cfg.LookupAttempts != 3 || cfg.LookupTimeout != 3*time.Second {
		t.Fatalf("unexpected lookup defaults: %+v", cfg)
	}
	if cfg.PortalMaxAttempts != 5 || cfg.PortalLockDuration != 15*time.Minute {
		t.Fatalf("unexpected portal defaults: %+v", cfg)
	}
	if cfg.TrialGracePeriod != 72*time.Hour {
		t.Fatalf("unexpected trial grace %s", cfg.TrialGracePeriod)
	}
	if cfg.TLSMode != TLSModeOff {
		t.Fatalf("expected tls off by default, got %q", cfg.TLSMode)
	}
	if cfg.WAFMode != "block" || cfg.PprofListen != "" {
		t.Fatalf("unexpected waf/pprof defaults: %q %q", cfg.WAFMode, cfg.PprofListen)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", cfg.TrustedProxies)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	t.Parallel()

	got, err := ParseTrustedProxies(" 10.1.2.3/8, 192.0.2.10 ,,2001:db8::/32")
	if err != nil {
		t.Fatal(err)
	}
	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prefix %d: got %s, want %s", i, got[i], want[i])
		}
	}

	if got, err := ParseTrustedProxies(""); err != nil || got != nil {
		t.Fatalf("expected empty list, got %v (%v)", got, err)
	}
}

func TestParseServerFlagsTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("GATEKEEPER_DOMAIN", "app.example.com")
	t.Setenv("GATEKEEPER_SESSION_SECRET", testSecret)
	t.Setenv("GATEKEEPER_TLS_MODE", "")
	t.Setenv("GATEKEEPER_WAF", "")
	t.Setenv("GATEKEEPER_TRUSTED_PROXIES", "172.16.0.0/12")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.TrustedProxies) != 1 || cfg.TrustedProxies[0] != netip.MustParsePrefix("172.16.0.0/12") {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
}

func TestParseServerFlagsEnvDefaults(t *testing.T) {
	t.Setenv("GATEKEEPER_DOMAIN", "app.example.com")
	t.Setenv("GATEKEEPER_SESSION_SECRET", testSecret)
	t.Setenv("GATEKEEPER_DOMAIN_CACHE_TTL", "90s")
	t.Setenv("GATEKEEPER_TLS_MODE", "")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DomainCacheTTL != 90*time.Second {
		t.Fatalf("expected env ttl, got %s", cfg.DomainCacheTTL)
	}

	cfg, err = ParseServerFlags([]string{"--domain-cache-ttl", "2m"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DomainCacheTTL != 2*time.Minute {
		t.Fatalf("expected flag to override env, got %s", cfg.DomainCacheTTL)
	}
}

func TestParseServerFlagsValidation(t *testing.T) {
	t.Setenv("GATEKEEPER_DOMAIN", "")
	t.Setenv("GATEKEEPER_SESSION_SECRET", "")
	t.Setenv("GATEKEEPER_TLS_MODE", "")
	t.Setenv("GATEKEEPER_HTTP3", "")
	t.Setenv("GATEKEEPER_WAF", "")

	base := []string{"--domain", "example.com", "--session-secret", testSecret}
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing domain", args: []string{"--session-secret", testSecret}},
		{name: "short secret", args: []string{"--domain", "example.com", "--session-secret", "short"}},
		{name: "bad upstream", args: append(append([]string{}, base...), "--upstream", "ftp://x")},
		{name: "bad tls mode", args: append(append([]string{}, base...), "--tls-mode", "wildcard")},
		{name: "static without files", args: append(append([]string{}, base...), "--tls-mode", "static")},
		{name: "http3 without tls", args: append(append([]string{}, base...), "--http3")},
		{name: "zero attempts", args: append(append([]string{}, base...), "--lookup-attempts", "0")},
		{name: "zero portal attempts", args: append(append([]string{}, base...), "--portal-max-attempts", "0")},
		{name: "idle exceeds open", args: append(append([]string{}, base...), "--db-max-open-conns", "1", "--db-max-idle-conns", "2")},
		{name: "zero ttl", args: append(append([]string{}, base...), "--domain-cache-ttl", "0s")},
		{name: "bad waf mode", args: append(append([]string{}, base...), "--waf", "strict")},
		{name: "negative body limit", args: append(append([]string{}, base...), "--max-body-bytes", "-1")},
		{name: "bad trusted proxy", args: append(append([]string{}, base...), "--trusted-proxies", "10.0.0.0/8,not-a-cidr")},
		{name: "trusted proxy mask out of range", args: append(append([]string{}, base...), "--trusted-proxies", "10.0.0.0/33")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseServerFlags(tt.args); err == nil {
				t.Fatalf("expected parse error for args: %v", tt.args)
			}
		})
	}
}
