package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "gatekeeper.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedWorkspace(t *testing.T, store *Store) domain.Workspace {
	t.Helper()
	ws, err := store.CreateWorkspace(context.Background(), domain.Workspace{
		Name:             "Acme",
		WhiteLabel:       true,
		FeatureFlags:     domain.FeatureFlags{"reports": true},
		ShowCookieBanner: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "gatekeeper.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected parent dir to exist: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("expected migrate to be idempotent: %v", err)
	}
}

func TestWorkspaceRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ws := seedWorkspace(t, store)

	got, err := store.GetWorkspace(context.Background(), ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.WhiteLabel || !got.FeatureFlags["reports"] || !got.ShowCookieBanner {
		t.Fatalf("unexpected workspace: %+v", got)
	}
	if _, err := store.GetWorkspace(context.Background(), "missing"); !errors.Is(err, domain.ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestCustomDomainLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ws := seedWorkspace(t, store)

	d, err := store.AddCustomDomain(ctx, ws.ID, "Portal.Acme.com.", "challenge-value")
	if err != nil {
		t.Fatal(err)
	}
	if d.Domain != "portal.acme.com" || d.VerificationStatus != domain.VerificationPending {
		t.Fatalf("unexpected new domain: %+v", d)
	}
	if len(d.DNSRecords) != 1 || d.DNSRecords[0].Name != "_gatekeeper-challenge.portal.acme.com" {
		t.Fatalf("unexpected dns records: %+v", d.DNSRecords)
	}

	if _, err := store.AddCustomDomain(ctx, ws.ID, "portal.acme.com", "x"); !errors.Is(err, ErrHostnameInUse) {
		t.Fatalf("expected ErrHostnameInUse, got %v", err)
	}

	if err := store.SetDomainVerification(ctx, d.ID, domain.VerificationVerified); err != nil {
		t.Fatal(err)
	}
	if err := store.SetDomainSSLStatus(ctx, d.ID, domain.SSLStatusActive); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDomainByHost(ctx, "PORTAL.acme.com:443")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Servable() || got.SSLStatus != domain.SSLStatusActive || got.VerifiedAt == nil {
		t.Fatalf("unexpected verified domain: %+v", got)
	}

	if err := store.SetDomainActive(ctx, d.ID, false); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetDomainByHost(ctx, "portal.acme.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.Servable() {
		t.Fatal("expected disabled domain to be non-servable")
	}

	if err := store.SetDomainActive(ctx, "missing", true); !errors.Is(err, domain.ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound on missing id, got %v", err)
	}
	if _, err := store.GetDomainByHost(ctx, "nope.example"); !errors.Is(err, domain.ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound, got %v", err)
	}
}

func TestSubdomainStartsVerified(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ws := seedWorkspace(t, store)

	if _, err := store.AddSubdomain(ctx, ws.ID, "Acme", true); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDomainBySubdomain(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Servable() || !got.IsPrimary || got.Domain != "" {
		t.Fatalf("unexpected subdomain record: %+v", got)
	}

	list, err := store.ListDomains(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 domain, got %d", len(list))
	}
}

func TestBrandingOverrideFallsBackToDefault(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ws := seedWorkspace(t, store)

	if _, err := store.GetBrandingForWorkspace(ctx, ws.ID, ""); !errors.Is(err, domain.ErrBrandingNotFound) {
		t.Fatalf("expected ErrBrandingNotFound, got %v", err)
	}

	if _, err := store.UpsertBranding(ctx, domain.BrandingRecord{
		WorkspaceID: ws.ID,
		Colors:      domain.BrandColors{Primary: "#111111"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertBranding(ctx, domain.BrandingRecord{
		WorkspaceID: ws.ID,
		DomainID:    "dom-1",
		Colors:      domain.BrandColors{Primary: "#222222"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetBrandingForWorkspace(ctx, ws.ID, "dom-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Colors.Primary != "#222222" {
		t.Fatalf("expected override, got %+v", got.Colors)
	}
	got, err = store.GetBrandingForWorkspace(ctx, ws.ID, "dom-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Colors.Primary != "#111111" {
		t.Fatalf("expected workspace default, got %+v", got.Colors)
	}

	if _, err := store.UpsertBranding(ctx, domain.BrandingRecord{
		WorkspaceID: ws.ID,
		Colors:      domain.BrandColors{Primary: "#333333"},
	}); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetBrandingForWorkspace(ctx, ws.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Colors.Primary != "#333333" {
		t.Fatalf("expected upsert to replace default, got %+v", got.Colors)
	}
}

func TestPortalLockoutFieldsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ws := seedWorkspace(t, store)

	p, err := store.CreatePortal(ctx, domain.ClientPortalRecord{
		WorkspaceID: ws.ID,
		ClientID:    "client-1",
		PortalURL:   "acme-client",
		AccessToken: "hash",
		Permissions: []string{"view_reports"},
		IsActive:    true,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	until := time.Now().Add(15 * time.Minute).UTC()
	if err := store.UpdatePortal(ctx, p.ID, domain.PortalUpdate{LoginAttempts: 5, IsLocked: true, LockedUntil: &until}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetPortalByURL(ctx, "acme-client")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsLocked || got.LoginAttempts != 5 || got.LockedUntil == nil || !got.LockedUntil.Equal(until) {
		t.Fatalf("unexpected lockout state: %+v", got)
	}
	if len(got.Permissions) != 1 || got.Permissions[0] != "view_reports" {
		t.Fatalf("unexpected permissions: %v", got.Permissions)
	}

	if err := store.UpdatePortal(ctx, p.ID, domain.PortalUpdate{}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetPortalByURL(ctx, "acme-client")
	if got.IsLocked || got.LockedUntil != nil || got.LoginAttempts != 0 {
		t.Fatalf("expected reset lockout state: %+v", got)
	}

	if _, err := store.GetPortalByURL(ctx, "missing"); !errors.Is(err, domain.ErrPortalNotFound) {
		t.Fatalf("expected ErrPortalNotFound, got %v", err)
	}
	if err := store.UpdatePortal(ctx, "missing", domain.PortalUpdate{}); !errors.Is(err, domain.ErrPortalNotFound) {
		t.Fatalf("expected ErrPortalNotFound on update, got %v", err)
	}
}

func TestTouchPortalThrottled(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ws := seedWorkspace(t, store)
	p, err := store.CreatePortal(ctx, domain.ClientPortalRecord{
		WorkspaceID: ws.ID, ClientID: "c", PortalURL: "p", AccessToken: "h", IsActive: true,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.TouchPortal(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	first, _ := store.GetPortalByURL(ctx, "p")
	if first.LastAccessedAt == nil {
		t.Fatal("expected last accessed to be set")
	}
	if store.reservePortalTouch(p.ID, time.Now().UTC()) {
		t.Fatal("expected second touch within interval to be skipped")
	}
	if store.reservePortalTouch(" ", time.Now().UTC()) {
		t.Fatal("expected blank id to be skipped")
	}
}

func TestSubscriptionUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ws := seedWorkspace(t, store)

	if _, err := store.GetSubscriptionStatus(ctx, ws.ID); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SetSubscription(ctx, ws.ID, domain.SubscriptionState{Status: domain.SubscriptionTrialing, TrialEnd: &end}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSubscription(ctx, ws.ID, domain.SubscriptionState{Status: domain.SubscriptionPastDue, TrialEnd: &end}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetSubscriptionStatus(ctx, ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SubscriptionPastDue || got.TrialEnd == nil || !got.TrialEnd.Equal(end) {
		t.Fatalf("unexpected subscription: %+v", got)
	}
}
