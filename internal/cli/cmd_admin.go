package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/auth"
	"github.com/gatekeep/gatekeeper/internal/branding"
	"github.com/gatekeep/gatekeeper/internal/dnsverify"
	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/domainstore"
	"github.com/gatekeep/gatekeeper/internal/identity"
	"github.com/gatekeep/gatekeeper/internal/ownership"
	"github.com/gatekeep/gatekeeper/internal/store/sqlite"
)

// stdout receives command output; tests swap it.
var stdout io.Writer = os.Stdout

func runWorkspaceAdmin(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gatekeeper workspace <add|list> [flags]")
		return 2
	}
	switch args[0] {
	case "add":
		return runWorkspaceAdd(ctx, args[1:])
	case "list":
		return runWorkspaceList(ctx, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "unknown workspace command:", args[0])
		return 2
	}
}

func runWorkspaceAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("workspace-add", flag.ContinueOnError)
	var dbPath, id, name, flags string
	var whiteLabel, cookieBanner bool
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&id, "id", "", "workspace id (generated when empty)")
	fs.StringVar(&name, "name", "", "workspace name")
	fs.StringVar(&flags, "flags", "", "comma-separated feature flags to enable")
	fs.BoolVar(&whiteLabel, "white-label", false, "serve white-label pages")
	fs.BoolVar(&cookieBanner, "cookie-banner", false, "show the cookie banner")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(name) == "" {
		fmt.Fprintln(os.Stderr, "missing --name")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	ws, err := store.CreateWorkspace(ctx, domain.Workspace{
		ID:               strings.TrimSpace(id),
		Name:             name,
		WhiteLabel:       whiteLabel,
		FeatureFlags:     parseFeatureFlags(flags),
		ShowCookieBanner: cookieBanner,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "create workspace:", err)
		return 1
	}
	fmt.Fprintln(stdout, "id:", ws.ID)
	fmt.Fprintln(stdout, "name:", ws.Name)
	return 0
}

func runWorkspaceList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("workspace-list", flag.ContinueOnError)
	var dbPath string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	list, err := store.ListWorkspaces(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list workspaces:", err)
		return 1
	}
	for _, ws := range list {
		fmt.Fprintf(stdout, "%s\t%s\twhite_label=%t\n", ws.ID, ws.Name, ws.WhiteLabel)
	}
	return 0
}

func parseFeatureFlags(raw string) domain.FeatureFlags {
	flags := domain.FeatureFlags{}
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			flags[name] = true
		}
	}
	return flags
}

func runDomainAdmin(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gatekeeper domain <add|verify|enable|disable|list> [flags]")
		return 2
	}
	switch args[0] {
	case "add":
		return runDomainAdd(ctx, args[1:])
	case "verify":
		return runDomainVerify(ctx, args[1:])
	case "enable":
		return runDomainSetActive(ctx, args[1:], true)
	case "disable":
		return runDomainSetActive(ctx, args[1:], false)
	case "list":
		return runDomainList(ctx, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "unknown domain command:", args[0])
		return 2
	}
}

func runDomainAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("domain-add", flag.ContinueOnError)
	var dbPath, workspaceID, host, label string
	var primary bool
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&workspaceID, "workspace", "", "owning workspace id")
	fs.StringVar(&host, "host", "", "custom domain hostname")
	fs.StringVar(&label, "subdomain", "", "platform subdomain label")
	fs.BoolVar(&primary, "primary", false, "mark the subdomain as primary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if workspaceID == "" {
		fmt.Fprintln(os.Stderr, "missing --workspace")
		return 2
	}
	if (host == "") == (label == "") {
		fmt.Fprintln(os.Stderr, "exactly one of --host or --subdomain is required")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	var (
		rec domain.DomainRecord
		err error
	)
	if label != "" {
		rec, err = store.AddSubdomain(ctx, workspaceID, label, primary)
	} else {
		var challenge string
		challenge, err = auth.GenerateToken()
		if err == nil {
			rec, err = store.AddCustomDomain(ctx, workspaceID, host, challenge)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "add domain:", err)
		return 1
	}
	fmt.Fprintln(stdout, "id:", rec.ID)
	if rec.Domain != "" {
		fmt.Fprintln(stdout, "domain:", rec.Domain)
	} else {
		fmt.Fprintln(stdout, "subdomain:", rec.Subdomain)
	}
	fmt.Fprintln(stdout, "verification:", rec.VerificationStatus)
	for _, dns := range rec.DNSRecords {
		fmt.Fprintf(stdout, "dns: %s %s %q\n", dns.Type, dns.Name, dns.Value)
	}
	return 0
}

func runDomainVerify(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("domain-verify", flag.ContinueOnError)
	var dbPath, host string
	var timeout time.Duration
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&host, "host", "", "custom domain hostname")
	fs.DurationVar(&timeout, "timeout", 15*time.Second, "DNS verification timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if host == "" {
		fmt.Fprintln(os.Stderr, "missing --host")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	records := domainstore.New(store, domainstore.Options{LookupTimeout: timeout})
	defer records.Close()
	validator := ownership.New(records, ownership.Options{Verifier: dnsverify.New(nil)})

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	rec, err := validator.Verify(vctx, host)
	if rec.ID != "" {
		fmt.Fprintln(stdout, "domain:", rec.Domain)
		fmt.Fprintln(stdout, "verification:", rec.VerificationStatus)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify domain:", err)
		return 1
	}
	return 0
}

func runDomainSetActive(ctx context.Context, args []string, active bool) int {
	fs := flag.NewFlagSet("domain-set-active", flag.ContinueOnError)
	var dbPath, host string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&host, "host", "", "custom domain hostname")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if host == "" {
		fmt.Fprintln(os.Stderr, "missing --host")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	rec, err := store.GetDomainByHost(ctx, host)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lookup domain:", err)
		return 1
	}
	if err := store.SetDomainActive(ctx, rec.ID, active); err != nil {
		fmt.Fprintln(os.Stderr, "update domain:", err)
		return 1
	}
	fmt.Fprintln(stdout, "domain:", rec.Domain)
	fmt.Fprintln(stdout, "active:", active)
	return 0
}

func runDomainList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("domain-list", flag.ContinueOnError)
	var dbPath, workspaceID string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&workspaceID, "workspace", "", "workspace id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if workspaceID == "" {
		fmt.Fprintln(os.Stderr, "missing --workspace")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	list, err := store.ListDomains(ctx, workspaceID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list domains:", err)
		return 1
	}
	for _, d := range list {
		name := d.Domain
		if name == "" {
			name = d.Subdomain
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\tssl=%s\tactive=%t\n", d.ID, name, d.VerificationStatus, d.SSLStatus, d.IsActive)
	}
	return 0
}

func runPortalAdmin(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] != "create" {
		fmt.Fprintln(os.Stderr, "usage: gatekeeper portal create --workspace ID --slug SLUG [flags]")
		return 2
	}
	fs := flag.NewFlagSet("portal-create", flag.ContinueOnError)
	var dbPath, workspaceID, clientID, slug, perms string
	var ttl time.Duration
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&workspaceID, "workspace", "", "owning workspace id")
	fs.StringVar(&clientID, "client", "", "client id")
	fs.StringVar(&slug, "slug", "", "portal url slug")
	fs.StringVar(&perms, "permissions", "", "comma-separated permissions")
	fs.DurationVar(&ttl, "ttl", 30*24*time.Hour, "portal lifetime")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if workspaceID == "" || strings.TrimSpace(slug) == "" {
		fmt.Fprintln(os.Stderr, "missing --workspace or --slug")
		return 2
	}
	if ttl <= 0 {
		fmt.Fprintln(os.Stderr, "--ttl must be > 0")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	plain, err := auth.GenerateToken()
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate token:", err)
		return 1
	}
	rec, err := store.CreatePortal(ctx, domain.ClientPortalRecord{
		WorkspaceID: workspaceID,
		ClientID:    clientID,
		PortalURL:   strings.TrimSpace(slug),
		AccessToken: auth.HashToken(plain),
		Permissions: splitList(perms),
		IsActive:    true,
		ExpiresAt:   time.Now().Add(ttl).UTC(),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "create portal:", err)
		return 1
	}
	fmt.Fprintln(stdout, "id:", rec.ID)
	fmt.Fprintln(stdout, "portal_url:", rec.PortalURL)
	fmt.Fprintln(stdout, "expires_at:", rec.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(stdout, "access_token:", plain)
	return 0
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func runBrandingAdmin(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gatekeeper branding <set|css> --workspace ID [flags]")
		return 2
	}
	switch args[0] {
	case "set":
		return runBrandingSet(ctx, args[1:])
	case "css":
		return runBrandingCSS(ctx, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "unknown branding command:", args[0])
		return 2
	}
}

func runBrandingSet(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("branding-set", flag.ContinueOnError)
	var dbPath, workspaceID, domainID, company string
	colors := branding.Defaults().Colors
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&workspaceID, "workspace", "", "workspace id")
	fs.StringVar(&domainID, "domain-id", "", "domain id for a per-domain override")
	fs.StringVar(&company, "company", "", "company display name")
	fs.StringVar(&colors.Primary, "primary", colors.Primary, "primary color")
	fs.StringVar(&colors.Secondary, "secondary", colors.Secondary, "secondary color")
	fs.StringVar(&colors.Accent, "accent", colors.Accent, "accent color")
	fs.StringVar(&colors.Background, "background", colors.Background, "background color")
	fs.StringVar(&colors.Text, "text", colors.Text, "text color")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if workspaceID == "" {
		fmt.Fprintln(os.Stderr, "missing --workspace")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	rec := branding.Defaults()
	rec.WorkspaceID = workspaceID
	rec.DomainID = domainID
	rec.Colors = colors
	if company != "" {
		rec.CompanyMeta.Name = company
	}
	saved, err := store.UpsertBranding(ctx, rec)
	if err != nil {
		fmt.Fprintln(os.Stderr, "save branding:", err)
		return 1
	}
	fmt.Fprintln(stdout, "id:", saved.ID)
	return 0
}

func runBrandingCSS(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("branding-css", flag.ContinueOnError)
	var dbPath, workspaceID, domainID string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&workspaceID, "workspace", "", "workspace id")
	fs.StringVar(&domainID, "domain-id", "", "domain id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if workspaceID == "" {
		fmt.Fprintln(os.Stderr, "missing --workspace")
		return 2
	}

	store, code := openSQLiteStoreOrExit(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	rec, err := store.GetBrandingForWorkspace(ctx, workspaceID, domainID)
	if errors.Is(err, domain.ErrBrandingNotFound) {
		rec, err = branding.Defaults(), nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "load branding:", err)
		return 1
	}
	fmt.Fprint(stdout, branding.GenerateCSS(rec))
	return 0
}

func runSessionAdmin(args []string) int {
	if len(args) == 0 || args[0] != "mint" {
		fmt.Fprintln(os.Stderr, "usage: gatekeeper session mint --user ID --workspace ID [flags]")
		return 2
	}
	fs := flag.NewFlagSet("session-mint", flag.ContinueOnError)
	var secret, userID, workspaceID string
	var ttl time.Duration
	fs.StringVar(&secret, "session-secret", envOr("GATEKEEPER_SESSION_SECRET", ""), "HMAC secret for session tokens")
	fs.StringVar(&userID, "user", "", "user id")
	fs.StringVar(&workspaceID, "workspace", "", "workspace id")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "session lifetime")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if len(secret) < 16 {
		fmt.Fprintln(os.Stderr, "--session-secret must be at least 16 characters")
		return 2
	}
	if userID == "" || workspaceID == "" {
		fmt.Fprintln(os.Stderr, "missing --user or --workspace")
		return 2
	}

	token, err := identity.New(secret).Mint(identity.Identity{UserID: userID, WorkspaceID: workspaceID}, ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mint session:", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func openSQLiteStoreOrExit(dbPath string) (*sqlite.Store, int) {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return nil, 1
	}
	return store, 0
}
