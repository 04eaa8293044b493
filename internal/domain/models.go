// Package domain defines the core data types shared across the gatekeeper
// resolver, routing, portal, store, and server layers.
package domain

import "time"

// SSLStatus tracks certificate provisioning for a domain.
type SSLStatus string

const (
	SSLStatusPending      SSLStatus = "pending"
	SSLStatusProvisioning SSLStatus = "provisioning"
	SSLStatusActive       SSLStatus = "active"
	SSLStatusExpired      SSLStatus = "expired"
	SSLStatusFailed       SSLStatus = "failed"
	SSLStatusDisabled     SSLStatus = "disabled"
)

// VerificationStatus tracks the ownership verification lifecycle of a
// domain: pending -> verifying -> verified | failed.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationVerifying VerificationStatus = "verifying"
	VerificationVerified  VerificationStatus = "verified"
	VerificationFailed    VerificationStatus = "failed"
	VerificationExpired   VerificationStatus = "expired"
)

// Rejection explains why a host that matched a stored domain record was
// degraded to default-domain behavior.
type Rejection string

const (
	RejectionNone       Rejection = ""
	RejectionUnverified Rejection = "unverified"
	RejectionInactive   Rejection = "inactive"
)

// FeatureFlags is the per-workspace flag set forwarded to the application.
type FeatureFlags map[string]bool

// Clone returns an independent copy so cached contexts are never aliased.
func (f FeatureFlags) Clone() FeatureFlags {
	if f == nil {
		return nil
	}
	out := make(FeatureFlags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DomainContext is the per-request view of which workspace owns a host.
// It is treated as an immutable value once built.
type DomainContext struct {
	Domain         string
	Subdomain      string
	IsCustomDomain bool
	IsWhiteLabel   bool
	WorkspaceID    string
	DomainID       string
	Settings       FeatureFlags
	BrandingRef    string
	// ShowCookieBanner mirrors the owning workspace preference; the default
	// domain always shows it.
	ShowCookieBanner bool
	Rejection        Rejection
}

// IsUnknownCustomDomain reports whether the host looks like a tenant
// domain but no record exists for it.
func (c DomainContext) IsUnknownCustomDomain() bool {
	return c.IsCustomDomain && c.WorkspaceID == ""
}

// IsUnknownSubdomain reports whether the host is a platform subdomain with
// no registered workspace.
func (c DomainContext) IsUnknownSubdomain() bool {
	return !c.IsCustomDomain && c.Subdomain != "" && c.WorkspaceID == "" && c.Rejection == RejectionNone
}

// Rejected reports whether the host matched a record that may not serve
// traffic (unverified or disabled).
func (c DomainContext) Rejected() bool {
	return c.Rejection != RejectionNone
}

// DNSRecord is a record the tenant must publish to prove ownership.
type DNSRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DomainRecord is the durable registration of a custom domain or platform
// subdomain.
type DomainRecord struct {
	ID                 string
	WorkspaceID        string
	Domain             string
	Subdomain          string
	SSLStatus          SSLStatus
	VerificationStatus VerificationStatus
	DNSRecords         []DNSRecord
	IsActive           bool
	IsPrimary          bool
	CreatedAt          time.Time
	VerifiedAt         *time.Time
}

// Servable reports whether the record may be associated with its workspace.
func (d DomainRecord) Servable() bool {
	return d.VerificationStatus == VerificationVerified && d.IsActive
}

// Workspace is a tenant account.
type Workspace struct {
	ID               string
	Name             string
	WhiteLabel       bool
	FeatureFlags     FeatureFlags
	ShowCookieBanner bool
	CreatedAt        time.Time
}

// BrandColors holds the five base colors used to derive CSS variables.
type BrandColors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
	Text       string `json:"text"`
}

type BrandFonts struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type ThemeConfig struct {
	BorderRadius string `json:"border_radius"`
	Mode         string `json:"mode"`
}

type CompanyMeta struct {
	Name         string `json:"name"`
	LogoURL      string `json:"logo_url,omitempty"`
	FaviconURL   string `json:"favicon_url,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
}

// BrandingRecord is a workspace default (DomainID empty) or a per-domain
// override.
type BrandingRecord struct {
	ID          string
	WorkspaceID string
	DomainID    string
	Colors      BrandColors
	Fonts       BrandFonts
	ThemeConfig ThemeConfig
	CompanyMeta CompanyMeta
	UpdatedAt   time.Time
}

// ClientPortalRecord is a token-authenticated portal granted to a tenant's
// client.
type ClientPortalRecord struct {
	ID             string
	WorkspaceID    string
	ClientID       string
	PortalURL      string
	AccessToken    string
	Permissions    []string
	IsActive       bool
	IsLocked       bool
	LockedUntil    *time.Time
	LoginAttempts  int
	ExpiresAt      time.Time
	LastAccessedAt *time.Time
	CreatedAt      time.Time
}

// PortalUpdate carries the lockout fields the portal validator mutates.
type PortalUpdate struct {
	LoginAttempts int
	IsLocked      bool
	LockedUntil   *time.Time
}

// SubscriptionStatus mirrors the billing source.
type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionUnknown  SubscriptionStatus = "unknown"
)

// SubscriptionState is the billing view consumed by routing.
type SubscriptionState struct {
	Status   SubscriptionStatus
	TrialEnd *time.Time
}

// RoutingAction is the outcome class of a routing decision.
type RoutingAction string

const (
	ActionContinue RoutingAction = "continue"
	ActionRedirect RoutingAction = "redirect"
	ActionBlock    RoutingAction = "block"
	ActionRewrite  RoutingAction = "rewrite"
)

// RoutingDecision is computed per request and never stored.
type RoutingDecision struct {
	Action      RoutingAction
	Destination string
	StatusCode  int
	Reason      string
}
