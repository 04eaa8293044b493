// Package routing decides, from a resolved domain context and the caller's
// state, whether a request continues, is redirected, or is blocked. Decide
// is pure: it performs no I/O and reads the time only from its input.
package routing

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

// Reasons attached to decisions, also used as audit event names.
const (
	ReasonPortal               = "portal"
	ReasonUnknownDomain        = "unknown_domain"
	ReasonDomainRejected       = "domain_rejected"
	ReasonOwnershipInvalid     = "ownership_invalid"
	ReasonPublic               = "public"
	ReasonUnauthenticated      = "unauthenticated"
	ReasonAlreadyAuthenticated = "already_authenticated"
	ReasonTrialExpired         = "trial_expired"
	ReasonSubscriptionInactive = "subscription_inactive"
	ReasonAllowed              = "allowed"
)

// Policy holds the path layout and billing rules applied by Decide.
type Policy struct {
	DefaultDomain string
	PortalPrefix  string

	PublicPaths    []string
	PublicPrefixes []string

	LoginPath               string
	WhiteLabelLoginPath     string
	DashboardPath           string
	WhiteLabelDashboardPath string
	// AuthPages redirect authenticated callers to their dashboard.
	AuthPages []string

	BillingPath string
	TrialGrace  time.Duration
	// InactiveAllowed are path roots still reachable with a canceled or
	// past-due subscription.
	InactiveAllowed []string
}

// DefaultPolicy returns the standard layout for defaultDomain.
func DefaultPolicy(defaultDomain string) Policy {
	return Policy{
		DefaultDomain: defaultDomain,
		PortalPrefix:  "/portal/",
		PublicPaths: []string{
			"/", "/login", "/signup", "/auth/callback", "/auth/confirm",
			"/reset-password", "/forgot-password", "/privacy", "/terms", "/cookies",
			"/wl/login", "/wl/signup",
		},
		PublicPrefixes:          []string{"/api/webhooks/", "/api/track/", "/api/public/", "/_next/", "/static/"},
		LoginPath:               "/login",
		WhiteLabelLoginPath:     "/wl/login",
		DashboardPath:           "/dashboard",
		WhiteLabelDashboardPath: "/wl/dashboard",
		AuthPages:               []string{"/login", "/signup", "/wl/login", "/wl/signup"},
		BillingPath:             "/settings/billing",
		TrialGrace:              72 * time.Hour,
		InactiveAllowed:         []string{"/settings", "/billing", "/dashboard"},
	}
}

// Input is everything a decision depends on.
type Input struct {
	Context         domain.DomainContext
	Path            string
	RawQuery        string
	IsAuthenticated bool
	OwnershipValid  bool
	Subscription    domain.SubscriptionState
	Now             time.Time
}

// Decide applies the rules in order; the first match wins.
func (p Policy) Decide(in Input) domain.RoutingDecision {
	path := in.Path
	if path == "" {
		path = "/"
	}
	dc := in.Context

	// A resolved custom domain whose ownership no longer holds serves
	// nothing, portals included.
	if dc.IsCustomDomain && dc.WorkspaceID != "" && !in.OwnershipValid {
		return block(ReasonOwnershipInvalid)
	}

	if p.PortalPrefix != "" && strings.HasPrefix(path, p.PortalPrefix) {
		return next(ReasonPortal)
	}

	if dc.IsUnknownCustomDomain() || dc.IsUnknownSubdomain() {
		return redirect("https://"+p.DefaultDomain+withQuery(path, in.RawQuery), ReasonUnknownDomain)
	}

	if dc.Rejected() {
		return block(ReasonDomainRejected + ":" + string(dc.Rejection))
	}

	// Auth pages are public only to anonymous callers so signed-in users
	// reach the dashboard redirect below.
	isAuthPage := contains(p.AuthPages, path)
	if p.isPublic(path) && !(in.IsAuthenticated && isAuthPage) {
		return next(ReasonPublic)
	}

	if !in.IsAuthenticated {
		login := p.LoginPath
		if dc.IsWhiteLabel {
			login = p.WhiteLabelLoginPath
		}
		q := url.Values{"redirectTo": {withQuery(path, in.RawQuery)}}
		return redirect(login+"?"+q.Encode(), ReasonUnauthenticated)
	}

	if isAuthPage {
		dest := p.DashboardPath
		if dc.IsWhiteLabel {
			dest = p.WhiteLabelDashboardPath
		}
		return redirect(dest, ReasonAlreadyAuthenticated)
	}

	sub := in.Subscription
	if sub.Status == domain.SubscriptionTrialing && sub.TrialEnd != nil &&
		in.Now.After(sub.TrialEnd.Add(p.TrialGrace)) && !underPath(path, p.BillingPath) {
		return redirect(p.BillingPath+"?trial_expired=true", ReasonTrialExpired)
	}

	if sub.Status == domain.SubscriptionCanceled || sub.Status == domain.SubscriptionPastDue {
		allowed := false
		for _, root := range p.InactiveAllowed {
			if underPath(path, root) {
				allowed = true
				break
			}
		}
		if !allowed {
			return redirect(p.BillingPath+"?subscription_inactive=true", ReasonSubscriptionInactive)
		}
	}

	return next(ReasonAllowed)
}

func (p Policy) isPublic(path string) bool {
	if contains(p.PublicPaths, path) {
		return true
	}
	for _, prefix := range p.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// underPath reports whether path is root or nested below it.
func underPath(path, root string) bool {
	if root == "" {
		return false
	}
	return path == root || strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func withQuery(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	return path + "?" + rawQuery
}

func next(reason string) domain.RoutingDecision {
	return domain.RoutingDecision{Action: domain.ActionContinue, Reason: reason}
}

func redirect(dest, reason string) domain.RoutingDecision {
	return domain.RoutingDecision{Action: domain.ActionRedirect, Destination: dest, StatusCode: http.StatusFound, Reason: reason}
}

func block(reason string) domain.RoutingDecision {
	return domain.RoutingDecision{Action: domain.ActionBlock, StatusCode: http.StatusForbidden, Reason: reason}
}
