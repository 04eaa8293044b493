package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatekeep/gatekeeper/internal/audit"
	"github.com/gatekeep/gatekeeper/internal/branding"
	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/netutil"
	"github.com/gatekeep/gatekeeper/internal/portal"
	"github.com/gatekeep/gatekeeper/internal/ratelimit"
	"github.com/gatekeep/gatekeeper/internal/routing"
)

// handleGate runs every tenant request through rate limiting, host
// resolution, ownership, identity, routing, and portal checks before it
// reaches the upstream.
func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := &RequestInfo{
		RequestID: middleware.GetReqID(ctx),
		ClientIP:  netutil.ClientIP(r),
	}

	if s.cfg.MaxBodyBytes > 0 {
		if r.ContentLength > s.cfg.MaxBodyBytes {
			netutil.WriteJSON(w, http.StatusRequestEntityTooLarge, domain.ErrorResponse{Error: "request body too large", ErrorCode: "body_too_large"})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}

	if !s.allowRate(w, r, info) {
		return
	}

	dc := s.resolver.Resolve(ctx, r.Host, r.Header.Get("X-Forwarded-Proto"))
	info.Domain = dc

	ownershipValid := true
	if dc.IsCustomDomain && dc.WorkspaceID != "" {
		ownershipValid = s.ownership.Validate(ctx, dc)
	}

	id, authed := s.auth.Authenticate(r)
	if authed && dc.WorkspaceID != "" && id.WorkspaceID != dc.WorkspaceID {
		s.log.Debug("session belongs to another workspace", "host", dc.Domain, "workspace_id", dc.WorkspaceID)
		authed = false
	}
	if authed {
		info.Identity = &id
	}

	sub := domain.SubscriptionState{Status: domain.SubscriptionUnknown}
	if authed {
		wsID := dc.WorkspaceID
		if wsID == "" {
			wsID = id.WorkspaceID
		}
		if wsID != "" {
			state, err := s.domains.Subscription(ctx, wsID)
			if err != nil {
				s.log.Warn("subscription lookup failed", "workspace_id", wsID, "err", err)
			} else {
				sub = state
			}
		}
	}

	decision := s.policy.Decide(routing.Input{
		Context:         dc,
		Path:            r.URL.Path,
		RawQuery:        r.URL.RawQuery,
		IsAuthenticated: authed,
		OwnershipValid:  ownershipValid,
		Subscription:    sub,
		Now:             s.now(),
	})
	info.Decision = decision

	switch decision.Action {
	case domain.ActionRedirect:
		http.Redirect(w, r, decision.Destination, decision.StatusCode)
		return
	case domain.ActionBlock:
		kind, _, _ := strings.Cut(decision.Reason, ":")
		s.recordEvent(r, info, kind, decision.Reason, decision.StatusCode)
		s.log.Warn("request blocked", "host", dc.Domain, "workspace_id", dc.WorkspaceID, "reason", decision.Reason, "client_ip", info.ClientIP)
		netutil.WriteJSON(w, decision.StatusCode, domain.ErrorResponse{Error: "forbidden", ErrorCode: decision.Reason})
		return
	}

	if decision.Reason == routing.ReasonPortal && !s.checkPortal(w, r, info) {
		return
	}

	if ws := info.WorkspaceID(); ws != "" {
		info.BrandingVars = branding.InlineVars(s.brandingFor(ctx, ws, dc.DomainID))
	}
	s.proxy.ServeHTTP(w, r.WithContext(withInfo(ctx, info)))
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, info *RequestInfo) bool {
	category, limited := ratelimit.CategoryFor(r.Method, r.URL.Path)
	if !limited {
		return true
	}
	res := s.limiter.Check(info.ClientIP, category)
	if res.Allowed {
		return true
	}
	retryAfter := retryAfterSeconds(res.RetryAfter)
	s.recordEvent(r, info, audit.KindRateLimited, string(category), http.StatusTooManyRequests)
	s.log.Warn("rate limit exceeded", "client_ip", info.ClientIP, "category", string(category), "retry_after", retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	netutil.WriteJSON(w, http.StatusTooManyRequests, domain.RateLimitResponse{Error: domain.ErrRateLimitExceeded.Error(), RetryAfter: retryAfter})
	return false
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// checkPortal validates the portal token. On a tenant host the portal must
// belong to the host's workspace.
func (s *Server) checkPortal(w http.ResponseWriter, r *http.Request, info *RequestInfo) bool {
	res := portal.Result{Reason: portal.ReasonNotFound}
	if slug, ok := portal.SplitPath(r.URL.Path, s.policy.PortalPrefix); ok {
		res = s.portals.Validate(r.Context(), slug, portal.TokenFromRequest(r))
	}

	dc := info.Domain
	tenantHost := dc.IsCustomDomain || dc.Subdomain != "" || dc.Rejected()
	if res.Valid && tenantHost && res.WorkspaceID != dc.WorkspaceID {
		res = portal.Result{Reason: portal.ReasonNotFound}
	}
	if res.Valid {
		info.Portal = &res
		return true
	}

	kind := audit.KindPortalDenied
	if res.Reason == portal.ReasonLocked {
		kind = audit.KindPortalLocked
		if res.LockedUntil != nil {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.LockedUntil.Sub(s.now()))))
		}
	}
	status := res.Reason.HTTPStatus()
	s.recordEvent(r, info, kind, string(res.Reason), status)
	netutil.WriteJSON(w, status, domain.PortalErrorResponse{Error: portalMessage(res.Reason), Reason: string(res.Reason)})
	return false
}

func portalMessage(reason portal.Reason) string {
	switch reason {
	case portal.ReasonNotFound:
		return "portal not found"
	case portal.ReasonInactive:
		return "portal is inactive"
	case portal.ReasonExpired:
		return "portal access has expired"
	case portal.ReasonLocked:
		return "portal is temporarily locked"
	case portal.ReasonInvalidToken:
		return "invalid access token"
	default:
		return "portal temporarily unavailable"
	}
}

// brandingFor never fails; missing or unreadable branding renders the
// platform defaults.
func (s *Server) brandingFor(ctx context.Context, workspaceID, domainID string) domain.BrandingRecord {
	rec, err := s.domains.Branding(ctx, workspaceID, domainID)
	if err != nil {
		if !errors.Is(err, domain.ErrBrandingNotFound) {
			s.log.Warn("branding lookup failed", "workspace_id", workspaceID, "err", err)
		}
		return branding.Defaults()
	}
	return rec
}

func (s *Server) handleBrandingCSS(w http.ResponseWriter, r *http.Request) {
	dc := s.resolver.Resolve(r.Context(), r.Host, r.Header.Get("X-Forwarded-Proto"))
	rec := branding.Defaults()
	// A custom domain only shows its workspace's branding while ownership holds.
	if dc.WorkspaceID != "" && (!dc.IsCustomDomain || s.ownership.Validate(r.Context(), dc)) {
		rec = s.brandingFor(r.Context(), dc.WorkspaceID, dc.DomainID)
	}
	css := branding.GenerateCSS(rec)
	sum := sha256.Sum256([]byte(css))
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Vary", "Host")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = io.WriteString(w, css)
}

func (s *Server) recordEvent(r *http.Request, info *RequestInfo, kind, reason string, status int) {
	s.audit.Record(audit.Event{
		Kind:        kind,
		Host:        netutil.NormalizeHost(r.Host),
		WorkspaceID: info.Domain.WorkspaceID,
		Path:        r.URL.Path,
		ClientIP:    info.ClientIP,
		Reason:      reason,
		Status:      status,
		RequestID:   info.RequestID,
	})
}
