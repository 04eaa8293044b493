package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/identity"
	"github.com/gatekeep/gatekeeper/internal/portal"
)

// Headers produced toward the upstream application. Inbound copies are
// always stripped.
const (
	HeaderWorkspaceID       = "X-Workspace-Id"
	HeaderWhiteLabel        = "X-White-Label"
	HeaderDomain            = "X-Domain"
	HeaderFeatureFlags      = "X-Feature-Flags"
	HeaderBrandingVars      = "X-Branding-Vars"
	HeaderShowCookieBanner  = "X-Show-Cookie-Banner"
	HeaderPortalID          = "X-Portal-Id"
	HeaderClientID          = "X-Client-Id"
	HeaderPortalPermissions = "X-Portal-Permissions"
)

var producedHeaders = []string{
	HeaderWorkspaceID,
	HeaderWhiteLabel,
	HeaderDomain,
	HeaderFeatureFlags,
	HeaderBrandingVars,
	HeaderShowCookieBanner,
	HeaderPortalID,
	HeaderClientID,
	HeaderPortalPermissions,
}

// RequestInfo is what the gatekeeper learned about a request. It travels on
// the request context from the pipeline to the proxy.
type RequestInfo struct {
	RequestID    string
	ClientIP     string
	Domain       domain.DomainContext
	Identity     *identity.Identity
	Decision     domain.RoutingDecision
	Portal       *portal.Result
	BrandingVars string
}

type infoKey struct{}

func withInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// InfoFromContext returns the RequestInfo attached by the pipeline.
func InfoFromContext(ctx context.Context) (*RequestInfo, bool) {
	info, ok := ctx.Value(infoKey{}).(*RequestInfo)
	return info, ok && info != nil
}

// WorkspaceID is the workspace the request is served for: the host's
// owner, or the portal's owner on the platform domain.
func (info *RequestInfo) WorkspaceID() string {
	if info.Domain.WorkspaceID != "" {
		return info.Domain.WorkspaceID
	}
	if info.Portal != nil {
		return info.Portal.WorkspaceID
	}
	return ""
}

func (info *RequestInfo) applyHeaders(h http.Header) {
	dc := info.Domain
	if ws := info.WorkspaceID(); ws != "" {
		h.Set(HeaderWorkspaceID, ws)
	}
	h.Set(HeaderWhiteLabel, strconv.FormatBool(dc.IsWhiteLabel))
	if dc.Domain != "" {
		h.Set(HeaderDomain, dc.Domain)
	}
	flags := dc.Settings
	if flags == nil {
		flags = domain.FeatureFlags{}
	}
	if b, err := json.Marshal(flags); err == nil {
		h.Set(HeaderFeatureFlags, string(b))
	}
	if info.BrandingVars != "" {
		h.Set(HeaderBrandingVars, info.BrandingVars)
	}
	h.Set(HeaderShowCookieBanner, strconv.FormatBool(dc.ShowCookieBanner))

	if p := info.Portal; p != nil {
		h.Set(HeaderPortalID, p.PortalID)
		h.Set(HeaderClientID, p.ClientID)
		h.Set(HeaderPortalPermissions, strings.Join(p.Permissions, ","))
	}
}
