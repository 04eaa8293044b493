package portal

import (
	"net/http"
	"strings"
)

const (
	TokenHeader = "X-Portal-Token"
	TokenCookie = "portal_token"
	TokenQuery  = "token"
)

// SplitPath extracts the portal URL slug from /<prefix>/<slug>/...
func SplitPath(path, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return "", false
	}
	slug, _, _ := strings.Cut(rest, "/")
	if slug == "" {
		return "", false
	}
	return slug, true
}

// TokenFromRequest reads the portal token from the header, then the cookie,
// then the query string.
func TokenFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(TokenHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQuery))
}
