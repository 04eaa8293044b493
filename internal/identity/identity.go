// Package identity authenticates callers from HS256 session tokens carried
// in the session cookie or a bearer Authorization header.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SessionCookie = "session"
	bearerPrefix  = "Bearer "
	issuer        = "gatekeeper"
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID      string
	WorkspaceID string
}

// Claims is the session token payload.
type Claims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// WithClock overrides the clock used for expiry validation.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Authenticate extracts and verifies the caller's session. Any problem is
// reported as unauthenticated.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, bool) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return Identity{}, false
	}
	id, err := a.Parse(raw)
	if err != nil {
		return Identity{}, false
	}
	return id, true
}

// Parse validates a raw token string.
func (a *Authenticator) Parse(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, WorkspaceID: claims.WorkspaceID}, nil
}

// Mint signs a session token for id valid for ttl.
func (a *Authenticator) Mint(id Identity, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		WorkspaceID: id.WorkspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
