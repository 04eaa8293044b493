package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrDomainNotFound means no domain record matches the host.
	ErrDomainNotFound = errors.New("domain not found")

	// ErrWorkspaceNotFound means the workspace referenced by a record is gone.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrBrandingNotFound means neither an override nor a default exists.
	ErrBrandingNotFound = errors.New("branding not found")

	// ErrPortalNotFound means no portal matches the requested portal URL.
	ErrPortalNotFound = errors.New("portal not found")

	// ErrSubscriptionNotFound means the billing source has no record.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrOwnershipMismatch indicates a custom domain no longer belongs to
	// the workspace it was resolved for.
	ErrOwnershipMismatch = errors.New("domain ownership mismatch")

	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimitExceeded is returned when a client exceeds the allowed
	// request rate.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// LookupError wraps an underlying store error with host context.
type LookupError struct {
	Host string
	Op   string
	Err  error
}

func (e *LookupError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("host %s: %s: %v", e.Host, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
