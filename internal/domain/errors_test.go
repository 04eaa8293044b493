package domain

import (
	"errors"
	"testing"
)

func TestLookupErrorMessage(t *testing.T) {
	t.Parallel()

	err := &LookupError{Host: "custom.example.com", Op: "resolve", Err: ErrDomainNotFound}
	want := "host custom.example.com: resolve: domain not found"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLookupErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &LookupError{Host: "a.example.com", Op: "ownership", Err: ErrOwnershipMismatch}
	if !errors.Is(err, ErrOwnershipMismatch) {
		t.Fatal("expected errors.Is to match ErrOwnershipMismatch")
	}
}

func TestLookupErrorWithoutHost(t *testing.T) {
	t.Parallel()

	err := &LookupError{Op: "portal", Err: ErrPortalNotFound}
	want := "portal: portal not found"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"domain_not_found", ErrDomainNotFound, "domain not found"},
		{"workspace_not_found", ErrWorkspaceNotFound, "workspace not found"},
		{"portal_not_found", ErrPortalNotFound, "portal not found"},
		{"ownership", ErrOwnershipMismatch, "domain ownership mismatch"},
		{"unauthorized", ErrUnauthorized, "unauthorized"},
		{"rate_limit", ErrRateLimitExceeded, "rate limit exceeded"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
