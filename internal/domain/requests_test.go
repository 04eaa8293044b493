package domain

import (
	"encoding/json"
	"testing"
)

func TestRateLimitResponseJSONKeys(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(RateLimitResponse{Error: "rate limit exceeded", RetryAfter: 12})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"error", "retryAfter"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing expected JSON key %q", key)
		}
	}
}

func TestErrorResponseOmitsEmptyCode(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(ErrorResponse{Error: "something went wrong"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["error_code"]; ok {
		t.Fatal("expected error_code to be omitted when empty")
	}
}

func TestDomainContextPredicates(t *testing.T) {
	t.Parallel()

	unknown := DomainContext{Domain: "x.example.org", IsCustomDomain: true}
	if !unknown.IsUnknownCustomDomain() {
		t.Fatal("expected custom domain without workspace to be unknown")
	}
	known := DomainContext{Domain: "x.example.org", IsCustomDomain: true, WorkspaceID: "W1"}
	if known.IsUnknownCustomDomain() {
		t.Fatal("expected custom domain with workspace to be known")
	}
	rejected := DomainContext{Domain: "x.example.org", Rejection: RejectionInactive}
	if !rejected.Rejected() || known.Rejected() {
		t.Fatal("unexpected Rejected() result")
	}
}

func TestDomainRecordServable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status VerificationStatus
		active bool
		want   bool
	}{
		{VerificationVerified, true, true},
		{VerificationVerified, false, false},
		{VerificationPending, true, false},
		{VerificationFailed, true, false},
		{VerificationVerifying, true, false},
	}
	for _, tc := range cases {
		rec := DomainRecord{VerificationStatus: tc.status, IsActive: tc.active}
		if got := rec.Servable(); got != tc.want {
			t.Fatalf("Servable(%s, active=%v) = %v, want %v", tc.status, tc.active, got, tc.want)
		}
	}
}
