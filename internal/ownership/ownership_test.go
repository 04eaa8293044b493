package ownership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

type memRecords struct {
	mu      sync.Mutex
	records map[string]domain.DomainRecord
	err     error
}

func (m *memRecords) DomainRecord(_ context.Context, host string) (domain.DomainRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.DomainRecord{}, m.err
	}
	r, ok := m.records[host]
	if !ok {
		return domain.DomainRecord{}, domain.ErrDomainNotFound
	}
	return r, nil
}

func (m *memRecords) SetVerification(_ context.Context, id string, status domain.VerificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for host, r := range m.records {
		if r.ID == id {
			r.VerificationStatus = status
			m.records[host] = r
			return nil
		}
	}
	return domain.ErrDomainNotFound
}

func (m *memRecords) status(host string) domain.VerificationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[host].VerificationStatus
}

type stubVerifier struct {
	ok    bool
	err   error
	calls int
}

func (s *stubVerifier) VerifyOwnership(context.Context, domain.DomainRecord) (bool, error) {
	s.calls++
	return s.ok, s.err
}

type invalidations []string

func (i *invalidations) Invalidate(host string) { *i = append(*i, host) }

func customContext(ws string) domain.DomainContext {
	return domain.DomainContext{Domain: "portal.acme.com", IsCustomDomain: true, WorkspaceID: ws, DomainID: "d1"}
}

func newRecords(status domain.VerificationStatus, active bool, ws string) *memRecords {
	return &memRecords{records: map[string]domain.DomainRecord{
		"portal.acme.com": {ID: "d1", WorkspaceID: ws, Domain: "portal.acme.com", VerificationStatus: status, IsActive: active},
	}}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records *memRecords
		dc      domain.DomainContext
		want    bool
	}{
		{name: "verified owned", records: newRecords(domain.VerificationVerified, true, "W1"), dc: customContext("W1"), want: true},
		{name: "owned by another workspace", records: newRecords(domain.VerificationVerified, true, "W2"), dc: customContext("W1"), want: false},
		{name: "demoted since cached", records: newRecords(domain.VerificationFailed, true, "W1"), dc: customContext("W1"), want: false},
		{name: "disabled since cached", records: newRecords(domain.VerificationVerified, false, "W1"), dc: customContext("W1"), want: false},
		{name: "record deleted", records: &memRecords{records: map[string]domain.DomainRecord{}}, dc: customContext("W1"), want: false},
		{name: "store error fails closed", records: &memRecords{err: errors.New("database is locked")}, dc: customContext("W1"), want: false},
		{name: "unknown custom domain", records: newRecords(domain.VerificationVerified, true, "W1"), dc: customContext(""), want: false},
		{name: "platform host", records: &memRecords{err: errors.New("unused")}, dc: domain.DomainContext{Domain: "app.example.com"}, want: true},
	}
	for _, tt := range tests {
		var inv invalidations
		v := New(tt.records, Options{Invalidator: &inv, Backoff: -1})
		if got := v.Validate(context.Background(), tt.dc); got != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

// flakyRecords fails the first n reads with err before delegating.
type flakyRecords struct {
	*memRecords
	n     int
	err   error
	calls int
}

func (f *flakyRecords) DomainRecord(ctx context.Context, host string) (domain.DomainRecord, error) {
	f.calls++
	if f.calls <= f.n {
		return domain.DomainRecord{}, f.err
	}
	return f.memRecords.DomainRecord(ctx, host)
}

func TestValidateRetriesTransientStoreErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  int
		err       error
		want      bool
		wantCalls int
	}{
		{name: "one transient failure recovers", failures: 1, err: errors.New("database is locked"), want: true, wantCalls: 2},
		{name: "two transient failures recover", failures: 2, err: errors.New("database is locked"), want: true, wantCalls: 3},
		{name: "exhausted attempts fail closed", failures: 3, err: errors.New("database is locked"), want: false, wantCalls: 3},
		{name: "not found is not retried", failures: 5, err: domain.ErrDomainNotFound, want: false, wantCalls: 1},
	}
	for _, tt := range tests {
		records := &flakyRecords{memRecords: newRecords(domain.VerificationVerified, true, "W1"), n: tt.failures, err: tt.err}
		v := New(records, Options{Attempts: 3, Backoff: time.Millisecond})
		if got := v.Validate(context.Background(), customContext("W1")); got != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
		if records.calls != tt.wantCalls {
			t.Fatalf("%s: expected %d reads, got %d", tt.name, tt.wantCalls, records.calls)
		}
	}
}

func TestValidateMismatchInvalidatesCache(t *testing.T) {
	t.Parallel()

	var inv invalidations
	v := New(newRecords(domain.VerificationVerified, true, "W2"), Options{Invalidator: &inv})
	v.Validate(context.Background(), customContext("W1"))
	if len(inv) != 1 || inv[0] != "portal.acme.com" {
		t.Fatalf("expected host invalidated, got %v", inv)
	}
}

func TestLiveRecheckDemotesOnDefinitiveFailure(t *testing.T) {
	t.Parallel()

	records := newRecords(domain.VerificationVerified, true, "W1")
	verifier := &stubVerifier{ok: false}
	var inv invalidations
	v := New(records, Options{RecheckInterval: time.Hour, Verifier: verifier, Invalidator: &inv})

	if v.Validate(context.Background(), customContext("W1")) {
		t.Fatal("expected live failure to deny")
	}
	if records.status("portal.acme.com") != domain.VerificationFailed {
		t.Fatalf("expected demotion, got %s", records.status("portal.acme.com"))
	}
	if len(inv) != 1 {
		t.Fatalf("expected invalidation, got %v", inv)
	}
}

func TestLiveRecheckKeepsVerdictOnError(t *testing.T) {
	t.Parallel()

	records := newRecords(domain.VerificationVerified, true, "W1")
	verifier := &stubVerifier{err: errors.New("dns timeout")}
	v := New(records, Options{RecheckInterval: time.Hour, Verifier: verifier})

	if !v.Validate(context.Background(), customContext("W1")) {
		t.Fatal("expected collaborator error to keep stored verdict")
	}
	if records.status("portal.acme.com") != domain.VerificationVerified {
		t.Fatal("expected record untouched")
	}
}

func TestLiveRecheckInterval(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	records := newRecords(domain.VerificationVerified, true, "W1")
	verifier := &stubVerifier{ok: true}
	v := New(records, Options{RecheckInterval: 6 * time.Hour, Verifier: verifier, Now: func() time.Time { return now }})

	for i := 0; i < 5; i++ {
		v.Validate(context.Background(), customContext("W1"))
	}
	if verifier.calls != 1 {
		t.Fatalf("expected one live check within interval, got %d", verifier.calls)
	}
	now = now.Add(6 * time.Hour)
	v.Validate(context.Background(), customContext("W1"))
	if verifier.calls != 2 {
		t.Fatalf("expected re-check after interval, got %d", verifier.calls)
	}
}

func TestVerifyLifecycle(t *testing.T) {
	t.Parallel()

	records := newRecords(domain.VerificationPending, true, "W1")
	var inv invalidations
	v := New(records, Options{Verifier: &stubVerifier{ok: true}, Invalidator: &inv})

	rec, err := v.Verify(context.Background(), "portal.acme.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec.VerificationStatus != domain.VerificationVerified || records.status("portal.acme.com") != domain.VerificationVerified {
		t.Fatalf("expected verified, got %s", rec.VerificationStatus)
	}
	if len(inv) != 1 {
		t.Fatalf("expected resolver invalidation, got %v", inv)
	}

	records = newRecords(domain.VerificationPending, true, "W1")
	v = New(records, Options{Verifier: &stubVerifier{ok: false}})
	rec, err = v.Verify(context.Background(), "portal.acme.com")
	if !errors.Is(err, domain.ErrOwnershipMismatch) {
		t.Fatalf("expected ErrOwnershipMismatch, got %v", err)
	}
	if rec.VerificationStatus != domain.VerificationFailed {
		t.Fatalf("expected failed, got %s", rec.VerificationStatus)
	}

	v = New(records, Options{})
	if _, err := v.Verify(context.Background(), "portal.acme.com"); err == nil {
		t.Fatal("expected error without verifier")
	}
}
