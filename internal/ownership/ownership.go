// Package ownership re-checks, on every custom-domain request, that the
// domain still belongs to the workspace it resolved to. All failures deny.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/domainstore"
	"github.com/gatekeep/gatekeeper/internal/log"
)

// Records is the authoritative record source. *domainstore.Client
// implements it.
type Records interface {
	DomainRecord(ctx context.Context, host string) (domain.DomainRecord, error)
	SetVerification(ctx context.Context, domainID string, status domain.VerificationStatus) error
}

// Verifier is the DNS/SSL collaborator that proves ownership live.
type Verifier interface {
	VerifyOwnership(ctx context.Context, rec domain.DomainRecord) (bool, error)
}

// Invalidator drops cached resolutions for a host.
type Invalidator interface {
	Invalidate(host string)
}

type Options struct {
	// RecheckInterval is how often a domain's DNS proof is re-verified
	// live. Zero disables live re-checks.
	RecheckInterval time.Duration
	// Attempts and Backoff bound retries of transient store errors on the
	// authoritative re-read.
	Attempts    int
	Backoff     time.Duration
	Verifier    Verifier
	Invalidator Invalidator
	Now         func() time.Time
	Logger      *slog.Logger
}

type Validator struct {
	records     Records
	verifier    Verifier
	invalidator Invalidator
	recheck     time.Duration
	retry       domainstore.RetryPolicy
	now         func() time.Time
	log         *slog.Logger

	mu        sync.Mutex
	lastCheck map[string]time.Time
}

func New(records Records, opts Options) *Validator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Validator{
		records:     records,
		verifier:    opts.Verifier,
		invalidator: opts.Invalidator,
		recheck:     opts.RecheckInterval,
		retry:       retryPolicy(opts, logger),
		now:         now,
		log:         logger,
		lastCheck:   make(map[string]time.Time),
	}
}

// Validate reports whether dc may be served for its workspace. Contexts on
// the platform domain carry nothing to verify.
func (v *Validator) Validate(ctx context.Context, dc domain.DomainContext) bool {
	if !dc.IsCustomDomain {
		return true
	}
	if dc.WorkspaceID == "" {
		return false
	}

	rec, err := domainstore.Retry(ctx, v.retry, func(ctx context.Context) (domain.DomainRecord, error) {
		return v.records.DomainRecord(ctx, dc.Domain)
	})
	if err != nil {
		v.log.Warn("ownership check failed closed", "host", dc.Domain, "workspace_id", dc.WorkspaceID, "err", err)
		return false
	}
	if err := checkRecord(rec, dc.WorkspaceID); err != nil {
		v.log.Warn("ownership check rejected domain", "host", dc.Domain, "workspace_id", dc.WorkspaceID, "err", err)
		v.invalidate(dc.Domain)
		return false
	}

	if v.verifier == nil || v.recheck <= 0 || !v.reserveRecheck(rec.ID) {
		return true
	}
	ok, err := v.verifier.VerifyOwnership(ctx, rec)
	if err != nil {
		v.log.Warn("live ownership re-check unavailable, keeping stored verdict", "host", dc.Domain, "err", err)
		return true
	}
	if ok {
		return true
	}
	v.log.Warn("live ownership re-check failed, demoting domain", "host", dc.Domain, "domain_id", rec.ID, "workspace_id", dc.WorkspaceID)
	if err := v.records.SetVerification(ctx, rec.ID, domain.VerificationFailed); err != nil {
		v.log.Error("failed to demote domain", "domain_id", rec.ID, "err", err)
	}
	v.invalidate(dc.Domain)
	return false
}

func retryPolicy(opts Options, logger *slog.Logger) domainstore.RetryPolicy {
	p := domainstore.RetryPolicy{Attempts: opts.Attempts, Backoff: opts.Backoff, Logger: logger}
	if p.Attempts <= 0 {
		p.Attempts = domainstore.DefaultAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	} else if p.Backoff == 0 {
		p.Backoff = domainstore.DefaultBackoff
	}
	return p
}

func checkRecord(rec domain.DomainRecord, workspaceID string) error {
	switch {
	case rec.VerificationStatus != domain.VerificationVerified:
		return fmt.Errorf("verification status %s: %w", rec.VerificationStatus, domain.ErrOwnershipMismatch)
	case !rec.IsActive:
		return fmt.Errorf("domain disabled: %w", domain.ErrOwnershipMismatch)
	case rec.WorkspaceID != workspaceID:
		return fmt.Errorf("record owned by %s: %w", rec.WorkspaceID, domain.ErrOwnershipMismatch)
	}
	return nil
}

// reserveRecheck claims the next live check for domainID if one is due.
func (v *Validator) reserveRecheck(domainID string) bool {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	if last, ok := v.lastCheck[domainID]; ok && now.Sub(last) < v.recheck {
		return false
	}
	v.lastCheck[domainID] = now
	return true
}

// Verify drives a domain through verifying to verified or failed using the
// live DNS proof. A failed proof returns domain.ErrOwnershipMismatch.
func (v *Validator) Verify(ctx context.Context, host string) (domain.DomainRecord, error) {
	if v.verifier == nil {
		return domain.DomainRecord{}, errors.New("no ownership verifier configured")
	}
	rec, err := v.records.DomainRecord(ctx, host)
	if err != nil {
		return domain.DomainRecord{}, err
	}
	if err := v.records.SetVerification(ctx, rec.ID, domain.VerificationVerifying); err != nil {
		return rec, fmt.Errorf("mark verifying: %w", err)
	}
	rec.VerificationStatus = domain.VerificationVerifying

	ok, verr := v.verifier.VerifyOwnership(ctx, rec)
	next := domain.VerificationVerified
	if verr != nil || !ok {
		next = domain.VerificationFailed
	}
	if err := v.records.SetVerification(ctx, rec.ID, next); err != nil {
		return rec, fmt.Errorf("mark %s: %w", next, err)
	}
	rec.VerificationStatus = next
	v.invalidate(host)

	v.mu.Lock()
	if next == domain.VerificationVerified {
		v.lastCheck[rec.ID] = v.now()
	} else {
		delete(v.lastCheck, rec.ID)
	}
	v.mu.Unlock()

	switch {
	case verr != nil:
		return rec, fmt.Errorf("verify %s: %w", host, verr)
	case !ok:
		return rec, fmt.Errorf("challenge not published for %s: %w", host, domain.ErrOwnershipMismatch)
	}
	return rec, nil
}

func (v *Validator) invalidate(host string) {
	if v.invalidator != nil {
		v.invalidator.Invalidate(strings.ToLower(host))
	}
}
