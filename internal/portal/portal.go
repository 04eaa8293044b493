// Package portal validates client-portal access tokens and enforces the
// failed-attempt lockout.
package portal

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gatekeep/gatekeeper/internal/auth"
	"github.com/gatekeep/gatekeeper/internal/cache"
	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/log"
)

// Reason names why validation failed. Each maps to its own status so
// callers never collapse them into a generic denial.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonNotFound     Reason = "not_found"
	ReasonInactive     Reason = "inactive"
	ReasonExpired      Reason = "expired"
	ReasonLocked       Reason = "locked"
	ReasonInvalidToken Reason = "invalid_token"
	ReasonUnavailable  Reason = "unavailable"
)

func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonInactive:
		return http.StatusForbidden
	case ReasonExpired:
		return http.StatusGone
	case ReasonLocked:
		return http.StatusLocked
	case ReasonInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// Store is the portal slice of the durable store.
type Store interface {
	GetPortalByURL(ctx context.Context, portalURL string) (domain.ClientPortalRecord, error)
	UpdatePortal(ctx context.Context, portalID string, u domain.PortalUpdate) error
	TouchPortal(ctx context.Context, portalID string) error
}

// Policy is the process-wide lockout rule.
type Policy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, LockDuration: 15 * time.Minute}
}

type Options struct {
	Policy        Policy
	CacheTTL      time.Duration
	LookupTimeout time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

const (
	defaultCacheTTL      = time.Minute
	defaultLookupTimeout = 3 * time.Second
	lockShards           = 16
)

// Result is the outcome of one validation.
type Result struct {
	Valid       bool
	PortalID    string
	ClientID    string
	WorkspaceID string
	Permissions []string
	Reason      Reason
	LockedUntil *time.Time
}

type Validator struct {
	store   Store
	policy  Policy
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	records *cache.Cache[domain.ClientPortalRecord]
	locks   [lockShards]sync.Mutex
}

func New(store Store, opts Options) *Validator {
	def := DefaultPolicy()
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = def.MaxAttempts
	}
	if opts.Policy.LockDuration <= 0 {
		opts.Policy.LockDuration = def.LockDuration
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultLookupTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Validator{
		store:   store,
		policy:  opts.Policy,
		ttl:     opts.CacheTTL,
		timeout: opts.LookupTimeout,
		now:     now,
		log:     logger,
		records: cache.New[domain.ClientPortalRecord](cache.Options{SweepInterval: opts.SweepInterval, Now: now}),
	}
}

// Close stops the record cache sweeper.
func (v *Validator) Close() {
	v.records.Close()
}

func (v *Validator) lockFor(portalURL string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(portalURL))
	return &v.locks[h.Sum32()%lockShards]
}

// Validate checks token against the portal at portalURL. The whole
// read-check-write sequence runs under the portal's shard lock so
// concurrent failures cannot lose an increment.
func (v *Validator) Validate(ctx context.Context, portalURL, token string) Result {
	portalURL = strings.TrimSpace(portalURL)
	if portalURL == "" {
		return Result{Reason: ReasonNotFound}
	}
	mu := v.lockFor(portalURL)
	mu.Lock()
	defer mu.Unlock()

	rec, err := v.load(ctx, portalURL)
	if errors.Is(err, domain.ErrPortalNotFound) {
		return Result{Reason: ReasonNotFound}
	}
	if err != nil {
		v.log.Warn("portal lookup failed", "portal_url", portalURL, "err", err)
		return Result{Reason: ReasonUnavailable}
	}

	denied := Result{PortalID: rec.ID, ClientID: rec.ClientID, WorkspaceID: rec.WorkspaceID}
	now := v.now()
	if !rec.IsActive {
		denied.Reason = ReasonInactive
		return denied
	}
	if rec.ExpiresAt.Before(now) {
		denied.Reason = ReasonExpired
		return denied
	}
	if rec.IsLocked && (rec.LockedUntil == nil || rec.LockedUntil.After(now)) {
		denied.Reason = ReasonLocked
		denied.LockedUntil = rec.LockedUntil
		return denied
	}
	lockElapsed := rec.IsLocked

	if !auth.TokenMatches(token, rec.AccessToken) {
		attempts := rec.LoginAttempts + 1
		if lockElapsed {
			attempts = 1
		}
		upd := domain.PortalUpdate{LoginAttempts: attempts}
		if attempts >= v.policy.MaxAttempts {
			until := now.Add(v.policy.LockDuration)
			upd.IsLocked = true
			upd.LockedUntil = &until
			v.log.Warn("portal locked after failed attempts", "portal_id", rec.ID, "attempts", attempts, "locked_until", until)
		}
		v.write(ctx, portalURL, rec, upd)
		denied.Reason = ReasonInvalidToken
		return denied
	}

	if rec.LoginAttempts > 0 || lockElapsed {
		v.write(ctx, portalURL, rec, domain.PortalUpdate{})
	}
	if err := v.touch(ctx, rec.ID); err != nil {
		v.log.Debug("portal touch failed", "portal_id", rec.ID, "err", err)
	}

	perms := make([]string, len(rec.Permissions))
	copy(perms, rec.Permissions)
	return Result{
		Valid:       true,
		PortalID:    rec.ID,
		ClientID:    rec.ClientID,
		WorkspaceID: rec.WorkspaceID,
		Permissions: perms,
	}
}

func (v *Validator) load(ctx context.Context, portalURL string) (domain.ClientPortalRecord, error) {
	if rec, ok := v.records.Get(portalURL); ok {
		return rec, nil
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	rec, err := v.store.GetPortalByURL(ctx, portalURL)
	if err != nil {
		return domain.ClientPortalRecord{}, err
	}
	v.records.Set(portalURL, rec, v.ttl)
	return rec, nil
}

// write persists the lockout counters and refreshes the cached record. A
// failed write drops the cached copy so the next request rereads the store.
func (v *Validator) write(ctx context.Context, portalURL string, rec domain.ClientPortalRecord, upd domain.PortalUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
	defer cancel()
	if err := v.store.UpdatePortal(ctx, rec.ID, upd); err != nil {
		v.log.Error("portal update failed", "portal_id", rec.ID, "err", err)
		v.records.Delete(portalURL)
		return
	}
	rec.LoginAttempts = upd.LoginAttempts
	rec.IsLocked = upd.IsLocked
	rec.LockedUntil = upd.LockedUntil
	v.records.Set(portalURL, rec, v.ttl)
}

func (v *Validator) touch(ctx context.Context, portalID string) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.store.TouchPortal(ctx, portalID)
}

// Invalidate drops the cached record after an admin write.
func (v *Validator) Invalidate(portalURL string) {
	v.records.Delete(strings.TrimSpace(portalURL))
}
