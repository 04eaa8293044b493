// Package dnsverify proves custom domain ownership through a TXT record
// challenge published by the tenant.
package dnsverify

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

// TXTResolver is the subset of *net.Resolver the verifier needs.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

const defaultTimeout = 5 * time.Second

type Verifier struct {
	resolver TXTResolver
	timeout  time.Duration
}

// New returns a verifier backed by r, or the system resolver when r is nil.
func New(r TXTResolver) *Verifier {
	if r == nil {
		r = &net.Resolver{}
	}
	return &Verifier{resolver: r, timeout: defaultTimeout}
}

// VerifyOwnership reports whether every TXT challenge listed on the record
// is published. A missing name is a definitive false; resolver failures are
// returned as errors so callers keep the previous verdict. Platform
// subdomains have no challenge and always verify.
func (v *Verifier) VerifyOwnership(ctx context.Context, rec domain.DomainRecord) (bool, error) {
	if rec.Domain == "" {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	checked := 0
	for _, want := range rec.DNSRecords {
		if !strings.EqualFold(want.Type, "TXT") {
			continue
		}
		checked++
		values, err := v.resolver.LookupTXT(ctx, want.Name)
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				return false, nil
			}
			return false, err
		}
		if !containsValue(values, want.Value) {
			return false, nil
		}
	}
	return checked > 0, nil
}

func containsValue(values []string, want string) bool {
	want = strings.TrimSpace(want)
	for _, v := range values {
		if strings.TrimSpace(v) == want {
			return true
		}
	}
	return false
}
