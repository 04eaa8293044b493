package domainstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	locked := errors.New("database is locked")
	tests := []struct {
		name      string
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{name: "first call succeeds", errs: nil, wantCalls: 1},
		{name: "transient then success", errs: []error{locked}, wantCalls: 2},
		{name: "attempts exhausted", errs: []error{locked, locked, locked}, wantErr: locked, wantCalls: 3},
		{name: "not found is final", errs: []error{domain.ErrDomainNotFound, locked}, wantErr: domain.ErrDomainNotFound, wantCalls: 1},
	}
	for _, tt := range tests {
		calls := 0
		got, err := Retry(context.Background(), RetryPolicy{Attempts: 3, Backoff: time.Millisecond}, func(context.Context) (int, error) {
			calls++
			if calls <= len(tt.errs) {
				return 0, tt.errs[calls-1]
			}
			return 42, nil
		})
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
		if err == nil && got != 42 {
			t.Fatalf("%s: got %d", tt.name, got)
		}
		if calls != tt.wantCalls {
			t.Fatalf("%s: expected %d calls, got %d", tt.name, tt.wantCalls, calls)
		}
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryPolicy{Attempts: 5, Backoff: time.Hour}, func(context.Context) (string, error) {
		calls++
		cancel()
		return "", errors.New("connection reset")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}
