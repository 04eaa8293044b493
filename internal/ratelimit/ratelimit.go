// Package ratelimit implements a sharded, keyed window counter with a
// separate limit per request category.
package ratelimit

import (
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Category names an independently limited class of requests.
type Category string

const (
	CategorySignin        Category = "signin"
	CategorySignup        Category = "signup"
	CategoryPasswordReset Category = "password_reset"
	CategoryAPI           Category = "api"
	CategoryWebhook       Category = "webhook"
	CategoryTracking      Category = "tracking"
)

// Limit is the number of requests allowed per window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultLimits returns the built-in per-category limits.
func DefaultLimits() map[Category]Limit {
	return map[Category]Limit{
		CategorySignin:        {MaxRequests: 5, Window: 15 * time.Minute},
		CategorySignup:        {MaxRequests: 3, Window: time.Hour},
		CategoryPasswordReset: {MaxRequests: 3, Window: time.Hour},
		CategoryAPI:           {MaxRequests: 100, Window: time.Minute},
		CategoryWebhook:       {MaxRequests: 1000, Window: time.Minute},
		CategoryTracking:      {MaxRequests: 300, Window: time.Minute},
	}
}

// shardCount controls how many independent shards the limiter uses. Each
// shard has its own mutex so checks on distinct keys rarely contend.
const shardCount = 16

// Result is the outcome of a single check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
	size  time.Duration
}

// Limiter counts requests per (identity, category) in fixed windows that
// start on the first request and reset lazily once elapsed.
type Limiter struct {
	limits map[Category]Limit
	now    func() time.Time
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. Categories missing from limits are unlimited.
func New(limits map[Category]Limit, opts ...Option) *Limiter {
	l := &Limiter{limits: make(map[Category]Limit, len(limits)), now: time.Now}
	for c, lim := range limits {
		if lim.MaxRequests > 0 && lim.Window > 0 {
			l.limits[c] = lim
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*window)
	}
	return l
}

// Limit returns the configured limit for a category.
func (l *Limiter) Limit(c Category) (Limit, bool) {
	lim, ok := l.limits[c]
	return lim, ok
}

// Check records one request for identity in category and reports whether
// it is within the limit.
func (l *Limiter) Check(identity string, c Category) Result {
	lim, ok := l.limits[c]
	if !ok {
		return Result{Allowed: true, Remaining: -1}
	}
	key := string(c) + "|" + identity
	s := l.shard(key)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= w.size {
		w = &window{start: now, size: lim.Window}
		s.windows[key] = w
	}
	w.count++
	if w.count > lim.MaxRequests {
		return Result{Allowed: false, RetryAfter: w.start.Add(w.size).Sub(now)}
	}
	return Result{Allowed: true, Remaining: lim.MaxRequests - w.count}
}

func (l *Limiter) shard(key string) *shard {
	return &l.shards[shardIndex(key)]
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(shardCount))
}

// Cleanup evicts windows that have fully elapsed. Expired windows are also
// reset on access, so calling this only bounds memory.
func (l *Limiter) Cleanup() int {
	now := l.now()
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, w := range s.windows {
			if now.Sub(w.start) >= w.size {
				delete(s.windows, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// CategoryFor classifies a request. The boolean is false for requests that
// are not rate limited.
func CategoryFor(method, path string) (Category, bool) {
	path = strings.ToLower(path)
	switch {
	case strings.HasPrefix(path, "/api/webhooks/"):
		return CategoryWebhook, true
	case strings.HasPrefix(path, "/api/track/"):
		return CategoryTracking, true
	}
	if method == http.MethodPost {
		switch path {
		case "/login", "/api/auth/signin", "/api/auth/login":
			return CategorySignin, true
		case "/signup", "/api/auth/signup", "/api/auth/register":
			return CategorySignup, true
		case "/forgot-password", "/reset-password", "/api/auth/reset-password", "/api/auth/forgot-password":
			return CategoryPasswordReset, true
		}
	}
	if strings.HasPrefix(path, "/api/") {
		return CategoryAPI, true
	}
	return "", false
}
