// Package waf screens requests for common attack payloads before the
// gatekeeper spends a store lookup on them.
package waf

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gatekeep/gatekeeper/internal/domain"
	"github.com/gatekeep/gatekeeper/internal/log"
	"github.com/gatekeep/gatekeeper/internal/netutil"
)

// Mode selects what happens on a match.
type Mode string

const (
	ModeOff   Mode = "off"
	ModeAudit Mode = "audit"
	ModeBlock Mode = "block"
)

// ParseMode accepts off, audit or block. Empty means off.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "", ModeOff:
		return ModeOff, nil
	case ModeAudit, ModeBlock:
		return m, nil
	default:
		return "", errors.New("waf mode must be one of: off, audit, block")
	}
}

// Match describes one screened request that hit a rule.
type Match struct {
	Rule      string
	Host      string
	Method    string
	Path      string
	ClientIP  string
	UserAgent string
	Blocked   bool
}

// Options configures a Filter.
type Options struct {
	Mode Mode
	// Exempt paths are never screened.
	Exempt  []string
	OnMatch func(*http.Request, Match)
	Logger  *slog.Logger
}

// Filter holds the compiled ruleset.
type Filter struct {
	mode    Mode
	rules   []rule
	exempt  []string
	onMatch func(*http.Request, Match)
	log     *slog.Logger
}

func New(opts Options) *Filter {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeOff
	}
	return &Filter{
		mode:    mode,
		rules:   builtinRules,
		exempt:  opts.Exempt,
		onMatch: opts.OnMatch,
		log:     logger,
	}
}

// Inspect returns the name of the first rule r trips.
func (f *Filter) Inspect(r *http.Request) (string, bool) {
	return inspect(f.rules, newView(r))
}

// Middleware screens every non-exempt request. In audit mode matches are
// logged and reported but the request proceeds.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	if f.mode == ModeOff {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		name, hit := f.Inspect(r)
		if !hit {
			next.ServeHTTP(w, r)
			return
		}

		m := Match{
			Rule:      name,
			Host:      netutil.NormalizeHost(r.Host),
			Method:    r.Method,
			Path:      r.URL.Path,
			ClientIP:  netutil.ClientIP(r),
			UserAgent: r.UserAgent(),
			Blocked:   f.mode == ModeBlock,
		}
		msg := "waf blocked request"
		if !m.Blocked {
			msg = "waf matched request"
		}
		f.log.Warn(msg, "rule", m.Rule, "host", m.Host, "method", m.Method, "path", m.Path, "client_ip", m.ClientIP, "ua", m.UserAgent)
		if f.onMatch != nil {
			f.onMatch(r, m)
		}
		if !m.Blocked {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		netutil.WriteJSON(w, http.StatusForbidden, domain.ErrorResponse{Error: "forbidden", ErrorCode: "waf:" + name})
	})
}

func (f *Filter) isExempt(path string) bool {
	for _, p := range f.exempt {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
