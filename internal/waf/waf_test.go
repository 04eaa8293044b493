package waf

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gatekeep/gatekeeper/internal/domain"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestInspect(t *testing.T) {
	t.Parallel()

	f := New(Options{Mode: ModeBlock})
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{name: "clean", target: "/reports?page=2&sort=name"},
		{name: "union select", target: "/search?q=1+UNION+SELECT+password", want: "sql-injection"},
		{name: "double encoded quote", target: "/search?q=%2527%2520or%25201%253D1", want: "sql-injection"},
		{name: "script tag", target: "/search?q=%3Cscript%3Ealert(1)%3C/script%3E", want: "xss"},
		{name: "traversal", target: "/files/..%2f..%2fetc", want: "path-traversal"},
		{name: "jndi header", target: "/", header: map[string]string{"X-Api-Version": "${jndi:ldap://x/a}"}, want: "jndi-lookup"},
		{name: "shell in query", target: "/run?cmd=$(id)", want: "shell-injection"},
		{name: "scanner ua", target: "/", header: map[string]string{"User-Agent": "sqlmap/1.7"}, want: "scanner"},
		{name: "dotenv probe", target: "/.env", want: "sensitive-file"},
		{name: "git probe", target: "/.git/config", want: "sensitive-file"},
		{name: "acme challenge", target: "/.well-known/acme-challenge/abc"},
		{name: "ignored cookie", target: "/", header: map[string]string{"Cookie": "q=' or 1=1"}},
		{name: "long uri", target: "/?" + strings.Repeat("a", maxRequestURI), want: "uri-too-long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			got, hit := f.Inspect(r)
			if hit != (tt.want != "") || got != tt.want {
				t.Fatalf("Inspect(%s) = %q, %v; want %q", tt.target, got, hit, tt.want)
			}
		})
	}
}

func TestMiddlewareBlocks(t *testing.T) {
	t.Parallel()

	var matches []Match
	f := New(Options{
		Mode:    ModeBlock,
		Exempt:  []string{"/healthz"},
		OnMatch: func(_ *http.Request, m Match) { matches = append(matches, m) },
	})
	h := f.Middleware(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://acme.test/.env", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	var body domain.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ErrorCode != "waf:sensitive-file" {
		t.Fatalf("unexpected error code %q", body.ErrorCode)
	}
	if len(matches) != 1 || !matches[0].Blocked || matches[0].Host != "acme.test" {
		t.Fatalf("unexpected matches %+v", matches)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz?x=$(id)", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected exempt path to pass, got %d", rr.Code)
	}
}

func TestMiddlewareAuditOnlyPasses(t *testing.T) {
	t.Parallel()

	var matched bool
	f := New(Options{Mode: ModeAudit, OnMatch: func(_ *http.Request, m Match) { matched = !m.Blocked }})
	rr := httptest.NewRecorder()
	f.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.env", nil))
	if rr.Code != http.StatusOK || !matched {
		t.Fatalf("expected audit match to pass through, code=%d matched=%v", rr.Code, matched)
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": ModeOff, "OFF": ModeOff, " audit ": ModeAudit, "block": ModeBlock} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("strict"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
