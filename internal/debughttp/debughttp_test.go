package debughttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/gatekeep/gatekeeper/internal/log"
)

func TestHandlerServesProfilerAndMountedRoutes(t *testing.T) {
	t.Parallel()

	h := Handler(func(r chi.Router) {
		r.Get("/ops/ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "pong") })
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "goroutine") {
		t.Fatalf("expected pprof index, got %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/ping", nil))
	if rr.Body.String() != "pong" {
		t.Fatalf("expected mounted route, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestStartWithEmptyAddrIsNoop(t *testing.T) {
	t.Parallel()

	if err := Start(context.Background(), "  ", nil, log.Discard()); err != nil {
		t.Fatal(err)
	}
}

func TestStartServesUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Start(ctx, "127.0.0.1:0", Handler(nil), log.Discard()); err != nil {
		t.Fatal(err)
	}
}
