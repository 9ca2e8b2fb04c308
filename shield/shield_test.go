package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/teralink/kit"
)

func TestDefaultAPIStack_Headers(t *testing.T) {
	r := chi.NewRouter()
	for _, mw := range DefaultAPIStack(nil) {
		r.Use(mw)
	}
	var traceInCtx string
	r.Get("/api", func(w http.ResponseWriter, r *http.Request) {
		traceInCtx = kit.GetTraceID(r.Context())
		w.WriteHeader(200)
	})

	req := httptest.NewRequest("HEAD", "/api", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("HEAD: got %d, want 200", w.Code)
	}
	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
	traceID := w.Header().Get("X-Trace-ID")
	if len(traceID) != 8 {
		t.Fatalf("X-Trace-ID: got %q, want 8 chars", traceID)
	}
	if traceInCtx != traceID {
		t.Fatalf("trace id in context %q != header %q", traceInCtx, traceID)
	}
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2, "/health")
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	do := func(path, ip string) int {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("/api", "10.0.0.1"); got != 200 {
		t.Fatalf("first: got %d", got)
	}
	if got := do("/api", "10.0.0.1"); got != 200 {
		t.Fatalf("second (burst): got %d", got)
	}
	if got := do("/api", "10.0.0.1"); got != http.StatusTooManyRequests {
		t.Fatalf("third: got %d, want 429", got)
	}
	if got := do("/api", "10.0.0.2"); got != 200 {
		t.Fatalf("other ip: got %d", got)
	}
	if got := do("/health", "10.0.0.1"); got != 200 {
		t.Fatalf("excluded path: got %d", got)
	}

	now = now.Add(time.Second)
	if got := do("/api", "10.0.0.1"); got != 200 {
		t.Fatalf("after refill: got %d", got)
	}
}

func TestRateLimiter_GC(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.allow("10.0.0.1")

	now = now.Add(11 * time.Minute)
	rl.gc(10 * time.Minute)
	if len(rl.clients) != 0 {
		t.Fatalf("clients after gc: %d", len(rl.clients))
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.7" {
		t.Fatalf("xff: got %q", got)
	}
}
