package resolver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/teralink/kit"
	"github.com/hazyhaar/teralink/shield"
)

// Router returns the HTTP API:
//
//	GET /            liveness banner
//	GET /health      pool status
//	GET /api?url=    resolve a share link
//	GET /metrics     Prometheus exposition (when m is non-nil)
//
// rl may be nil to disable rate limiting.
func (s *Service) Router(m *Metrics, rl *shield.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultAPIStack(rl) {
		r.Use(mw)
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "backend running"})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"sessions_in_use":   s.pool.InUse(),
			"sessions_capacity": s.pool.Capacity(),
		})
	})

	r.Get("/api", s.handleResolve)

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

func (s *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, failed("", KindInvalidLink, "missing url query parameter, use /api?url=<share link>", "", "", 0))
		return
	}

	ctx := kit.WithTransport(r.Context(), "http")
	res := s.Resolve(ctx, raw)
	shield.GetLogger(ctx).Info("resolver: request done",
		"success", res.Success, "error", res.Kind, "elapsed_ms", res.ElapsedMs)
	writeJSON(w, res.HTTPStatus(), res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
