package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.HandleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/queries", h.HandleQuery)
		if h.Stream != nil {
			r.Get("/queries/stream", h.Stream)
		}

		r.Get("/routing/explanation", h.HandleRoutingExplanation)
		r.Get("/cache/stats", h.HandleCacheStats)
		r.Get("/limits", h.HandleLimits)
		r.Get("/traces/{requestID}", h.HandleGetTrace)
	})
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
