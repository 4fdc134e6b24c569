package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Get("/stores", h.ListStores)
			r.Post("/stores", h.CreateStore)

			r.Route("/stores/{store_id}", func(r chi.Router) {
				r.Use(StoreMiddleware(h.manager))
				r.Get("/", h.GetStore)
				r.Delete("/", h.DeleteStore)
				r.Put("/schema", h.PutSchema)
				r.Get("/snapshot", h.Snapshot)
				r.With(SnappyDecode).Post("/sync", h.Sync)
			})
		})
	})

	return r
}
