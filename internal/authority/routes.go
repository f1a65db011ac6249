package authority

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Init() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.withRequestLogger)
	router.Use(h.withLogging)

	router.Route("/api/protocards", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Put("/{entityID}", h.update)
		r.Delete("/{entityID}", h.delete)
		r.Get("/{entityID}", h.get)
		r.Get("/{entityID}/history", h.history)
	})

	if h.hub != nil {
		router.Get("/api/events", h.events)
	}

	return router
}
