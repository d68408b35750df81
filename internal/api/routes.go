package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// The stream is long-lived and stays outside the request timeout
	r.With(s.streamAuthMiddleware, s.viewMiddleware).Get("/console/stream", s.HandleConsoleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", s.HandleHealth)
		r.Get("/", s.HandleRoot)

		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/unlock", s.HandleUnlock)
			r.With(s.authMiddleware).Post("/lock", s.HandleLock)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Any method reaches the dispatcher, which answers 405 itself
			r.Handle("/deploy", s.dispatcher)

			// Tenants, read directly from the store
			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", s.HandleListTenants)
				r.Get("/{id}", s.HandleGetTenant)
			})

			// Operator view
			r.Route("/console", func(r chi.Router) {
				r.Use(s.viewMiddleware)
				r.Get("/", s.HandleGetConsole)

				r.Route("/tenants", func(r chi.Router) {
					r.Post("/", s.HandleCreateConsoleTenant)
					r.Route("/{id}", func(r chi.Router) {
						r.Put("/", s.HandleUpdateConsoleTenant)
						r.Delete("/", s.HandleDeleteConsoleTenant)
						r.Get("/delete-prompt", s.HandleDeletePrompt)
					})
				})

				r.Route("/form", func(r chi.Router) {
					r.Post("/", s.HandleOpenForm)
					r.Put("/", s.HandleSetForm)
					r.Delete("/", s.HandleCancelForm)
					r.Post("/submit", s.HandleSubmitForm)
				})

				r.Route("/selection", func(r chi.Router) {
					r.Put("/", s.HandleSelectAll)
					r.Post("/{id}/toggle", s.HandleToggleSelection)
				})

				r.Get("/deploy-prompt", s.HandleDeployPrompt)
				r.Post("/deploy", s.HandleConsoleDeploy)
			})
		})
	})
}
