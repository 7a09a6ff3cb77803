package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleRegisterDevice)

			r.Route("/{uid}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Get("/history", s.handleDeviceHistory)
				r.Get("/credentials", s.handleListDeviceCredentials)
				r.Post("/credentials", s.handleCreateDeviceCredentials)
				r.Post("/apply-template", s.handleApplyTemplate)
			})
		})

		// Template endpoints
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{id}", s.handleGetTemplate)
		})

		// Registration code endpoints
		r.Route("/registration-codes", func(r chi.Router) {
			r.Get("/", s.handleListCodes)
			r.Post("/", s.handleGenerateCode)
			r.Get("/{code}/qr", s.handleCodeQR)
			r.Get("/{code}/validate", s.handleValidateCode)
			r.Post("/{code}/register", s.handleRegisterWithCode)
		})
	})

	// WebSocket endpoint for real-time updates
	if s.hub != nil {
		s.hub.AttachTransport(r, s.wsCfg.Path)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
