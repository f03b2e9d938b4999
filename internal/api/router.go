package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{address}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
				r.Post("/mute", s.handleMuteDevice)
				r.Post("/unmute", s.handleUnmuteDevice)
				r.Put("/volume", s.handleSetDeviceVolume)
				r.Put("/offsets/{id}", s.handleSetOffset)
				r.Put("/policy", s.handleSetPolicy)
			})
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Delete("/", s.handleDeleteGroup)
				r.Get("/volume", s.handleGetGroupVolume)
				r.Put("/volume", s.handleSetGroupVolume)
				r.Post("/mute", s.handleMuteGroup)
				r.Post("/unmute", s.handleUnmuteGroup)
				r.Put("/members/{address}", s.handleAddMember)
				r.Delete("/members/{address}", s.handleRemoveMember)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the service loop and every dependency check.
// Any failing check turns the response into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	running := s.svc.Running()
	if !running {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	components := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			components[c.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[c.Name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"service":    running,
		"components": components,
		"clients":    s.hub.ClientCount(),
	})
}
