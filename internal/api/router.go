package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshcore-bridge/internal/health"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.readOnlyMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, CodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		fail(w, r, CodeReadOnly, "the monitor API is read-only")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/session", s.handleSession)
		r.Get("/session/nodes/{key}", s.handleNodeStatus)
		r.Get("/audit", s.handleListAudit)
		r.Get("/ws", s.handleStream)
	})

	return r
}

// handleHealth returns the current health message. A stopping bridge
// answers 503 so load balancers and supervisors see it going away.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	msg := s.health.Current()
	status := http.StatusOK
	if msg.Status == health.StatusStopping {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, msg)
}
