package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-nuki/internal/auth"
)

// readyCheckTimeout bounds each component check in /ready.
const readyCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint.
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		// The WebSocket authenticates with a single-use ticket.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.require(auth.PermLockRead)).Get("/system/metrics", s.handleSystemMetrics)

			r.Route("/locks", func(r chi.Router) {
				r.With(s.require(auth.PermLockRead)).Get("/", s.handleListLocks)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.require(auth.PermLockRead)).Get("/", s.handleGetLock)
					r.With(s.require(auth.PermLockOperate)).Post("/lock", s.handleLockCommand)
					r.With(s.require(auth.PermLockOperate)).Post("/unlock", s.handleLockCommand)
					r.With(s.require(auth.PermLockOperate)).Post("/lock_n_go", s.handleLockNGo)
					r.With(s.require(auth.PermLockOpen)).Post("/open", s.handleLockCommand)
				})
			})

			r.With(s.require(auth.PermLockRead)).Get("/services", s.handleListServices)
			// Service calls may unlatch doors.
			r.With(s.require(auth.PermLockOpen)).Post("/services/{domain}/{service}", s.handleCallService)

			r.With(s.require(auth.PermEventsRead)).Get("/events", s.handleListEvents)
		})
	})

	return r
}

// handleHealth is an unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.locks.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"bridge":  m.Status,
	})
}

// handleReady runs every component check and answers 503 when any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()

		if err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status":     ready,
		"components": components,
	})
}
