package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/valve-calibrator/internal/device"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeNotFound(w, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, r.Method+" not allowed on "+r.URL.Path)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Get("/state", s.handleGetState)
	r.Get("/state/{id}", s.handleGetDeviceState)

	r.Get("/ws", s.handleWebSocket)

	return r
}

// handleHealth returns the server health status. The endpoint always
// answers 200 while the process is up; a lost broker shows as "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	connected := s.mqtt != nil && s.mqtt.IsConnected()
	status := "ok"
	if !connected {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"mqtt_connected": connected,
	})
}

// handleGetState returns the coupled state of every configured device.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// handleGetDeviceState returns the coupled state of one device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("reading device state", "device", id, "error", err)
		writeInternalError(w, "failed to read device state")
		return
	}

	writeJSON(w, http.StatusOK, state)
}
