package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsiec/slate/pkg/version"
)

// Response is the /health endpoint payload.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

// Handler serves the health probe endpoints.
type Handler struct {
	manager   *Manager
	startTime time.Time
}

// NewHandler creates a health handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager:   manager,
		startTime: time.Now(),
	}
}

// HandleHealth runs all checks and reports the full picture.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	overall := h.manager.GetOverallStatus()

	response := Response{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   version.Version,
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if overall == StatusDown {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, statusCode, response)
}

// HandleReady reports readiness from cached results without re-probing.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallStatus()

	response := struct {
		Status    Status    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    overall,
		Timestamp: time.Now(),
	}

	statusCode := http.StatusOK
	if overall == StatusDown {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSON(w, statusCode, response)
}

// HandleLive is the bare liveness probe.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "alive",
		Timestamp: time.Now(),
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
