package server

import (
	"encoding/json"
	"net/http"

	"github.com/zsiec/slate/pkg/version"
)

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.GetInfo()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if err := json.NewEncoder(w).Encode(versionInfo); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
		s.errorHandler.HandleError(w, r, err)
	}
}

// handleDevicesPlaceholder answers the devices endpoint when no capture
// manager has been wired in
func (s *Server) handleDevicesPlaceholder(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Message string `json:"message"`
	}{
		Message: "Devices endpoint requires a capture manager to be registered",
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
		s.errorHandler.HandleError(w, r, err)
	}
}
