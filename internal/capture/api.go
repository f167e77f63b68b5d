package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/slate/internal/capture/device"
	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/profile"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

// Handlers wraps the capture manager to provide HTTP handlers
type Handlers struct {
	manager *Manager
	logger  logger.Logger
}

// NewHandlers creates a new handlers wrapper
func NewHandlers(manager *Manager, logger logger.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		logger:  logger.WithField("component", "capture_handlers"),
	}
}

// RegisterRoutes registers all capture API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Device discovery and sessions
	api.HandleFunc("/devices", h.manager.HandleListDevices).Methods("GET")
	api.HandleFunc("/devices/{id}", h.manager.HandleGetDevice).Methods("GET")
	api.HandleFunc("/devices/{id}/open", h.manager.HandleOpenDevice).Methods("POST")
	api.HandleFunc("/devices/{id}", h.manager.HandleCloseDevice).Methods("DELETE")

	// Stream control
	api.HandleFunc("/devices/{id}/configure", h.manager.HandleConfigureDevice).Methods("POST")
	api.HandleFunc("/devices/{id}/start", h.manager.HandleStartDevice).Methods("POST")
	api.HandleFunc("/devices/{id}/stop", h.manager.HandleStopDevice).Methods("POST")
	api.HandleFunc("/devices/{id}/stats", h.manager.HandleDeviceStats).Methods("GET")
	api.HandleFunc("/devices/{id}/events", h.manager.HandleDeviceEvents).Methods("GET")

	// Deck control
	api.HandleFunc("/devices/{id}/deck/engage", h.manager.HandleDeckEngage).Methods("POST")
	api.HandleFunc("/devices/{id}/deck/disengage", h.manager.HandleDeckDisengage).Methods("POST")
	api.HandleFunc("/devices/{id}/deck/transport", h.manager.HandleDeckTransport).Methods("POST")
	api.HandleFunc("/devices/{id}/deck/timecode", h.manager.HandleDeckTimecode).Methods("GET")

	// Node stats endpoint
	api.HandleFunc("/stats", h.manager.HandleStats).Methods("GET")

	h.logger.Info("Capture routes registered")
}

// API Response DTOs
type DeviceListResponse struct {
	Devices []DeviceDTO `json:"devices"`
	Count   int         `json:"count"`
	Time    time.Time   `json:"time"`
}

type DeviceDTO struct {
	ID           string         `json:"id"`
	ModelName    string         `json:"model_name"`
	DisplayName  string         `json:"display_name"`
	Capabilities []string       `json:"capabilities"`
	VideoModes   []string       `json:"video_modes"`
	AudioModes   []string       `json:"audio_modes"`
	Open         bool           `json:"open"`
	Configured   bool           `json:"configured,omitempty"`
	Direction    string         `json:"direction,omitempty"`
	VideoMode    string         `json:"video_mode,omitempty"`
	Streaming    bool           `json:"streaming,omitempty"`
	Deck         *DeckStatusDTO `json:"deck,omitempty"`
	Stats        *device.Stats  `json:"stats,omitempty"`
}

type DeckStatusDTO struct {
	Mode     string    `json:"mode"`
	Timecode string    `json:"timecode"`
	Locked   bool      `json:"locked"`
	ReadAt   time.Time `json:"read_at"`
}

// ConfigureRequest selects a stream configuration for a device. VideoMode
// names one of the device's advertised modes. A zero audio block defaults
// to 48kHz stereo 16-bit.
type ConfigureRequest struct {
	Direction string `json:"direction"`
	VideoMode string `json:"video_mode"`
	Audio     struct {
		SampleRate int `json:"sample_rate"`
		Channels   int `json:"channels"`
		BitDepth   int `json:"bit_depth"`
	} `json:"audio"`
	Timecode struct {
		Standard string `json:"standard"`
		Start    string `json:"start"`
	} `json:"timecode"`
}

// TransportRequest carries one deck transport command.
type TransportRequest struct {
	Command string  `json:"command"`
	Speed   float64 `json:"speed,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// SuccessResponse for simple success messages
type SuccessResponse struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Helper functions
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to encode JSON response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Time:    time.Now(),
	}

	if errMsg != "" {
		response.Message = message + ": " + errMsg
	}

	writeJSON(ctx, w, status, response)
}

// writeAppError maps domain errors onto their HTTP status.
func writeAppError(ctx context.Context, w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	if appErr, ok := errors.GetAppError(err); ok && appErr.HTTPStatus != 0 {
		status = appErr.HTTPStatus
	}
	writeError(ctx, w, status, message, err)
}

func capabilityNames(c hal.Capability) []string {
	names := make([]string, 0, 4)
	if c&hal.CapCapture != 0 {
		names = append(names, "capture")
	}
	if c&hal.CapPlayback != 0 {
		names = append(names, "playback")
	}
	if c&hal.CapDeckControl != 0 {
		names = append(names, "deck_control")
	}
	if c&hal.CapInputFormatDetection != 0 {
		names = append(names, "input_format_detection")
	}
	return names
}

func (m *Manager) convertDeviceToDTO(attrs profile.Attributes) DeviceDTO {
	dto := DeviceDTO{
		ID:           attrs.ID(),
		ModelName:    attrs.ModelName(),
		DisplayName:  attrs.DisplayName(),
		Capabilities: capabilityNames(attrs.Capabilities()),
	}
	for _, v := range attrs.SupportedVideoModes() {
		dto.VideoModes = append(dto.VideoModes, v.Name)
	}
	for _, a := range attrs.SupportedAudioModes() {
		dto.AudioModes = append(dto.AudioModes, a.String())
	}

	dev, open := m.GetDevice(attrs.ID())
	if !open {
		return dto
	}
	dto.Open = true

	if video, dir, ok := dev.Configured(); ok {
		dto.Configured = true
		dto.Direction = dir.String()
		dto.VideoMode = video.Name
	}
	dto.Streaming = dev.Running()

	stats := dev.Stats()
	dto.Stats = &stats

	if ctrl := dev.Deck(); ctrl != nil {
		pos := ctrl.Position()
		dto.Deck = &DeckStatusDTO{
			Mode:     ctrl.Mode().String(),
			Timecode: pos.Timecode.String(),
			Locked:   pos.Locked,
			ReadAt:   pos.ReadAt,
		}
	}
	return dto
}

// HandleListDevices - GET /api/v1/devices
func (m *Manager) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	attached, err := m.Enumerate(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "Failed to enumerate devices", err)
		return
	}

	response := DeviceListResponse{
		Devices: make([]DeviceDTO, 0, len(attached)),
		Count:   len(attached),
		Time:    time.Now(),
	}
	for _, attrs := range attached {
		response.Devices = append(response.Devices, m.convertDeviceToDTO(attrs))
	}

	writeJSON(r.Context(), w, http.StatusOK, response)
}

// HandleGetDevice - GET /api/v1/devices/{id}
func (m *Manager) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	handle, ok := m.browser.Get(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not found", nil)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, m.convertDeviceToDTO(profile.FromInfo(handle.Info())))
}

// HandleOpenDevice - POST /api/v1/devices/{id}/open
func (m *Manager) HandleOpenDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, err := m.OpenDevice(deviceID)
	if err != nil {
		writeAppError(r.Context(), w, "Failed to open device", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message:   "Device opened",
		Data:      map[string]string{"device_id": dev.Attributes().ID()},
		Timestamp: time.Now(),
	})
}

// HandleCloseDevice - DELETE /api/v1/devices/{id}
func (m *Manager) HandleCloseDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	if err := m.CloseDevice(r.Context(), deviceID); err != nil {
		writeAppError(r.Context(), w, "Failed to close device", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message:   "Device closed",
		Data:      map[string]string{"device_id": deviceID},
		Timestamp: time.Now(),
	})
}

// resolveConfigure turns a ConfigureRequest into negotiable settings using
// the device's advertised modes.
func resolveConfigure(attrs profile.Attributes, req ConfigureRequest) (format.VideoSetting, format.AudioSetting, format.TimecodeSetting, error) {
	var video format.VideoSetting
	found := false
	for _, v := range attrs.SupportedVideoModes() {
		if v.Name == req.VideoMode {
			video = v
			found = true
			break
		}
	}
	if !found {
		return video, format.AudioSetting{}, format.TimecodeSetting{},
			errors.NewValidationError("unknown video mode " + req.VideoMode)
	}

	audio := format.AudioSetting{
		SampleRate:   req.Audio.SampleRate,
		ChannelCount: req.Audio.Channels,
	}
	if audio.SampleRate == 0 {
		audio.SampleRate = 48000
	}
	if audio.ChannelCount == 0 {
		audio.ChannelCount = 2
	}
	if req.Audio.BitDepth == 32 {
		audio.SampleType = format.SampleInt32
	}

	var tcset format.TimecodeSetting
	std, err := timecode.ParseStandard(req.Timecode.Standard)
	if err != nil {
		return video, audio, tcset, errors.NewValidationError(err.Error())
	}
	tcset.Standard = std
	if req.Timecode.Start != "" {
		start, err := timecode.Parse(req.Timecode.Start)
		if err != nil {
			return video, audio, tcset, errors.NewValidationError(err.Error())
		}
		if err := start.Validate(video.Rate.Base()); err != nil {
			return video, audio, tcset, errors.NewValidationError(err.Error())
		}
		tcset.Start = start
	}
	return video, audio, tcset, nil
}

// HandleConfigureDevice - POST /api/v1/devices/{id}/configure
func (m *Manager) HandleConfigureDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	var req ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	video, audio, tcset, err := resolveConfigure(dev.Attributes(), req)
	if err != nil {
		writeAppError(r.Context(), w, "Invalid configuration", err)
		return
	}

	switch req.Direction {
	case "capture":
		err = dev.ConfigureCapture(video, audio, tcset)
	case "playback":
		err = dev.ConfigurePlayback(video, audio, tcset)
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "Direction must be capture or playback", nil)
		return
	}
	if err != nil {
		writeAppError(r.Context(), w, "Failed to configure device", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message: "Device configured",
		Data: map[string]string{
			"device_id":  deviceID,
			"direction":  req.Direction,
			"video_mode": video.Name,
			"audio":      audio.String(),
		},
		Timestamp: time.Now(),
	})
}

// HandleStartDevice - POST /api/v1/devices/{id}/start
func (m *Manager) HandleStartDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	if err := dev.Start(); err != nil {
		writeAppError(r.Context(), w, "Failed to start stream", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message:   "Stream started",
		Data:      map[string]string{"device_id": deviceID},
		Timestamp: time.Now(),
	})
}

// HandleStopDevice - POST /api/v1/devices/{id}/stop
func (m *Manager) HandleStopDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	if err := dev.Stop(); err != nil {
		writeAppError(r.Context(), w, "Failed to stop stream", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message:   "Stream stopped",
		Data:      map[string]string{"device_id": deviceID},
		Timestamp: time.Now(),
	})
}

// HandleDeviceStats - GET /api/v1/devices/{id}/stats
func (m *Manager) HandleDeviceStats(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, dev.Stats())
}

// EventDTO is one engine status event.
type EventDTO struct {
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Timecode string    `json:"timecode,omitempty"`
	Message  string    `json:"message,omitempty"`
	Detected string    `json:"detected,omitempty"`
}

type EventListResponse struct {
	Events []EventDTO `json:"events"`
	Count  int        `json:"count"`
	Time   time.Time  `json:"time"`
}

// HandleDeviceEvents - GET /api/v1/devices/{id}/events
// Drains the events queued since the last poll; it does not wait for new
// ones.
func (m *Manager) HandleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	events := make([]EventDTO, 0)
	for {
		select {
		case ev := <-dev.Events():
			dto := EventDTO{
				Type:    ev.Type.String(),
				Time:    ev.Time,
				Message: ev.Message,
			}
			if ev.Timecode != (timecode.Timecode{}) {
				dto.Timecode = ev.Timecode.String()
			}
			if ev.Detected != nil {
				dto.Detected = ev.Detected.String()
			}
			events = append(events, dto)
		default:
			writeJSON(r.Context(), w, http.StatusOK, EventListResponse{
				Events: events,
				Count:  len(events),
				Time:   time.Now(),
			})
			return
		}
	}
}

// HandleDeckEngage - POST /api/v1/devices/{id}/deck/engage
func (m *Manager) HandleDeckEngage(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	ctrl, err := dev.EngageDeckControl(r.Context())
	if err != nil {
		writeAppError(r.Context(), w, "Failed to engage deck control", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message: "Deck control engaged",
		Data: map[string]string{
			"device_id": deviceID,
			"mode":      ctrl.Mode().String(),
		},
		Timestamp: time.Now(),
	})
}

// HandleDeckDisengage - POST /api/v1/devices/{id}/deck/disengage
func (m *Manager) HandleDeckDisengage(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}

	if err := dev.DisengageDeckControl(); err != nil {
		writeAppError(r.Context(), w, "Failed to disengage deck control", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message:   "Deck control disengaged",
		Data:      map[string]string{"device_id": deviceID},
		Timestamp: time.Now(),
	})
}

// HandleDeckTransport - POST /api/v1/devices/{id}/deck/transport
func (m *Manager) HandleDeckTransport(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}
	ctrl := dev.Deck()
	if ctrl == nil {
		writeError(r.Context(), w, http.StatusConflict, "Deck control not engaged", nil)
		return
	}

	var req TransportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var err error
	switch req.Command {
	case "play":
		err = ctrl.Play(r.Context())
	case "stop":
		err = ctrl.Stop(r.Context())
	case "record":
		err = ctrl.Record(r.Context())
	case "fast_forward":
		err = ctrl.FastForward(r.Context())
	case "rewind":
		err = ctrl.Rewind(r.Context())
	case "eject":
		err = ctrl.Eject(r.Context())
	case "shuttle":
		err = ctrl.Shuttle(r.Context(), req.Speed)
	case "jog":
		err = ctrl.Jog(r.Context(), req.Offset)
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "Unknown transport command "+req.Command, nil)
		return
	}
	if err != nil {
		writeAppError(r.Context(), w, "Transport command failed", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, SuccessResponse{
		Message: "Transport command accepted",
		Data: map[string]string{
			"device_id": deviceID,
			"command":   req.Command,
			"mode":      ctrl.Mode().String(),
		},
		Timestamp: time.Now(),
	})
}

// HandleDeckTimecode - GET /api/v1/devices/{id}/deck/timecode
func (m *Manager) HandleDeckTimecode(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	dev, ok := m.GetDevice(deviceID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "Device not open", nil)
		return
	}
	ctrl := dev.Deck()
	if ctrl == nil {
		writeError(r.Context(), w, http.StatusConflict, "Deck control not engaged", nil)
		return
	}

	pos, err := ctrl.Timecode(r.Context())
	if err != nil {
		writeAppError(r.Context(), w, "Failed to read deck timecode", err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, DeckStatusDTO{
		Mode:     ctrl.Mode().String(),
		Timecode: pos.Timecode.String(),
		Locked:   pos.Locked,
		ReadAt:   pos.ReadAt,
	})
}

// HandleStats - GET /api/v1/stats
func (m *Manager) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, m.GetStats(r.Context()))
}
