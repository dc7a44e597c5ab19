package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/models"
	"aquaflow/backend/services/telemetry-service/internal/query"
	"aquaflow/backend/services/telemetry-service/internal/repository"
)

const devicesPrefix = "/api/devices/"

// Reader serves cached read-side queries.
type Reader interface {
	Devices(ctx context.Context) ([]models.Device, error)
	Readings(ctx context.Context, deviceID string) (models.ReadingSeries, error)
	Dashboard(ctx context.Context, deviceID string) (query.Dashboard, error)
}

// QueryHandlers expose devices and readings to the dashboard.
type QueryHandlers struct {
	reader Reader
	logger *zap.Logger
}

// NewQueryHandlers returns handlers.
func NewQueryHandlers(reader Reader, logger *zap.Logger) *QueryHandlers {
	return &QueryHandlers{reader: reader, logger: logger}
}

type devicesResponse struct {
	Devices []models.Device `json:"devices"`
	NoData  bool            `json:"no_data"`
}

type readingsResponse struct {
	DeviceID string               `json:"device_id"`
	Readings models.ReadingSeries `json:"readings"`
	NoData   bool                 `json:"no_data"`
}

// Devices handles GET /api/devices.
func (h *QueryHandlers) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.reader.Devices(r.Context())
	if err != nil {
		h.fail(w, "list devices", err)
		return
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devices, NoData: len(devices) == 0})
}

// Device handles GET /api/devices/{id}/readings and /api/devices/{id}/dashboard.
func (h *QueryHandlers) Device(w http.ResponseWriter, r *http.Request) {
	deviceID, view, ok := splitDevicePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch view {
	case "readings":
		series, err := h.reader.Readings(r.Context(), deviceID)
		if err != nil {
			h.fail(w, "list readings", err)
			return
		}
		writeJSON(w, http.StatusOK, readingsResponse{DeviceID: deviceID, Readings: series, NoData: len(series) == 0})
	case "dashboard":
		dashboard, err := h.reader.Dashboard(r.Context(), deviceID)
		if err != nil {
			h.fail(w, "dashboard", err)
			return
		}
		writeJSON(w, http.StatusOK, dashboard)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *QueryHandlers) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("query failed", zap.String("op", op), zap.Error(err))
	if errors.Is(err, repository.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "telemetry store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "query failed")
}

// splitDevicePath parses /api/devices/{id}/{view}.
func splitDevicePath(path string) (string, string, bool) {
	rest, found := strings.CutPrefix(path, devicesPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
