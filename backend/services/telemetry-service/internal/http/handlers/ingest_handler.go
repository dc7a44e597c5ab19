package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/ingest"
	"aquaflow/backend/services/telemetry-service/internal/repository"
)

const maxIngestBody = 64 << 10

// Ingester accepts one push message.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.PushRequest) (ingest.Result, error)
}

// IngestHandler handles provider callbacks.
type IngestHandler struct {
	ingester Ingester
	logger   *zap.Logger
}

// NewIngestHandler returns handler.
func NewIngestHandler(ingester Ingester, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{ingester: ingester, logger: logger}
}

type ingestResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ServeHTTP handles GET|POST /ingest.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := parsePushRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		status := ingestErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to ingest telemetry", zap.String("device_id", req.Device), zap.Error(err))
			writeError(w, status, "failed to store telemetry")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{Status: "ok", Duplicate: result.Duplicate})
}

func ingestErrorStatus(err error) int {
	switch {
	case ingest.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parsePushRequest(w http.ResponseWriter, r *http.Request) (ingest.PushRequest, error) {
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			var req ingest.PushRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return ingest.PushRequest{}, errors.New("invalid json")
			}
			return req, nil
		}
		if err := r.ParseForm(); err != nil {
			return ingest.PushRequest{}, errors.New("invalid form")
		}
		return pushRequestFromValues(r.Form.Get)
	}
	return pushRequestFromValues(r.URL.Query().Get)
}

func pushRequestFromValues(get func(string) string) (ingest.PushRequest, error) {
	req := ingest.PushRequest{
		Device: get("device"),
		Data:   get("data"),
		Layout: get("layout"),
	}
	if raw := strings.TrimSpace(get("time")); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ingest.PushRequest{}, ingest.ErrInvalidTime
		}
		req.Time = &ts
	}
	return req, nil
}
