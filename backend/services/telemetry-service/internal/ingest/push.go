package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aquaflow/backend/services/telemetry-service/internal/codec"
	"aquaflow/backend/services/telemetry-service/internal/metrics"
)

const defaultPushTimeout = 5 * time.Second

// Client errors for push ingestion.
var (
	ErrInvalidRequest = errors.New("invalid telemetry request")
	ErrMissingDevice  = fmt.Errorf("%w: device is required", ErrInvalidRequest)
	ErrMissingPayload = fmt.Errorf("%w: data is required", ErrInvalidRequest)
	ErrInvalidTime    = fmt.Errorf("%w: time must be non-negative epoch seconds", ErrInvalidRequest)
)

// PushRequest is one callback delivered by the transport.
type PushRequest struct {
	Device string `json:"device"`
	Data   string `json:"data"`
	Time   *int64 `json:"time,omitempty"`
	Layout string `json:"layout,omitempty"`
}

// PushService handles single-message callbacks.
type PushService struct {
	pipeline *Pipeline
	timeout  time.Duration
}

// NewPushService returns service. A non-positive timeout uses the default.
func NewPushService(pipeline *Pipeline, timeout time.Duration) *PushService {
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &PushService{pipeline: pipeline, timeout: timeout}
}

// Ingest validates, decodes and stores one message. Missing time defaults to
// the time of receipt. Validation failures never reach the store.
func (s *PushService) Ingest(ctx context.Context, req PushRequest) (Result, error) {
	device := strings.TrimSpace(req.Device)
	data := strings.TrimSpace(req.Data)
	switch {
	case device == "":
		s.pipeline.metrics.Message(ModePush, metrics.OutcomeRejected)
		return Result{}, ErrMissingDevice
	case data == "":
		s.pipeline.metrics.Message(ModePush, metrics.OutcomeRejected)
		return Result{}, ErrMissingPayload
	}

	ts := s.pipeline.now()
	if req.Time != nil {
		if *req.Time < 0 {
			s.pipeline.metrics.Message(ModePush, metrics.OutcomeRejected)
			return Result{}, ErrInvalidTime
		}
		ts = time.Unix(*req.Time, 0).UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.pipeline.Process(ctx, ModePush, Message{
		DeviceID: device,
		Payload:  data,
		Layout:   req.Layout,
		Time:     ts,
	})
}

// IsClientError reports whether err stems from bad input rather than a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, codec.ErrTruncated) ||
		errors.Is(err, codec.ErrMalformed) ||
		errors.Is(err, codec.ErrUnknownLayout)
}

// ParseEnvelope reads the JSON envelope {device, data, time, layout} used by
// streaming transports.
func ParseEnvelope(payload []byte) (PushRequest, error) {
	var req PushRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return PushRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}
