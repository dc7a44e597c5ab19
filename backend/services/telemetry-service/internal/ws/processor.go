package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/ingest"
)

// Ack statuses.
const (
	AckOK       = "ok"
	AckRejected = "rejected"
	AckFailed   = "failed"
)

// Ack answers one streamed envelope.
type Ack struct {
	Device    string `json:"device,omitempty"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Ingester accepts one push message.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.PushRequest) (ingest.Result, error)
}

// IngestProcessor feeds streamed envelopes into push ingestion.
type IngestProcessor struct {
	ingester Ingester
	logger   *zap.Logger
}

// NewIngestProcessor returns processor.
func NewIngestProcessor(ingester Ingester, logger *zap.Logger) *IngestProcessor {
	return &IngestProcessor{ingester: ingester, logger: logger}
}

// Process ingests raw and returns the encoded ack.
func (p *IngestProcessor) Process(ctx context.Context, gatewayID string, raw []byte) ([]byte, error) {
	ack := p.ack(ctx, gatewayID, raw)
	return json.Marshal(ack)
}

func (p *IngestProcessor) ack(ctx context.Context, gatewayID string, raw []byte) Ack {
	req, err := ingest.ParseEnvelope(raw)
	if err != nil {
		return Ack{Status: AckRejected, Error: err.Error()}
	}
	result, err := p.ingester.Ingest(ctx, req)
	switch {
	case err == nil:
		return Ack{Device: req.Device, Status: AckOK, Duplicate: result.Duplicate}
	case ingest.IsClientError(err):
		return Ack{Device: req.Device, Status: AckRejected, Error: err.Error()}
	default:
		p.logger.Error("stream ingest failed",
			zap.String("gateway_id", gatewayID),
			zap.String("device_id", req.Device),
			zap.Error(err),
		)
		return Ack{Device: req.Device, Status: AckFailed, Error: "failed to store telemetry"}
	}
}
