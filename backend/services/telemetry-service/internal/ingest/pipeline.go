package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/codec"
	"aquaflow/backend/services/telemetry-service/internal/metrics"
	"aquaflow/backend/services/telemetry-service/internal/models"
	"aquaflow/backend/services/telemetry-service/internal/repository"
)

// Ingestion modes, used as log and metric labels.
const (
	ModePush = "push"
	ModePull = "pull"
)

// State is the terminal state of one message.
type State string

const (
	StateReceived     State = "received"
	StateDecoded      State = "decoded"
	StateStored       State = "stored"
	StateDecodeFailed State = "decode-failed"
	StateStoreFailed  State = "store-failed"
)

// Store is the subset of the reading store the pipeline writes to.
type Store interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	StoreReading(ctx context.Context, reading models.Reading) (bool, error)
	SyncCursor(ctx context.Context, deviceID string) (time.Time, error)
	AdvanceSyncCursor(ctx context.Context, deviceID string, through time.Time) error
}

// Decoder turns an encoded payload into frame fields.
type Decoder interface {
	DecodeString(payload, layout string) (codec.Fields, error)
}

// Message is one inbound telemetry message.
type Message struct {
	DeviceID string
	Payload  string
	Layout   string
	Time     time.Time
}

// Result reports what happened to a message.
type Result struct {
	State     State
	Duplicate bool
	Reading   models.Reading
}

// Pipeline decodes messages and stores them, one message per unit of work.
type Pipeline struct {
	decoder Decoder
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewPipeline builds pipeline.
func NewPipeline(decoder Decoder, store Store, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		decoder: decoder,
		store:   store,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process moves a message through received -> decoded -> stored. Failures are
// terminal for the message and returned to the caller.
func (p *Pipeline) Process(ctx context.Context, mode string, msg Message) (Result, error) {
	res := Result{State: StateReceived}
	log := p.logger.With(
		zap.String("mode", mode),
		zap.String("device_id", msg.DeviceID),
		zap.Time("timestamp", msg.Time),
	)

	fields, err := p.decoder.DecodeString(msg.Payload, msg.Layout)
	if err != nil {
		res.State = StateDecodeFailed
		log.Warn("telemetry decode failed", zap.String("payload", msg.Payload), zap.Error(err))
		p.metrics.Message(mode, metrics.OutcomeDecodeFailed)
		return res, err
	}
	res.State = StateDecoded
	res.Reading = models.Reading{
		DeviceID:       msg.DeviceID,
		Timestamp:      msg.Time.UTC(),
		VolumeM3:       fields.VolumeM3,
		BatteryPercent: fields.BatteryPercent,
		LeakFlag:       fields.Leak,
		TamperFlag:     fields.Tamper,
	}

	inserted, err := p.store.StoreReading(ctx, res.Reading)
	if err != nil {
		res.State = StateStoreFailed
		log.Error("telemetry store failed", zap.Error(err))
		p.metrics.Message(mode, metrics.OutcomeStoreFailed)
		p.metrics.StoreFailure(storeErrorKind(err))
		return res, err
	}

	res.State = StateStored
	res.Duplicate = !inserted
	if res.Duplicate {
		log.Debug("telemetry duplicate ignored")
		p.metrics.Message(mode, metrics.OutcomeDuplicate)
	} else {
		log.Debug("telemetry stored", zap.Float64("volume_m3", fields.VolumeM3))
		p.metrics.Message(mode, metrics.OutcomeStored)
	}
	return res, nil
}

func storeErrorKind(err error) string {
	switch {
	case errors.Is(err, repository.ErrConstraintViolation):
		return "constraint_violation"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "unavailable"
	}
}
