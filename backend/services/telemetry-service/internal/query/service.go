package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"aquaflow/backend/services/telemetry-service/internal/cache"
	"aquaflow/backend/services/telemetry-service/internal/metrics"
	"aquaflow/backend/services/telemetry-service/internal/models"
	"aquaflow/backend/services/telemetry-service/internal/repository"
)

// DefaultTTL bounds how stale a cached read may be.
const DefaultTTL = 60 * time.Second

// loadTimeout bounds a shared store load, which outlives any single caller.
const loadTimeout = 10 * time.Second

const (
	queryDevices  = "devices"
	queryReadings = "readings"
)

// Store is the read side of the reading store.
type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListReadings(ctx context.Context, deviceID string, limit int) (models.ReadingSeries, error)
}

// Options configures a Service.
type Options struct {
	TTL           time.Duration
	ReadingsLimit int
}

// Dashboard is the per-device operator view.
type Dashboard struct {
	Device   models.Device        `json:"device"`
	Latest   *models.Reading      `json:"latest,omitempty"`
	Readings models.ReadingSeries `json:"readings"`
	Trend    models.ReadingSeries `json:"trend"`
	NoData   bool                 `json:"no_data"`
}

// Service serves cached device and reading reads.
type Service struct {
	store   Store
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
	ttl     time.Duration
	limit   int
	group   singleflight.Group
}

// NewService wires a query service. A nil cache disables caching.
func NewService(store Store, c cache.Cache, m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Service{
		store:   store,
		cache:   c,
		metrics: m,
		logger:  logger,
		ttl:     opts.TTL,
		limit:   repository.ClampLimit(opts.ReadingsLimit),
	}
}

// Devices returns all known devices ordered by id.
func (s *Service) Devices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	err := s.cached(ctx, queryDevices, queryDevices, &devices, func(ctx context.Context) (any, error) {
		return s.store.ListDevices(ctx)
	})
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []models.Device{}
	}
	return devices, nil
}

// Readings returns the most recent readings of a device, newest first.
func (s *Service) Readings(ctx context.Context, deviceID string) (models.ReadingSeries, error) {
	var series models.ReadingSeries
	key := fmt.Sprintf("%s:%s", queryReadings, deviceID)
	err := s.cached(ctx, queryReadings, key, &series, func(ctx context.Context) (any, error) {
		return s.store.ListReadings(ctx, deviceID, s.limit)
	})
	if err != nil {
		return nil, err
	}
	if series == nil {
		series = models.ReadingSeries{}
	}
	return series, nil
}

// Dashboard assembles the device view. Unknown devices and empty histories
// yield NoData rather than an error.
func (s *Service) Dashboard(ctx context.Context, deviceID string) (Dashboard, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	readings, err := s.Readings(ctx, deviceID)
	if err != nil {
		return Dashboard{}, err
	}

	view := Dashboard{
		Device:   models.Device{ID: deviceID},
		Readings: readings,
		Trend:    readings.Ascending(),
	}
	for _, d := range devices {
		if d.ID == deviceID {
			view.Device = d
			break
		}
	}
	if latest, ok := readings.Latest(); ok {
		view.Latest = &latest
	} else {
		view.NoData = true
	}
	return view, nil
}

// cached decodes a live cache entry into out, or loads it once across
// concurrent callers and stores the result. The shared load runs detached from
// the caller that started it, bounded by loadTimeout; each caller still returns
// when its own ctx is done.
func (s *Service) cached(ctx context.Context, name, key string, out any, load func(context.Context) (any, error)) error {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.metrics.CacheLookup(name, metrics.CacheError)
			s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		case ok:
			if err := json.Unmarshal(data, out); err == nil {
				s.metrics.CacheLookup(name, metrics.CacheHit)
				return nil
			}
			s.logger.Warn("cache entry unreadable", zap.String("key", key))
		default:
			s.metrics.CacheLookup(name, metrics.CacheMiss)
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(loadCtx, key, encoded, s.ttl); err != nil {
				s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return encoded, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), out)
	}
}
