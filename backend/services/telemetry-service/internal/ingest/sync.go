package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aquaflow/backend/services/telemetry-service/internal/provider"
)

// Provider is the read-only telemetry source polled in pull mode.
type Provider interface {
	ListDevices(ctx context.Context, deviceTypeID string) ([]provider.Device, error)
	ListMessages(ctx context.Context, deviceID string, since time.Time) ([]provider.Message, error)
}

// SyncConfig tunes pull cycles.
type SyncConfig struct {
	DeviceTypeID string
	Layout       string
	// Concurrency is the number of devices synced in parallel; messages of
	// one device are always processed sequentially.
	Concurrency int
	// Incremental requests only messages newer than the device sync cursor.
	// The cursor advances only after a device run with no store failures, and
	// push-mode readings never move it.
	Incremental bool
}

// SyncReport summarises one pull cycle.
type SyncReport struct {
	Devices      int
	DeviceErrors int
	Messages     int
	Stored       int
	Duplicates   int
	DecodeFailed int
	StoreFailed  int
	Duration     time.Duration
}

func (r *SyncReport) add(o SyncReport) {
	r.DeviceErrors += o.DeviceErrors
	r.Messages += o.Messages
	r.Stored += o.Stored
	r.Duplicates += o.Duplicates
	r.DecodeFailed += o.DecodeFailed
	r.StoreFailed += o.StoreFailed
}

// Syncer runs pull-mode cycles against the provider.
type Syncer struct {
	pipeline *Pipeline
	provider Provider
	store    Store
	cfg      SyncConfig
	logger   *zap.Logger
}

// NewSyncer returns syncer.
func NewSyncer(pipeline *Pipeline, src Provider, cfg SyncConfig, logger *zap.Logger) *Syncer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		pipeline: pipeline,
		provider: src,
		store:    pipeline.store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run performs one cycle. Each message is committed on its own, so partial
// progress survives a failure; per-device and per-message failures are counted
// and skipped. Only a failure to enumerate devices fails the cycle.
func (s *Syncer) Run(ctx context.Context) (SyncReport, error) {
	started := time.Now()
	var report SyncReport

	devices, err := s.provider.ListDevices(ctx, s.cfg.DeviceTypeID)
	if err != nil {
		report.Duration = time.Since(started)
		s.pipeline.metrics.SyncRun("failed", report.Duration)
		return report, fmt.Errorf("sync: list devices: %w", err)
	}

	ids := uniqueIDs(devices)
	report.Devices = len(ids)

	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		group.Go(func() error {
			partial := s.syncDevice(ctx, id)
			mu.Lock()
			report.add(partial)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	report.Duration = time.Since(started)
	result := "ok"
	if report.DeviceErrors > 0 || report.DecodeFailed > 0 || report.StoreFailed > 0 {
		result = "partial"
	}
	if ctx.Err() != nil {
		result = "canceled"
	}
	s.pipeline.metrics.SyncRun(result, report.Duration)
	s.logger.Info("sync cycle finished",
		zap.String("result", result),
		zap.Int("devices", report.Devices),
		zap.Int("device_errors", report.DeviceErrors),
		zap.Int("messages", report.Messages),
		zap.Int("stored", report.Stored),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("decode_failed", report.DecodeFailed),
		zap.Int("store_failed", report.StoreFailed),
		zap.Duration("duration", report.Duration),
	)
	return report, ctx.Err()
}

func (s *Syncer) syncDevice(ctx context.Context, deviceID string) SyncReport {
	var report SyncReport
	log := s.logger.With(zap.String("device_id", deviceID))

	if err := ctx.Err(); err != nil {
		report.DeviceErrors++
		return report
	}
	if err := s.store.UpsertDevice(ctx, deviceID); err != nil {
		log.Error("failed to register device", zap.Error(err))
		report.DeviceErrors++
		return report
	}

	var since time.Time
	if s.cfg.Incremental {
		cursor, err := s.store.SyncCursor(ctx, deviceID)
		if err != nil {
			log.Warn("failed to read sync cursor, fetching full history", zap.Error(err))
		} else {
			since = cursor
		}
	}

	messages, err := s.provider.ListMessages(ctx, deviceID, since)
	if err != nil {
		log.Error("failed to list messages", zap.Error(err))
		report.DeviceErrors++
		return report
	}

	var through time.Time
	for _, m := range messages {
		if ctx.Err() != nil {
			break
		}
		report.Messages++
		if ts := m.Timestamp(); ts.After(through) {
			through = ts
		}
		res, err := s.pipeline.Process(ctx, ModePull, Message{
			DeviceID: deviceID,
			Payload:  m.Data,
			Layout:   s.cfg.Layout,
			Time:     m.Timestamp(),
		})
		switch {
		case res.State == StateDecodeFailed:
			report.DecodeFailed++
		case err != nil:
			report.StoreFailed++
		case res.Duplicate:
			report.Duplicates++
		default:
			report.Stored++
		}
	}

	if !s.cfg.Incremental || through.IsZero() || report.StoreFailed > 0 || ctx.Err() != nil {
		return report
	}
	if err := s.store.AdvanceSyncCursor(ctx, deviceID, through); err != nil {
		log.Warn("failed to advance sync cursor", zap.Error(err))
	}
	return report
}

// RunEvery runs a cycle immediately and then on every tick until ctx is done.
// A failing cycle is logged and retried on the next tick.
func (s *Syncer) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sync cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func uniqueIDs(devices []provider.Device) []string {
	seen := make(map[string]struct{}, len(devices))
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		ids = append(ids, d.ID)
	}
	return ids
}
