package app

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/codec"
	"aquaflow/backend/services/telemetry-service/internal/config"
	"aquaflow/backend/services/telemetry-service/internal/ingest"
	"aquaflow/backend/services/telemetry-service/internal/metrics"
	"aquaflow/backend/services/telemetry-service/internal/provider"
	"aquaflow/backend/services/telemetry-service/internal/repository"
)

// SyncJob runs pull-mode sync outside the HTTP service.
type SyncJob struct {
	cfg    *config.Config
	syncer *ingest.Syncer
	db     *sql.DB
	logger *zap.Logger
}

// NewSyncJob constructs the pull-mode job.
func NewSyncJob(cfg *config.Config, logger *zap.Logger) (*SyncJob, error) {
	if err := cfg.ValidateSync(); err != nil {
		return nil, err
	}
	sqlDB, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	job, err := newSyncJob(cfg, sqlDB, logger)
	if err != nil {
		closeDB(sqlDB, logger)
		return nil, err
	}
	return job, nil
}

// newSyncJob wires the job without metrics; the one-shot process exposes no
// scrape endpoint and reports through its logs.
func newSyncJob(cfg *config.Config, sqlDB *sql.DB, logger *zap.Logger) (*SyncJob, error) {
	repo := repository.NewTelemetryRepository(sqlDB, logger)
	syncer, err := newSyncer(cfg, repo, nil, logger)
	if err != nil {
		return nil, err
	}
	return &SyncJob{
		cfg:    cfg,
		syncer: syncer,
		db:     sqlDB,
		logger: logger,
	}, nil
}

// Run performs one cycle, or loops when an interval is configured.
func (j *SyncJob) Run(ctx context.Context) error {
	return runSync(ctx, j.syncer, j.cfg.SyncInterval())
}

// Close releases resources.
func (j *SyncJob) Close() {
	closeDB(j.db, j.logger)
}

func runSync(ctx context.Context, syncer *ingest.Syncer, interval time.Duration) error {
	if interval <= 0 {
		_, err := syncer.Run(ctx)
		return err
	}
	return syncer.RunEvery(ctx, interval)
}

// newPipeline builds the codec from payload settings. The configured layout is
// the default; every built-in layout stays selectable by name.
func newPipeline(cfg *config.Config, store ingest.Store, m *metrics.Metrics, logger *zap.Logger) (*ingest.Pipeline, error) {
	layout, err := cfg.Payload.DefaultLayout()
	if err != nil {
		return nil, err
	}
	encoding, err := cfg.Payload.TextEncoding()
	if err != nil {
		return nil, err
	}
	c, err := codec.New(encoding, layout, codec.LayoutV1, codec.LayoutV2)
	if err != nil {
		return nil, err
	}
	return ingest.NewPipeline(c, store, m, logger), nil
}

// newSyncer builds its own codec from provider settings, so pulled frames and
// pushed frames may use different encodings and default layouts.
func newSyncer(cfg *config.Config, store ingest.Store, m *metrics.Metrics, logger *zap.Logger) (*ingest.Syncer, error) {
	layout, err := cfg.Provider.DefaultLayout()
	if err != nil {
		return nil, err
	}
	encoding, err := cfg.Provider.TextEncoding()
	if err != nil {
		return nil, err
	}
	c, err := codec.New(encoding, layout, codec.LayoutV1, codec.LayoutV2)
	if err != nil {
		return nil, err
	}
	client := provider.NewSigfoxClient(
		cfg.Provider.BaseURL,
		cfg.Provider.Login,
		cfg.Provider.Password,
		provider.NewDefaultHTTPClient(cfg.ProviderTimeout()),
	)
	return ingest.NewSyncer(ingest.NewPipeline(c, store, m, logger), client, ingest.SyncConfig{
		DeviceTypeID: cfg.Provider.DeviceTypeID,
		Layout:       layout.Name,
		Concurrency:  cfg.Sync.Concurrency,
		Incremental:  cfg.Sync.Incremental,
	}, logger), nil
}
