package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libredis "aquaflow/backend/libs/redis"
	"aquaflow/backend/services/telemetry-service/internal/cache"
	"aquaflow/backend/services/telemetry-service/internal/config"
	"aquaflow/backend/services/telemetry-service/internal/db"
	httpserver "aquaflow/backend/services/telemetry-service/internal/http"
	"aquaflow/backend/services/telemetry-service/internal/http/handlers"
	"aquaflow/backend/services/telemetry-service/internal/http/middleware"
	"aquaflow/backend/services/telemetry-service/internal/ingest"
	"aquaflow/backend/services/telemetry-service/internal/metrics"
	"aquaflow/backend/services/telemetry-service/internal/mqtt"
	"aquaflow/backend/services/telemetry-service/internal/query"
	"aquaflow/backend/services/telemetry-service/internal/repository"
	"aquaflow/backend/services/telemetry-service/internal/ws"
)

// App wires telemetry service dependencies.
type App struct {
	cfg        *config.Config
	server     *httpserver.Server
	syncer     *ingest.Syncer
	subscriber *mqtt.Subscriber
	stream     *ws.Server
	db         *sql.DB
	redis      *redis.Client
	logger     *zap.Logger
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := newWithDB(cfg, sqlDB, logger)
	if err != nil {
		closeDB(sqlDB, logger)
		return nil, err
	}
	return a, nil
}

func newWithDB(cfg *config.Config, sqlDB *sql.DB, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, db: sqlDB, logger: logger}

	m := metrics.New()
	repo := repository.NewTelemetryRepository(sqlDB, logger)
	pipeline, err := newPipeline(cfg, repo, m, logger)
	if err != nil {
		return nil, err
	}

	queryCache, err := a.newCache(cfg)
	if err != nil {
		return nil, err
	}
	reader := query.NewService(repo, queryCache, m, logger, query.Options{
		TTL:           cfg.CacheTTL(),
		ReadingsLimit: cfg.Query.ReadingsLimit,
	})
	push := ingest.NewPushService(pipeline, cfg.PushTimeout())
	a.stream = ws.NewServer(ws.NewManager(), ws.NewIngestProcessor(push, logger), cfg.StreamWriteTimeout(), logger)

	routes := httpserver.Routes{
		Ingest:  handlers.NewIngestHandler(push, logger),
		Stream:  http.HandlerFunc(a.stream.HandleWS),
		Query:   handlers.NewQueryHandlers(reader, logger),
		Health:  handlers.NewHealthHandler(repo, logger),
		Metrics: m.Registry(),
		APIAuth: middleware.BearerAuth(cfg.Dashboard.JWTSecret),
	}
	router := httpserver.NewRouter(routes)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		middleware.Recover(logger),
		middleware.RequestLogger(logger),
	)

	if cfg.Sync.OnStartup {
		if err := cfg.ValidateSync(); err != nil {
			logger.Warn("in-process sync disabled", zap.Error(err))
		} else if a.syncer, err = newSyncer(cfg, repo, m, logger); err != nil {
			a.closeRedis()
			return nil, err
		}
	}

	if cfg.MQTT.Broker != "" {
		a.subscriber, err = mqtt.NewSubscriber(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, push, logger)
		if err != nil {
			a.closeRedis()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) newCache(cfg *config.Config) (cache.Cache, error) {
	if !cfg.UseRedisCache() {
		return cache.NewMemoryCache(nil), nil
	}
	client, err := libredis.NewRedisClient(libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	a.redis = client
	return cache.NewRedisCache(client, cfg.Cache.KeyPrefix), nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP and, when configured, the MQTT subscriber and sync loop.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.stream.Shutdown()
		return nil
	})
	if a.subscriber != nil {
		g.Go(func() error {
			return a.subscriber.Run(ctx)
		})
	}
	if a.syncer != nil {
		g.Go(func() error {
			// A failed cycle must not take the HTTP server down.
			if err := runSync(ctx, a.syncer, a.cfg.SyncInterval()); err != nil && ctx.Err() == nil {
				a.logger.Error("in-process sync stopped", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	a.closeRedis()
	closeDB(a.db, a.logger)
}

func (a *App) closeRedis() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("failed to close redis", zap.Error(err))
	}
	a.redis = nil
}

func openDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN, cfg.Database.PoolOptions())
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(sqlDB); err != nil {
			closeDB(sqlDB, logger)
			return nil, err
		}
		logger.Info("database migrations applied")
	}
	return sqlDB, nil
}

func closeDB(sqlDB *sql.DB, logger *zap.Logger) {
	if sqlDB == nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("failed to close db", zap.Error(err))
	}
}
