package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "aquaflow/backend/libs/config"
	libdb "aquaflow/backend/libs/db"
	"aquaflow/backend/services/telemetry-service/internal/codec"
)

const (
	defaultPort            = "8084"
	defaultCacheTTL        = 60
	defaultReadingsLimit   = 500
	defaultProviderURL     = "https://backend.sigfox.com/api"
	defaultProviderTimeout = 15
	defaultSyncConcurrency = 4
	defaultPushTimeout     = 5
	defaultStreamWrite     = 10
	defaultMQTTClientID    = "aquaflow-telemetry"
	defaultCacheKeyPrefix  = "aquaflow:query"
	cacheBackendMemory     = "memory"
	cacheBackendRedis      = "redis"
	defaultPayloadLayout   = "v1"
	defaultPayloadEncoding = "hex"
	defaultPullEncoding    = "base64"
)

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Port string `yaml:"port" env:"TELEMETRY_HTTP_PORT"`
}

// DatabaseConfig holds relational store settings. Zero pool values keep the
// shared library defaults.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn" env:"TELEMETRY_POSTGRES_DSN"`
	AutoMigrate            bool   `yaml:"autoMigrate" env:"TELEMETRY_DB_AUTO_MIGRATE"`
	MaxOpenConns           int    `yaml:"maxOpenConns" env:"TELEMETRY_DB_MAX_OPEN_CONNS"`
	MaxIdleConns           int    `yaml:"maxIdleConns" env:"TELEMETRY_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSeconds int    `yaml:"connMaxLifetimeSeconds" env:"TELEMETRY_DB_CONN_MAX_LIFETIME_SECONDS"`
	ConnMaxIdleSeconds     int    `yaml:"connMaxIdleSeconds" env:"TELEMETRY_DB_CONN_MAX_IDLE_SECONDS"`
}

// RedisConfig holds the optional shared cache connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"TELEMETRY_REDIS_ADDR"`
	Password string `yaml:"password" env:"TELEMETRY_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"TELEMETRY_REDIS_DB"`
}

// CacheConfig selects the query cache backend.
type CacheConfig struct {
	Backend    string `yaml:"backend" env:"TELEMETRY_CACHE_BACKEND"`
	TTLSeconds int    `yaml:"ttlSeconds" env:"TELEMETRY_CACHE_TTL_SECONDS"`
	KeyPrefix  string `yaml:"keyPrefix" env:"TELEMETRY_CACHE_KEY_PREFIX"`
}

// QueryConfig bounds read windows.
type QueryConfig struct {
	ReadingsLimit int `yaml:"readingsLimit" env:"TELEMETRY_QUERY_READINGS_LIMIT"`
}

// PayloadConfig selects the frame layout and text encoding.
type PayloadConfig struct {
	Layout       string  `yaml:"layout" env:"TELEMETRY_PAYLOAD_LAYOUT"`
	Encoding     string  `yaml:"encoding" env:"TELEMETRY_PAYLOAD_ENCODING"`
	VolumeBytes  int     `yaml:"volumeBytes" env:"TELEMETRY_PAYLOAD_VOLUME_BYTES"`
	ScaleDivisor float64 `yaml:"scaleDivisor" env:"TELEMETRY_PAYLOAD_SCALE_DIVISOR"`
	BatteryMode  string  `yaml:"batteryMode" env:"TELEMETRY_PAYLOAD_BATTERY_MODE"`
}

// ProviderConfig holds network provider API credentials and the pull frame format.
type ProviderConfig struct {
	BaseURL        string `yaml:"baseURL" env:"TELEMETRY_PROVIDER_BASE_URL"`
	Login          string `yaml:"login" env:"TELEMETRY_PROVIDER_LOGIN"`
	Password       string `yaml:"password" env:"TELEMETRY_PROVIDER_PASSWORD"`
	DeviceTypeID   string `yaml:"deviceTypeID" env:"TELEMETRY_PROVIDER_DEVICE_TYPE_ID"`
	Layout         string `yaml:"layout" env:"TELEMETRY_PROVIDER_LAYOUT"`
	Encoding       string `yaml:"encoding" env:"TELEMETRY_PROVIDER_ENCODING"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"TELEMETRY_PROVIDER_TIMEOUT_SECONDS"`
}

// SyncConfig schedules pull-mode cycles.
type SyncConfig struct {
	IntervalSeconds int  `yaml:"intervalSeconds" env:"TELEMETRY_SYNC_INTERVAL_SECONDS"`
	Concurrency     int  `yaml:"concurrency" env:"TELEMETRY_SYNC_CONCURRENCY"`
	OnStartup       bool `yaml:"onStartup" env:"TELEMETRY_SYNC_ON_STARTUP"`
	Incremental     bool `yaml:"incremental" env:"TELEMETRY_SYNC_INCREMENTAL"`
}

// IngestConfig bounds push handling.
type IngestConfig struct {
	PushTimeoutSeconds        int `yaml:"pushTimeoutSeconds" env:"TELEMETRY_INGEST_PUSH_TIMEOUT_SECONDS"`
	StreamWriteTimeoutSeconds int `yaml:"streamWriteTimeoutSeconds" env:"TELEMETRY_INGEST_STREAM_WRITE_TIMEOUT_SECONDS"`
}

// MQTTConfig enables the optional MQTT push subscriber.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"TELEMETRY_MQTT_BROKER"`
	ClientID string `yaml:"clientID" env:"TELEMETRY_MQTT_CLIENT_ID"`
	Topic    string `yaml:"topic" env:"TELEMETRY_MQTT_TOPIC"`
	Username string `yaml:"username" env:"TELEMETRY_MQTT_USERNAME"`
	Password string `yaml:"password" env:"TELEMETRY_MQTT_PASSWORD"`
}

// DashboardConfig protects the read API.
type DashboardConfig struct {
	JWTSecret string `yaml:"jwtSecret" env:"TELEMETRY_DASHBOARD_JWT_SECRET"`
}

// Config defines telemetry service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Query     QueryConfig     `yaml:"query"`
	Payload   PayloadConfig   `yaml:"payload"`
	Provider  ProviderConfig  `yaml:"provider"`
	Sync      SyncConfig      `yaml:"sync"`
	Ingest    IngestConfig    `yaml:"ingest"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

func defaults() *Config {
	return &Config{
		HTTP:     HTTPConfig{Port: defaultPort},
		Cache:    CacheConfig{Backend: cacheBackendMemory, TTLSeconds: defaultCacheTTL, KeyPrefix: defaultCacheKeyPrefix},
		Query:    QueryConfig{ReadingsLimit: defaultReadingsLimit},
		Payload:  PayloadConfig{Layout: defaultPayloadLayout, Encoding: defaultPayloadEncoding},
		Provider: ProviderConfig{BaseURL: defaultProviderURL, Layout: codec.LayoutV2.Name, Encoding: defaultPullEncoding, TimeoutSeconds: defaultProviderTimeout},
		Sync:     SyncConfig{Concurrency: defaultSyncConcurrency, Incremental: true},
		Ingest:   IngestConfig{PushTimeoutSeconds: defaultPushTimeout},
		MQTT:     MQTTConfig{ClientID: defaultMQTTClientID},
	}
}

// Load configuration using shared helper.
func Load() (*Config, error) {
	cfg := defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	switch c.CacheBackend() {
	case cacheBackendMemory:
	case cacheBackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr required for redis cache backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Query.ReadingsLimit < 0 {
		return errors.New("config: query readingsLimit must not be negative")
	}
	if _, err := c.Payload.DefaultLayout(); err != nil {
		return err
	}
	if _, err := c.Payload.TextEncoding(); err != nil {
		return err
	}
	if _, err := c.Provider.DefaultLayout(); err != nil {
		return err
	}
	if _, err := c.Provider.TextEncoding(); err != nil {
		return err
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 ||
		c.Database.ConnMaxLifetimeSeconds < 0 || c.Database.ConnMaxIdleSeconds < 0 {
		return errors.New("config: database pool settings must not be negative")
	}
	if strings.TrimSpace(c.MQTT.Broker) != "" && strings.TrimSpace(c.MQTT.Topic) == "" {
		return errors.New("config: mqtt topic required when broker is set")
	}
	return nil
}

// ValidateSync checks the settings only pull-mode sync needs.
func (c *Config) ValidateSync() error {
	var missing []string
	if strings.TrimSpace(c.Provider.Login) == "" {
		missing = append(missing, "provider.login")
	}
	if strings.TrimSpace(c.Provider.Password) == "" {
		missing = append(missing, "provider.password")
	}
	if strings.TrimSpace(c.Provider.DeviceTypeID) == "" {
		missing = append(missing, "provider.deviceTypeID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: sync requires %s", strings.Join(missing, ", "))
	}
	if c.Sync.IntervalSeconds < 0 {
		return errors.New("config: sync intervalSeconds must not be negative")
	}
	return nil
}

// SyncEnabled reports whether provider credentials are present.
func (c *Config) SyncEnabled() bool {
	return c.ValidateSync() == nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = defaultPort
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// CacheBackend returns the normalized backend name.
func (c *Config) CacheBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if backend == "" {
		return cacheBackendMemory
	}
	return backend
}

// UseRedisCache reports whether query results are shared through redis.
func (c *Config) UseRedisCache() bool {
	return c.CacheBackend() == cacheBackendRedis
}

// CacheTTL returns the query cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return seconds(c.Cache.TTLSeconds, defaultCacheTTL)
}

// PushTimeout bounds a single push ingestion.
func (c *Config) PushTimeout() time.Duration {
	return seconds(c.Ingest.PushTimeoutSeconds, defaultPushTimeout)
}

// StreamWriteTimeout bounds a single websocket ack write.
func (c *Config) StreamWriteTimeout() time.Duration {
	return seconds(c.Ingest.StreamWriteTimeoutSeconds, defaultStreamWrite)
}

// ProviderTimeout bounds a single provider API call.
func (c *Config) ProviderTimeout() time.Duration {
	return seconds(c.Provider.TimeoutSeconds, defaultProviderTimeout)
}

// SyncInterval returns the pull period; zero means run once.
func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// PoolOptions maps pool settings onto the shared connection helper.
func (d DatabaseConfig) PoolOptions() libdb.PoolOptions {
	return libdb.PoolOptions{
		MaxOpenConns: d.MaxOpenConns,
		MaxIdleConns: d.MaxIdleConns,
		ConnLifetime: time.Duration(d.ConnMaxLifetimeSeconds) * time.Second,
		ConnIdleTime: time.Duration(d.ConnMaxIdleSeconds) * time.Second,
	}
}

// TextEncoding parses the push payload encoding.
func (p PayloadConfig) TextEncoding() (codec.Encoding, error) {
	return parseEncoding("payload", p.Encoding, defaultPayloadEncoding)
}

// TextEncoding parses the encoding of provider message data.
func (p ProviderConfig) TextEncoding() (codec.Encoding, error) {
	return parseEncoding("provider", p.Encoding, defaultPullEncoding)
}

// DefaultLayout resolves the layout pulled frames decode with.
func (p ProviderConfig) DefaultLayout() (codec.Layout, error) {
	name := p.Layout
	if strings.TrimSpace(name) == "" {
		name = codec.LayoutV2.Name
	}
	layout, err := codec.KnownLayout(name)
	if err != nil {
		return codec.Layout{}, fmt.Errorf("config: provider layout: %w", err)
	}
	return layout, nil
}

func parseEncoding(section, value, fallback string) (codec.Encoding, error) {
	enc := codec.Encoding(strings.ToLower(strings.TrimSpace(value)))
	if enc == "" {
		enc = codec.Encoding(fallback)
	}
	switch enc {
	case codec.EncodingHex, codec.EncodingBase64:
		return enc, nil
	}
	return "", fmt.Errorf("config: unsupported %s encoding %q", section, value)
}

// DefaultLayout resolves the configured layout with overrides applied.
func (p PayloadConfig) DefaultLayout() (codec.Layout, error) {
	name := p.Layout
	if strings.TrimSpace(name) == "" {
		name = defaultPayloadLayout
	}
	layout, err := codec.KnownLayout(name)
	if err != nil {
		return codec.Layout{}, fmt.Errorf("config: payload layout: %w", err)
	}
	if p.VolumeBytes != 0 {
		layout.VolumeBytes = p.VolumeBytes
	}
	if p.ScaleDivisor != 0 {
		layout.ScaleDivisor = p.ScaleDivisor
	}
	if mode := strings.TrimSpace(p.BatteryMode); mode != "" {
		layout.BatteryMode = codec.BatteryMode(strings.ToLower(mode))
	}
	if err := layout.Validate(); err != nil {
		return codec.Layout{}, fmt.Errorf("config: payload layout: %w", err)
	}
	return layout, nil
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
