package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libdb "aquaflow/backend/libs/db"
	"aquaflow/backend/services/telemetry-service/internal/codec"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("TELEMETRY_POSTGRES_DSN", "postgres://localhost/aquaflow")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8084", cfg.HTTPAddress())
	assert.Equal(t, 60*time.Second, cfg.CacheTTL())
	assert.Equal(t, 5*time.Second, cfg.PushTimeout())
	assert.Equal(t, 500, cfg.Query.ReadingsLimit)
	assert.Equal(t, "https://backend.sigfox.com/api", cfg.Provider.BaseURL)
	assert.Equal(t, time.Duration(0), cfg.SyncInterval())
	assert.False(t, cfg.UseRedisCache())
	assert.False(t, cfg.SyncEnabled())

	layout, err := cfg.Payload.DefaultLayout()
	require.NoError(t, err)
	assert.Equal(t, codec.LayoutV1, layout)

	push, err := cfg.Payload.TextEncoding()
	require.NoError(t, err)
	assert.Equal(t, codec.EncodingHex, push)
	pull, err := cfg.Provider.TextEncoding()
	require.NoError(t, err)
	assert.Equal(t, codec.EncodingBase64, pull)
	assert.Equal(t, libdb.PoolOptions{}, cfg.Database.PoolOptions())
}

func TestLoadRequiresDSN(t *testing.T) {
	isolate(t)
	t.Setenv("TELEMETRY_POSTGRES_DSN", "")

	_, err := Load()
	assert.ErrorContains(t, err, "database dsn required")
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "telemetry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: "9000"
database:
  dsn: postgres://file/aquaflow
  autoMigrate: true
cache:
  backend: redis
  ttlSeconds: 120
redis:
  addr: localhost:6379
payload:
  layout: v2
  encoding: base64
sync:
  intervalSeconds: 300
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TELEMETRY_HTTP_PORT", ":9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPAddress())
	assert.True(t, cfg.Database.AutoMigrate)
	assert.True(t, cfg.UseRedisCache())
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())

	enc, err := cfg.Payload.TextEncoding()
	require.NoError(t, err)
	assert.Equal(t, codec.EncodingBase64, enc)
}

func TestRedisBackendNeedsAddr(t *testing.T) {
	isolate(t)
	t.Setenv("TELEMETRY_POSTGRES_DSN", "postgres://localhost/aquaflow")
	t.Setenv("TELEMETRY_CACHE_BACKEND", "redis")

	_, err := Load()
	assert.ErrorContains(t, err, "redis addr required")
}

func TestPayloadOverrides(t *testing.T) {
	p := PayloadConfig{Layout: "v1", ScaleDivisor: 1000, BatteryMode: "RAW255"}
	layout, err := p.DefaultLayout()
	require.NoError(t, err)
	assert.Equal(t, "v1", layout.Name)
	assert.Equal(t, 2, layout.VolumeBytes)
	assert.InDelta(t, 1000.0, layout.ScaleDivisor, 0)
	assert.Equal(t, codec.BatteryRaw255, layout.BatteryMode)

	_, err = PayloadConfig{Layout: "v1", VolumeBytes: 3}.DefaultLayout()
	assert.Error(t, err)

	_, err = PayloadConfig{Layout: "v9"}.DefaultLayout()
	assert.ErrorIs(t, err, codec.ErrUnknownLayout)

	_, err = PayloadConfig{Encoding: "base32"}.TextEncoding()
	assert.Error(t, err)
}

func TestProviderFrameFormat(t *testing.T) {
	isolate(t)
	t.Setenv("TELEMETRY_POSTGRES_DSN", "postgres://localhost/aquaflow")
	t.Setenv("TELEMETRY_PAYLOAD_ENCODING", "hex")
	t.Setenv("TELEMETRY_PROVIDER_ENCODING", "HEX")
	t.Setenv("TELEMETRY_PROVIDER_LAYOUT", "v1")

	cfg, err := Load()
	require.NoError(t, err)
	enc, err := cfg.Provider.TextEncoding()
	require.NoError(t, err)
	assert.Equal(t, codec.EncodingHex, enc)
	layout, err := cfg.Provider.DefaultLayout()
	require.NoError(t, err)
	assert.Equal(t, codec.LayoutV1, layout)

	t.Setenv("TELEMETRY_PROVIDER_ENCODING", "base32")
	_, err = Load()
	assert.ErrorContains(t, err, "unsupported provider encoding")

	t.Setenv("TELEMETRY_PROVIDER_ENCODING", "")
	t.Setenv("TELEMETRY_PROVIDER_LAYOUT", "v9")
	_, err = Load()
	assert.ErrorIs(t, err, codec.ErrUnknownLayout)
}

func TestDatabasePoolOptions(t *testing.T) {
	isolate(t)
	t.Setenv("TELEMETRY_POSTGRES_DSN", "postgres://localhost/aquaflow")
	t.Setenv("TELEMETRY_DB_MAX_OPEN_CONNS", "40")
	t.Setenv("TELEMETRY_DB_MAX_IDLE_CONNS", "8")
	t.Setenv("TELEMETRY_DB_CONN_MAX_LIFETIME_SECONDS", "1800")
	t.Setenv("TELEMETRY_DB_CONN_MAX_IDLE_SECONDS", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, libdb.PoolOptions{
		MaxOpenConns: 40,
		MaxIdleConns: 8,
		ConnLifetime: 30 * time.Minute,
		ConnIdleTime: 2 * time.Minute,
	}, cfg.Database.PoolOptions())

	t.Setenv("TELEMETRY_DB_MAX_IDLE_CONNS", "-1")
	_, err = Load()
	assert.ErrorContains(t, err, "pool settings must not be negative")
}

func TestValidateSync(t *testing.T) {
	cfg := defaults()
	err := cfg.ValidateSync()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.login")
	assert.Contains(t, err.Error(), "provider.deviceTypeID")

	cfg.Provider.Login = "api-login"
	cfg.Provider.Password = "api-password"
	cfg.Provider.DeviceTypeID = "5f1a"
	assert.NoError(t, cfg.ValidateSync())
	assert.True(t, cfg.SyncEnabled())
}

func TestMQTTTopicRequired(t *testing.T) {
	isolate(t)
	t.Setenv("TELEMETRY_POSTGRES_DSN", "postgres://localhost/aquaflow")
	t.Setenv("TELEMETRY_MQTT_BROKER", "tcp://localhost:1883")

	_, err := Load()
	assert.ErrorContains(t, err, "mqtt topic required")
}
