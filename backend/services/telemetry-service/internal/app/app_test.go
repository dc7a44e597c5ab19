package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/config"
	"aquaflow/backend/services/telemetry-service/internal/models"
	"aquaflow/backend/services/telemetry-service/internal/repository/repotest"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Cache.Backend = "memory"
	cfg.Cache.TTLSeconds = 60
	cfg.Payload.Layout = "v1"
	cfg.Payload.Encoding = "hex"
	cfg.Provider.Layout = "v2"
	return cfg
}

func TestAppServesIngestAndReads(t *testing.T) {
	a, err := newWithDB(testConfig(), repotest.NewDB(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.closeRedis)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"device":"A1","data":"04D2500301","time":1700000000}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/A1/readings", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"volume_m3":12.34`)
	assert.Nil(t, a.syncer)
	assert.Nil(t, a.subscriber)
}

func TestAppRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.KeyPrefix = "aquaflow:test"
	cfg.Redis.Addr = srv.Addr()

	a, err := newWithDB(cfg, repotest.NewDB(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.closeRedis)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, srv.Exists("aquaflow:test:devices"))
}

func TestAppSyncOnStartupNeedsCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.OnStartup = true

	a, err := newWithDB(cfg, repotest.NewDB(t), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, a.syncer)

	cfg.Provider.Login = "login"
	cfg.Provider.Password = "password"
	cfg.Provider.DeviceTypeID = "type-1"
	a, err = newWithDB(cfg, repotest.NewDB(t), zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, a.syncer)
}

func TestAppMQTTNeedsTopic(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Broker = "tcp://localhost:1883"

	_, err := newWithDB(cfg, repotest.NewDB(t), zap.NewNop())
	assert.Error(t, err)
}

func TestNewPipelineRejectsBadPayloadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Payload.Layout = "v9"
	_, err := newWithDB(cfg, repotest.NewDB(t), zap.NewNop())
	assert.Error(t, err)
}

func fakeSigfox(t *testing.T, data string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/devicetypes/type-1/devices", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"WM-9"}],"paging":{}}`))
	})
	mux.HandleFunc("/devices/WM-9/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"device":"WM-9","time":1700000000,"data":"` + data + `"}],"paging":{}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPullAndPushUseSeparateEncodings(t *testing.T) {
	provider := fakeSigfox(t, "AAAD6DMB")
	cfg := testConfig()
	cfg.Provider.BaseURL = provider.URL
	cfg.Provider.Login = "login"
	cfg.Provider.Password = "password"
	cfg.Provider.DeviceTypeID = "type-1"
	cfg.Provider.Encoding = "base64"
	cfg.Sync.OnStartup = true

	a, err := newWithDB(cfg, repotest.NewDB(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.closeRedis)
	require.NotNil(t, a.syncer)

	report, err := a.syncer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stored)
	assert.Equal(t, 0, report.DecodeFailed)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"device":"A1","data":"04D2500301","time":1700000000}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/WM-9/readings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Readings []models.Reading `json:"readings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	readings := body.Readings
	require.Len(t, readings, 1)
	assert.InDelta(t, 1.0, readings[0].VolumeM3, 1e-9)
	assert.InDelta(t, 20.0, readings[0].BatteryPercent, 1e-9)
	assert.True(t, readings[0].LeakFlag)
}

func TestSyncJobRunsWithoutMetrics(t *testing.T) {
	provider := fakeSigfox(t, "AAAD6DMB")
	cfg := testConfig()
	cfg.Provider.BaseURL = provider.URL
	cfg.Provider.DeviceTypeID = "type-1"
	cfg.Sync.Incremental = true
	db := repotest.NewDB(t)

	job, err := newSyncJob(cfg, db, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, repotest.CountReadings(t, db, "WM-9"))

	cfg.Provider.Encoding = "base32"
	_, err = newSyncJob(cfg, db, zap.NewNop())
	assert.Error(t, err)
}

func TestAppStreamsThroughMiddleware(t *testing.T) {
	a, err := newWithDB(testConfig(), repotest.NewDB(t), zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.stream.Shutdown()
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ingest/ws?gateway_id=gw-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"device":"A1","data":"04D2500301","time":1700000000}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ok", ack["status"])
	assert.Equal(t, "A1", ack["device"])
}
