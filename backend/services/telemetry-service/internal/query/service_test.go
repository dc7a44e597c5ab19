package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aquaflow/backend/services/telemetry-service/internal/cache"
	"aquaflow/backend/services/telemetry-service/internal/metrics"
	"aquaflow/backend/services/telemetry-service/internal/models"
	"aquaflow/backend/services/telemetry-service/internal/repository"
	"aquaflow/backend/services/telemetry-service/internal/repository/repotest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingStore struct {
	Store
	devices  atomic.Int32
	readings atomic.Int32
	gate     chan struct{}
	seen     chan error
}

func (s *countingStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	s.devices.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.seen != nil {
		s.seen <- ctx.Err()
	}
	return s.Store.ListDevices(ctx)
}

func (s *countingStore) ListReadings(ctx context.Context, id string, limit int) (models.ReadingSeries, error) {
	s.readings.Add(1)
	return s.Store.ListReadings(ctx, id, limit)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

type failingStore struct{}

func (failingStore) ListDevices(context.Context) ([]models.Device, error) {
	return nil, &repository.StoreError{Op: "list devices", Kind: repository.ErrUnavailable, Err: errors.New("down")}
}

func (failingStore) ListReadings(context.Context, string, int) (models.ReadingSeries, error) {
	return nil, &repository.StoreError{Op: "list readings", Kind: repository.ErrUnavailable, Err: errors.New("down")}
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *repository.TelemetryRepository {
	t.Helper()
	return repository.NewTelemetryRepository(repotest.NewDB(t), zap.NewNop())
}

func store(t *testing.T, repo *repository.TelemetryRepository, id string, at time.Time, volume float64) {
	t.Helper()
	_, err := repo.StoreReading(context.Background(), models.Reading{
		DeviceID: id, Timestamp: at, VolumeM3: volume, BatteryPercent: 80,
	})
	require.NoError(t, err)
}

func lookups(t *testing.T, m *metrics.Metrics, query, result string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "aquaflow_query_cache_lookups_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["query"] == query && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestReadingsStaleWithinTTL(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	clk := &clock{now: base}
	svc := NewService(repo, cache.NewMemoryCache(clk.Now), nil, zap.NewNop(), Options{TTL: time.Minute})

	store(t, repo, "A1", base, 10)
	first, err := svc.Readings(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	store(t, repo, "A1", base.Add(time.Hour), 11)

	clk.Advance(30 * time.Second)
	stale, err := svc.Readings(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	clk.Advance(30 * time.Second)
	fresh, err := svc.Readings(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.InDelta(t, 11.0, fresh[0].VolumeM3, 1e-9)
	assert.True(t, fresh[0].Timestamp.Equal(base.Add(time.Hour)))
}

func TestDevicesCachedAndCounted(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	store(t, repo, "B2", base, 1)
	store(t, repo, "A1", base, 1)

	counting := &countingStore{Store: repo}
	m := metrics.New()
	svc := NewService(counting, cache.NewMemoryCache(nil), m, zap.NewNop(), Options{})

	for range 3 {
		devices, err := svc.Devices(ctx)
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "A1", devices[0].ID)
	}
	assert.Equal(t, int32(1), counting.devices.Load())
	assert.Equal(t, 1.0, lookups(t, m, queryDevices, metrics.CacheMiss))
	assert.Equal(t, 2.0, lookups(t, m, queryDevices, metrics.CacheHit))
}

func TestConcurrentMissesReturnSameResult(t *testing.T) {
	repo := newRepo(t)
	store(t, repo, "A1", base, 1)
	counting := &countingStore{Store: repo, gate: make(chan struct{})}
	svc := NewService(counting, nil, nil, zap.NewNop(), Options{})

	var wg sync.WaitGroup
	results := make([][]models.Device, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			devices, err := svc.Devices(context.Background())
			assert.NoError(t, err)
			results[i] = devices
		}(i)
	}

	require.Eventually(t, func() bool { return counting.devices.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(counting.gate)
	wg.Wait()

	assert.LessOrEqual(t, counting.devices.Load(), int32(len(results)))
	for _, devices := range results {
		require.Len(t, devices, 1)
		assert.Equal(t, "A1", devices[0].ID)
	}
}

func TestSharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	repo := newRepo(t)
	store(t, repo, "A1", base, 1)
	counting := &countingStore{Store: repo, gate: make(chan struct{}), seen: make(chan error, 4)}
	svc := NewService(counting, cache.NewMemoryCache(nil), nil, zap.NewNop(), Options{})

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.Devices(leaderCtx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return counting.devices.Load() >= 1 }, time.Second, time.Millisecond)

	type outcome struct {
		devices []models.Device
		err     error
	}
	follower := make(chan outcome, 1)
	go func() {
		devices, err := svc.Devices(context.Background())
		follower <- outcome{devices: devices, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(counting.gate)

	got := <-follower
	require.NoError(t, got.err)
	require.Len(t, got.devices, 1)
	assert.Equal(t, "A1", got.devices[0].ID)
	for range counting.devices.Load() {
		assert.NoError(t, <-counting.seen, "store load must not inherit a caller cancellation")
	}
}

func TestCacheFailureFallsThroughToStore(t *testing.T) {
	repo := newRepo(t)
	store(t, repo, "A1", base, 1)
	counting := &countingStore{Store: repo}
	svc := NewService(counting, brokenCache{}, nil, zap.NewNop(), Options{})

	for range 2 {
		series, err := svc.Readings(context.Background(), "A1")
		require.NoError(t, err)
		assert.Len(t, series, 1)
	}
	assert.Equal(t, int32(2), counting.readings.Load())
}

func TestEmptyReadsAreNoData(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newRepo(t), cache.NewMemoryCache(nil), nil, zap.NewNop(), Options{})

	devices, err := svc.Devices(ctx)
	require.NoError(t, err)
	assert.NotNil(t, devices)
	assert.Empty(t, devices)

	series, err := svc.Readings(ctx, "ghost")
	require.NoError(t, err)
	assert.NotNil(t, series)
	assert.Empty(t, series)

	view, err := svc.Dashboard(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, view.NoData)
	assert.Nil(t, view.Latest)
	assert.Equal(t, "ghost", view.Device.ID)
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	_, err := repo.RegisterDevice(ctx, models.Device{ID: "A1", Name: "Kitchen", Location: "Block 4"})
	require.NoError(t, err)
	store(t, repo, "A1", base, 10)
	store(t, repo, "A1", base.Add(2*time.Hour), 12)
	store(t, repo, "A1", base.Add(time.Hour), 11)

	svc := NewService(repo, nil, nil, zap.NewNop(), Options{})
	view, err := svc.Dashboard(ctx, "A1")
	require.NoError(t, err)

	assert.False(t, view.NoData)
	assert.Equal(t, "Kitchen", view.Device.Name)
	require.NotNil(t, view.Latest)
	assert.InDelta(t, 12.0, view.Latest.VolumeM3, 1e-9)
	require.Len(t, view.Readings, 3)
	require.Len(t, view.Trend, 3)
	assert.InDelta(t, 12.0, view.Readings[0].VolumeM3, 1e-9)
	assert.InDelta(t, 10.0, view.Trend[0].VolumeM3, 1e-9)
}

func TestReadingsLimitApplied(t *testing.T) {
	repo := newRepo(t)
	for i := range 5 {
		store(t, repo, "A1", base.Add(time.Duration(i)*time.Minute), float64(i))
	}
	svc := NewService(repo, nil, nil, zap.NewNop(), Options{ReadingsLimit: 2})

	series, err := svc.Readings(context.Background(), "A1")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.InDelta(t, 4.0, series[0].VolumeM3, 1e-9)
}

func TestStoreErrorsPropagate(t *testing.T) {
	svc := NewService(failingStore{}, cache.NewMemoryCache(nil), nil, zap.NewNop(), Options{})

	_, err := svc.Devices(context.Background())
	assert.ErrorIs(t, err, repository.ErrUnavailable)

	_, err = svc.Dashboard(context.Background(), "A1")
	assert.ErrorIs(t, err, repository.ErrUnavailable)
}
