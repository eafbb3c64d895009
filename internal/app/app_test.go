package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/coremodel"
	"github.com/taoyao-code/airq/internal/health"
	"github.com/taoyao-code/airq/internal/measure"
	"github.com/taoyao-code/airq/internal/protocol/sds011"
	"github.com/taoyao-code/airq/internal/sensor"
	"github.com/taoyao-code/airq/internal/seriallink"
	"github.com/taoyao-code/airq/internal/storage"
)

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://airq:****@db:5432/airq", maskDSN("postgres://airq:secret@db:5432/airq"))
	assert.Equal(t, "postgres://airq@db/airq", maskDSN("postgres://airq@db/airq"))
	assert.Equal(t, "host=db user=airq", maskDSN("host=db user=airq"))
}

func memConfig() *cfgpkg.Config {
	return &cfgpkg.Config{
		Sensor: cfgpkg.SensorConfig{
			DevicePath:  "sim://0102",
			ReadTimeout: 200 * time.Millisecond,
			MaxDiscard:  64,
			Unit:        "mass",
			ReportMode:  "query",
		},
		Measurement: cfgpkg.MeasurementConfig{WarmUp: time.Millisecond, WriteTimeout: time.Second},
		Store:       cfgpkg.StoreConfig{Backend: "memory", BreakerThreshold: 3, BreakerTimeout: time.Minute},
		Cache:       cfgpkg.CacheConfig{Backend: "memory"},
	}
}

func TestNewStores_Unknown(t *testing.T) {
	cfg := memConfig()
	cfg.Store.Backend = "cassandra"
	_, err := NewStores(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestMeasurement_VirtualSensorEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := memConfig()
	log := zap.NewNop()

	stores, err := NewStores(ctx, cfg, log)
	require.NoError(t, err)
	defer stores.Close()

	// 存储里已有更晚的读数，新周期必须接在其后
	future := time.Now().Unix() + 3600
	require.NoError(t, stores.Writer.UpsertReading(ctx, coremodel.Reading{Timestamp: future, DeviceID: "0102"}))

	gw := NewGateway(cfg.Store, stores, log, nil)
	m, err := NewMeasurement(ctx, cfg, gw, stores.Latest, log, nil)
	require.NoError(t, err)
	defer m.Close()

	st := m.Controller.State()
	assert.Equal(t, "0102", st.DeviceID)
	assert.Equal(t, coremodel.ReportModeQuery, st.ReportMode)
	assert.Equal(t, coremodel.WorkStateSleeping, st.WorkState)

	res, err := m.Runner.TryRun(ctx)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, future+1, res.Reading.Timestamp)

	agg := NewHealthAggregator(stores, gw)
	AddSensorChecker(agg, m.Runner)
	assert.Equal(t, health.StatusHealthy, agg.OverallStatus(ctx))
}

func TestMeasurement_CloseWaitsForRunningCycle(t *testing.T) {
	cfg := memConfig()
	sim := sds011.NewSimulator(0x0102)
	link := seriallink.New(sim, cfg.Sensor, nil, nil)
	ctrl := sensor.New(link, sensor.Options{Target: sds011.Broadcast}, nil, nil)
	mem := storage.NewMemoryStore()
	orch := measure.NewOrchestrator(ctrl, storage.NewGateway(mem, nil, nil, nil), measure.Options{
		WarmUp:       300 * time.Millisecond,
		WriteTimeout: time.Second,
		Clock:        measure.SystemClock(),
	}, nil, nil)
	m := &Measurement{Link: link, Controller: ctrl, Orchestrator: orch, Runner: measure.NewRunner(orch, 0, nil)}

	// 模拟 HTTP 触发的周期在关闭时仍处于预热
	done := make(chan measure.Result, 1)
	go func() {
		res, err := m.Runner.TryRun(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, func() bool {
		return sim.WorkState() == coremodel.WorkStateMeasuring
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())

	res := <-done
	assert.True(t, res.OK(), res.Error)
	assert.True(t, res.Persisted)
	assert.Equal(t, coremodel.WorkStateSleeping, sim.WorkState())
	assert.Equal(t, 1, mem.Len())

	_, err := m.Runner.TryRun(context.Background())
	assert.ErrorIs(t, err, measure.ErrRunnerStopped)
}

func TestNewSnapshotStore_FallsBackToMemory(t *testing.T) {
	s := NewSnapshotStore(cfgpkg.CacheConfig{Backend: "redis"}, nil, zap.NewNop())
	require.NotNil(t, s)
	e, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, e)
}

var _ storage.ReadingSource = (*storage.MemoryStore)(nil)
