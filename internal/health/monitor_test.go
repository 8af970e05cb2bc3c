package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner answers health checks from a per-sensor script of outcomes.
type scriptedRunner struct {
	mu      sync.Mutex
	healthy map[string]bool
	batches atomic.Int32
	block   chan struct{}
}

func (r *scriptedRunner) set(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy[name] = ok
}

func (r *scriptedRunner) RunBatch(
	ctx context.Context,
	reqs []executor.Request,
	_ executor.Policy,
) ([]executor.Result, error) {
	r.batches.Add(1)

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]executor.Result, len(reqs))
	for i, req := range reqs {
		ok := r.healthy[req.Sensor]
		out[i] = executor.Result{
			Sensor: req.Sensor,
			Kind:   req.Kind,
			Status: executor.StatusSuccess,
			Health: &sensor.HealthStatus{
				Healthy: ok,
				Status:  "checked",
				Metrics: map[string]float64{"temp": 40},
			},
		}
		if !ok {
			out[i].Status = executor.StatusFailure
			out[i].Health = nil
			out[i].Error = &executor.ErrorDetail{Kind: "operation_failure", Message: "no signal"}
		}
	}

	return out, nil
}

type staticLister struct {
	mu    sync.Mutex
	names []string
}

func (l *staticLister) List() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.names...)
}

func (l *staticLister) Has(name string) bool {
	for _, n := range l.List() {
		if n == name {
			return true
		}
	}

	return false
}

func newTestMonitor(t *testing.T, cfg Config, names ...string) (*Monitor, *scriptedRunner) {
	t.Helper()

	runner := &scriptedRunner{healthy: make(map[string]bool)}
	for _, name := range names {
		runner.healthy[name] = true
	}

	m, err := NewMonitor(cfg, runner, &staticLister{names: names})
	require.NoError(t, err)

	return m, runner
}

func TestMonitorSingleAlertOnDegrade(t *testing.T) {
	m, runner := newTestMonitor(t, DefaultConfig(), "camera")
	ctx := context.Background()

	var (
		mu     sync.Mutex
		alerts []Alert
	)
	_, err := m.AddAlertCallback(func(_ context.Context, a Alert) error {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, a)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Tick(ctx))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSensorOnline, alerts[0].Type)

	runner.set("camera", false)
	require.NoError(t, m.Tick(ctx))
	require.NoError(t, m.Tick(ctx))

	require.Len(t, alerts, 2)
	assert.Equal(t, AlertSensorDegraded, alerts[1].Type)
	assert.Equal(t, SeverityWarning, alerts[1].Severity)
	assert.Equal(t, StateHealthy, alerts[1].From)
	assert.Equal(t, StateDegraded, alerts[1].To)
	assert.Equal(t, 2, alerts[1].Record.ConsecutiveFailures)
	assert.NotEmpty(t, alerts[1].ID)

	// Edge-triggered: staying degraded does not re-fire
	require.NoError(t, m.Tick(ctx))
	assert.Len(t, alerts, 2)
	assert.Len(t, m.RecentAlerts(), 2)
}

func TestMonitorNoFlapping(t *testing.T) {
	m, runner := newTestMonitor(t, DefaultConfig(), "camera")
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		runner.set("camera", i%2 == 0)
		require.NoError(t, m.Tick(ctx))
		assert.Equal(t, StateHealthy, m.State("camera"))
	}

	assert.Len(t, m.RecentAlerts(), 1, "only the online alert")
}

func TestMonitorHistoryBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History = HistoryConfig{MaxRecords: 10}
	m, _ := newTestMonitor(t, cfg, "camera")

	for i := 0; i < 15; i++ {
		require.NoError(t, m.Tick(context.Background()))
	}

	records := m.History("camera")
	require.Len(t, records, 10)
	for i := 1; i < len(records); i++ {
		assert.True(t, records[i].Timestamp.After(records[i-1].Timestamp))
	}
}

func TestMonitorCallbackFailuresAreContained(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallbackTimeout = 20 * time.Millisecond
	m, _ := newTestMonitor(t, cfg, "camera")

	var delivered atomic.Int32
	_, err := m.AddAlertCallback(func(context.Context, Alert) error { panic("bad subscriber") })
	require.NoError(t, err)
	_, err = m.AddAlertCallback(func(context.Context, Alert) error { return errors.New("rejected") })
	require.NoError(t, err)
	_, err = m.AddAlertCallback(func(context.Context, Alert) error {
		select {} // never returns
	})
	require.NoError(t, err)
	id, err := m.AddAlertCallback(func(context.Context, Alert) error {
		delivered.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Tick(context.Background()))
	assert.EqualValues(t, 1, delivered.Load())

	assert.True(t, m.RemoveAlertCallback(id))
	assert.False(t, m.RemoveAlertCallback(id))

	_, err = m.AddAlertCallback(nil)
	assert.Error(t, err)
}

func TestMonitorDiscardsCancelledTick(t *testing.T) {
	m, runner := newTestMonitor(t, DefaultConfig(), "camera")
	runner.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, m.Tick(ctx))
	assert.Empty(t, m.History("camera"))
	assert.Equal(t, StateUnknown, m.State("camera"))
}

func TestMonitorStartStop(t *testing.T) {
	m, runner := newTestMonitor(t, DefaultConfig(), "camera", "lidar")
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 10*time.Millisecond))
	require.NoError(t, m.Start(ctx, 10*time.Millisecond), "second start is a no-op")
	assert.True(t, m.Running())

	require.Eventually(t, func() bool { return runner.batches.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())
	n := runner.batches.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, runner.batches.Load(), "no ticks after stop")

	// Stop is idempotent
	m.Stop()

	snap := m.Snapshot()
	require.Contains(t, snap, "camera")
	assert.Equal(t, StateHealthy, snap["camera"].State)
	require.NotNil(t, snap["camera"].LastRecord)
	assert.InDelta(t, 40.0, snap["camera"].LastRecord.Metrics["temp"], 1e-9)
}

func TestMonitorStartWithCancelledContext(t *testing.T) {
	m, runner := newTestMonitor(t, DefaultConfig(), "camera")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, m.Start(ctx, 10*time.Millisecond), context.Canceled)
	assert.False(t, m.Running())
	assert.Zero(t, runner.batches.Load())
}

func TestMonitorTrendsAndForget(t *testing.T) {
	m, runner := newTestMonitor(t, DefaultConfig(), "camera")
	ctx := context.Background()

	for _, ok := range []bool{true, true, false, false} {
		runner.set("camera", ok)
		require.NoError(t, m.Tick(ctx))
	}

	trends := m.Trends(0)
	require.Contains(t, trends, "camera")
	summary := trends["camera"]
	assert.Equal(t, 4, summary.Samples)
	assert.Equal(t, 2, summary.HealthyChecks)
	assert.InDelta(t, 50.0, summary.HealthPercentage, 1e-9)
	assert.Equal(t, TrendDegrading, summary.Trend)
	assert.Equal(t, StateDegraded, summary.State)

	m.Forget("camera")
	assert.Empty(t, m.History("camera"))
	assert.NotContains(t, m.Snapshot(), "camera")
}

func TestMonitorSkipsUnregisteredSensors(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig(), "camera")

	// The batch still carries a sensor unregistered while it ran
	records, _ := m.apply([]executor.Result{
		{Sensor: "camera", Kind: sensor.KindHealthCheck, Status: executor.StatusSuccess,
			Health: &sensor.HealthStatus{Healthy: true}},
		{Sensor: "ghost", Kind: sensor.KindHealthCheck, Status: executor.StatusSuccess,
			Health: &sensor.HealthStatus{Healthy: true}},
	})

	assert.Len(t, records, 1)
	assert.Equal(t, []string{"camera"}, m.Tracked())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.History = HistoryConfig{}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Interval = 0
	assert.Error(t, cfg.Validate())
}
