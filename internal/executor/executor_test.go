package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/metrics"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, sensors map[string]*fakeSensor) *sensor.Registry {
	t.Helper()

	r := sensor.NewRegistry()
	for name, s := range sensors {
		require.NoError(t, r.Register(name, s, sensor.Config{}))
	}

	return r
}

func TestRunBatchTimeoutIsolation(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	camera := &fakeSensor{delay: 50 * time.Millisecond}
	lidar := &fakeSensor{hang: hang}
	e := New(newRegistry(t, map[string]*fakeSensor{"camera": camera, "lidar": lidar}),
		WithMaxConcurrency(1))

	start := time.Now()
	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "lidar", Kind: sensor.KindCollect},
		{Sensor: "camera", Kind: sensor.KindCollect},
	}, Policy{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "lidar", results[0].Sensor)
	assert.Equal(t, StatusTimeout, results[0].Status)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, errors.ErrTimeout, results[0].Error.Kind)

	assert.Equal(t, "camera", results[1].Sensor)
	assert.Equal(t, StatusSuccess, results[1].Status)
	assert.NotNil(t, results[1].Payload)

	// Hung sensor released its slot: both finished with a single slot.
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunBatchUnknownSensor(t *testing.T) {
	e := New(newRegistry(t, map[string]*fakeSensor{"camera": {}}))

	_, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "camera", Kind: sensor.KindCollect},
		{Sensor: "ghost", Kind: sensor.KindCollect},
	}, DefaultPolicy())
	assert.True(t, errors.HasCode(err, errors.ErrResourceNotFound))
}

func TestRunBatchInvalidRequest(t *testing.T) {
	e := New(newRegistry(t, map[string]*fakeSensor{"camera": {}}))

	_, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "camera", Kind: "reboot"},
	}, DefaultPolicy())
	assert.True(t, errors.HasCode(err, errors.ErrInvalidParams))

	_, err = e.RunBatch(context.Background(), nil, Policy{})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidParams))
}

func TestRunBatchRetries(t *testing.T) {
	flaky := &fakeSensor{failFirst: 2}
	e := New(newRegistry(t, map[string]*fakeSensor{"flaky": flaky}))

	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "flaky", Kind: sensor.KindCollect},
	}, Policy{Timeout: time.Second, Retries: 2, Backoff: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Nil(t, results[0].Error)
}

func TestRunBatchRetryDelayDoubles(t *testing.T) {
	broken := &fakeSensor{}
	broken.fail.Store(true)
	e := New(newRegistry(t, map[string]*fakeSensor{"broken": broken}))

	start := time.Now()
	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "broken", Kind: sensor.KindCollect},
	}, Policy{Timeout: time.Second, Retries: 2, Backoff: 40 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, StatusFailure, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	// 40ms before the first retry, 80ms before the second.
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestRunBatchRetryStopsOnCancel(t *testing.T) {
	broken := &fakeSensor{}
	broken.fail.Store(true)
	e := New(newRegistry(t, map[string]*fakeSensor{"broken": broken}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := e.RunBatch(ctx, []Request{
		{Sensor: "broken", Kind: sensor.KindCollect},
	}, Policy{Timeout: time.Second, Retries: 5, Backoff: time.Second})
	require.NoError(t, err)

	assert.Equal(t, StatusFailure, results[0].Status)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRunBatchFailureAndPanic(t *testing.T) {
	broken := &fakeSensor{}
	broken.fail.Store(true)
	e := New(newRegistry(t, map[string]*fakeSensor{
		"broken":  broken,
		"panicky": {panics: true},
	}))

	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "broken", Kind: sensor.KindCollect},
		{Sensor: "panicky", Kind: sensor.KindHealthCheck},
	}, Policy{Timeout: time.Second, Retries: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusFailure, results[0].Status)
	assert.Equal(t, errors.ErrOperationFailed, results[0].Error.Kind)
	assert.Equal(t, 2, results[0].Attempts)

	assert.Equal(t, StatusFailure, results[1].Status)
	assert.Equal(t, ErrSensorPanic, results[1].Error.Kind)
}

func TestRunBatchFailureKeepsPayload(t *testing.T) {
	r := sensor.NewRegistry()
	require.NoError(t, r.Register("uplink", partialSensor{}, sensor.Config{}))
	e := New(r)

	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "uplink", Kind: sensor.KindCollect},
	}, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, StatusFailure, results[0].Status)
	assert.Equal(t, "all packets lost", results[0].Error.Message)
	assert.Equal(t, map[string]float64{"loss": 100}, results[0].Payload)
}

func TestRunBatchHealthPayload(t *testing.T) {
	e := New(newRegistry(t, map[string]*fakeSensor{"thermo": {healthy: false}}))

	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "thermo", Kind: sensor.KindHealthCheck},
	}, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, results[0].Status)
	require.NotNil(t, results[0].Health)
	assert.False(t, results[0].Health.Healthy)
}

func TestRunBatchCircuitBreaker(t *testing.T) {
	broken := &fakeSensor{}
	broken.fail.Store(true)
	breakers := NewBreakers(BreakerConfig{FailureThreshold: 3, CoolDownCalls: 2})
	e := New(newRegistry(t, map[string]*fakeSensor{"lidar": broken}), WithBreakers(breakers))

	run := func() Result {
		results, err := e.RunBatch(context.Background(), []Request{
			{Sensor: "lidar", Kind: sensor.KindCollect},
		}, Policy{Timeout: time.Second})
		require.NoError(t, err)

		return results[0]
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, StatusFailure, run().Status)
	}
	assert.EqualValues(t, 3, broken.calls.Load())

	for i := 0; i < 2; i++ {
		res := run()
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, errors.ErrCircuitOpen, res.Error.Kind)
	}
	assert.EqualValues(t, 3, broken.calls.Load(), "skipped requests never reach the sensor")

	broken.fail.Store(false)
	assert.Equal(t, StatusSuccess, run().Status)
	assert.EqualValues(t, 4, broken.calls.Load())
	assert.Equal(t, BreakerClosed, breakers.State("lidar"))
}

type gaugeSensor struct {
	fakeSensor
	mu      *sync.Mutex
	current *int
	peak    *int
}

func (g *gaugeSensor) CollectData(ctx context.Context, params sensor.Params) (any, error) {
	g.mu.Lock()
	*g.current++
	if *g.current > *g.peak {
		*g.peak = *g.current
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		*g.current--
		g.mu.Unlock()
	}()

	return g.fakeSensor.CollectData(ctx, params)
}

func TestRunBatchBoundedConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		current int
		peak    int
	)

	r := sensor.NewRegistry()
	reqs := make([]Request, 0, 6)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		g := &gaugeSensor{fakeSensor: fakeSensor{delay: 20 * time.Millisecond}, mu: &mu, current: &current, peak: &peak}
		require.NoError(t, r.Register(name, g, sensor.Config{}))
		reqs = append(reqs, Request{Sensor: name, Kind: sensor.KindCollect})
	}

	stats := metrics.NewStats()
	e := New(r, WithMaxConcurrency(2), WithRecorder(stats))

	results, err := e.RunBatch(context.Background(), reqs, DefaultPolicy())
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, res := range results {
		assert.Equal(t, reqs[i].Key(), res.Key())
		assert.Equal(t, StatusSuccess, res.Status)
	}

	assert.EqualValues(t, 6, stats.Snapshot().Successes)
	assert.LessOrEqual(t, peak, 2)
	assert.True(t, e.sem.TryAcquire(2), "all slots released")
}

func TestShutdownMarksRemainingAsTimeout(t *testing.T) {
	slow := &fakeSensor{delay: 5 * time.Second}
	e := New(newRegistry(t, map[string]*fakeSensor{"slow": slow}))

	done := make(chan []Result, 1)
	go func() {
		results, err := e.RunBatch(context.Background(), []Request{
			{Sensor: "slow", Kind: sensor.KindCollect},
		}, Policy{Timeout: 10 * time.Second})
		assert.NoError(t, err)
		done <- results
	}()

	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Shutdown(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))

	results := <-done
	assert.Equal(t, StatusTimeout, results[0].Status)

	_, err = e.RunBatch(context.Background(), []Request{
		{Sensor: "slow", Kind: sensor.KindCollect},
	}, DefaultPolicy())
	assert.True(t, errors.HasCode(err, errors.ErrShuttingDown))
}

func TestTimeoutPrecedence(t *testing.T) {
	r := sensor.NewRegistry()
	require.NoError(t, r.Register("slow", &fakeSensor{delay: 80 * time.Millisecond},
		sensor.Config{Timeout: 20 * time.Millisecond}))
	e := New(r)

	results, err := e.RunBatch(context.Background(), []Request{
		{Sensor: "slow", Kind: sensor.KindCollect},
		{Sensor: "slow", Kind: sensor.KindHealthCheck, Timeout: time.Second},
	}, Policy{Timeout: time.Second})
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, results[0].Status, "sensor config overrides policy")
	assert.Equal(t, StatusSuccess, results[1].Status, "request overrides sensor config")
}
