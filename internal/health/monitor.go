package health

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/sensor"
)

type Config struct {
	Interval        time.Duration
	Thresholds      Thresholds
	History         HistoryConfig
	Trend           TrendConfig
	Policy          executor.Policy
	AlertBuffer     int
	CallbackTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		Thresholds:      DefaultThresholds(),
		History:         DefaultHistoryConfig(),
		Trend:           DefaultTrendConfig(),
		Policy:          executor.DefaultPolicy(),
		AlertBuffer:     50,
		CallbackTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Trend.Validate(); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.History.MaxRecords < 0 || c.History.Retention < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "history bounds must not be negative")
	}
	if c.History.MaxRecords == 0 && c.History.Retention == 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "history needs a record or retention bound")
	}
	if c.CallbackTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "callback timeout must be positive")
	}

	return nil
}

// Monitor periodically health-checks every registered sensor, keeps a
// bounded history per sensor and emits alerts on state transitions.
type Monitor struct {
	cfg     Config
	runner  Runner
	sensors SensorLister
	sink    RecordSink
	log     logger.Logger
	now     func() time.Time

	mu        sync.RWMutex
	trackers  map[string]*tracker
	histories map[string]*history
	recent    []Alert

	subMu  sync.Mutex
	subs   map[uint64]AlertCallback
	nextID uint64

	lifeMu  sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool
}

type Option func(*Monitor)

func WithSink(s RecordSink) Option {
	return func(m *Monitor) {
		m.sink = s
	}
}

func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMonitor(cfg Config, runner Runner, sensors SensorLister, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:       cfg,
		runner:    runner,
		sensors:   sensors,
		log:       logger.Nop(),
		now:       time.Now,
		trackers:  make(map[string]*tracker),
		histories: make(map[string]*history),
		subs:      make(map[uint64]AlertCallback),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Start runs one tick immediately and then one per interval until Stop is
// called or ctx ends. A zero interval uses the configured one. Starting a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	if interval == 0 {
		interval = m.cfg.Interval
	}
	if interval < 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, interval.String())
	}
	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(errors.ErrInitFailed, err)
	}

	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.running.Load() {
		m.log.Warn().Msg("Health monitoring already running")
		return nil
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running.Store(true)

	go m.loop(ctx, interval, m.stopCh, m.doneCh)

	m.log.Info().Dur("interval", interval).Msg("Health monitoring started")

	return nil
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer m.running.Store(false)

	m.tickLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			// Stop may have raced the ticker; prefer stopping.
			select {
			case <-stopCh:
				return
			default:
			}
			m.tickLogged(ctx)
		}
	}
}

func (m *Monitor) tickLogged(ctx context.Context) {
	if err := m.Tick(ctx); err != nil {
		m.log.ErrorWithCode(err).Msg("Health check tick failed")
	}
}

// Stop ends monitoring and waits for an in-flight tick to finish.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	<-m.doneCh
	m.stopCh, m.doneCh = nil, nil

	m.log.Info().Msg("Health monitoring stopped")
}

func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Tick runs one health-check batch over every registered sensor and applies
// the results. If ctx ends while the batch runs the results are discarded
// and nothing is recorded.
func (m *Monitor) Tick(ctx context.Context) error {
	results, err := m.runChecks(ctx)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		m.log.Debug().Int("results", len(results)).Msg("Discarding health tick after cancellation")
		return nil
	}

	records, alerts := m.apply(results)

	for _, a := range alerts {
		m.log.Info().
			Str("sensor", a.Sensor).
			Str("from", string(a.From)).
			Str("to", string(a.To)).
			Str("severity", string(a.Severity)).
			Msg(a.Message)
	}

	m.dispatch(ctx, alerts)

	if m.sink != nil && len(records) > 0 {
		if err := m.sink.StoreRecords(context.WithoutCancel(ctx), records); err != nil {
			m.log.ErrorWithCode(err).Int("records", len(records)).Msg("Failed to store health records")
		}
	}

	return nil
}

func (m *Monitor) runChecks(ctx context.Context) ([]executor.Result, error) {
	var (
		results []executor.Result
		err     error
	)

	// A sensor unregistered between List and RunBatch fails the batch; one
	// retry with a fresh list settles it.
	for try := 0; try < 2; try++ {
		names := m.sensors.List()
		if len(names) == 0 {
			return nil, nil
		}

		reqs := make([]executor.Request, len(names))
		for i, name := range names {
			reqs[i] = executor.Request{Sensor: name, Kind: sensor.KindHealthCheck}
		}

		results, err = m.runner.RunBatch(ctx, reqs, m.cfg.Policy)
		if err == nil || !errors.HasCode(err, errors.ErrResourceNotFound) {
			break
		}
	}

	return results, err
}

func (m *Monitor) apply(results []executor.Result) ([]Record, []Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, 0, len(results))
	var alerts []Alert

	for _, res := range results {
		if !m.sensors.Has(res.Sensor) {
			continue
		}

		rec := newRecord(res, m.now())

		t, ok := m.trackers[res.Sensor]
		if !ok {
			t = newTracker()
			m.trackers[res.Sensor] = t
			m.histories[res.Sensor] = &history{}
		}

		from, to := t.observe(rec.Healthy, m.cfg.Thresholds)
		rec.State = to
		rec.ConsecutiveSuccesses = t.successes
		rec.ConsecutiveFailures = t.failures

		rec = m.histories[res.Sensor].append(rec, m.cfg.History)
		records = append(records, rec)

		if from != to {
			a := newAlert(rec, from, to)
			alerts = append(alerts, a)
			m.recent = append(m.recent, a)
		}
	}

	if n := m.cfg.AlertBuffer; n > 0 && len(m.recent) > n {
		m.recent = append([]Alert(nil), m.recent[len(m.recent)-n:]...)
	}

	return records, alerts
}

func newRecord(res executor.Result, now time.Time) Record {
	rec := Record{
		Sensor:    res.Sensor,
		Timestamp: res.EndedAt,
		Status:    string(res.Status),
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	if res.Health != nil {
		rec.Healthy = res.Status == executor.StatusSuccess && res.Health.Healthy
		if res.Health.Status != "" {
			rec.Status = res.Health.Status
		}
		if len(res.Health.Metrics) > 0 {
			rec.Metrics = make(map[string]float64, len(res.Health.Metrics))
			for k, v := range res.Health.Metrics {
				rec.Metrics[k] = v
			}
		}
	}

	if res.Error != nil {
		rec.Error = res.Error.Message
	}

	return rec
}

// Forget discards everything known about name.
func (m *Monitor) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.trackers, name)
	delete(m.histories, name)
}

// History returns a copy of the retained records for name, oldest first.
func (m *Monitor) History(name string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.histories[name]
	if !ok {
		return nil
	}

	return h.since(time.Time{})
}

// State returns the current state for name.
func (m *Monitor) State(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := m.trackers[name]; ok {
		return t.state
	}

	return StateUnknown
}

// Snapshot returns the state, trend and last record of every tracked sensor.
func (m *Monitor) Snapshot() map[string]SensorHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]SensorHealth, len(m.trackers))
	for name, t := range m.trackers {
		h := m.histories[name]
		out[name] = SensorHealth{
			State:      t.state,
			Trend:      ComputeTrend(h.records, m.cfg.Trend),
			LastRecord: h.last(),
		}
	}

	return out
}

// Trends summarizes each sensor over the trailing window. A window of zero
// covers the whole retained history.
func (m *Monitor) Trends(window time.Duration) map[string]TrendSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = m.now().Add(-window)
	}

	out := make(map[string]TrendSummary, len(m.trackers))
	for name, t := range m.trackers {
		records := m.histories[name].since(cutoff)

		summary := TrendSummary{
			State:   t.state,
			Trend:   ComputeTrend(records, m.cfg.Trend),
			Samples: len(records),
		}

		for _, r := range records {
			if r.Healthy {
				summary.HealthyChecks++
			}
		}

		if len(records) > 0 {
			summary.HealthPercentage = float64(summary.HealthyChecks) / float64(len(records)) * 100
			last := records[len(records)-1]
			summary.Last = &last
		}

		out[name] = summary
	}

	return out
}

// RecentAlerts returns the trailing alert buffer, oldest first.
func (m *Monitor) RecentAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Alert(nil), m.recent...)
}

// AddAlertCallback subscribes cb and returns its subscription id.
func (m *Monitor) AddAlertCallback(cb AlertCallback) (uint64, error) {
	if cb == nil {
		return 0, errors.New().WithData(errors.ErrInvalidParams, "alert callback is nil")
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.nextID++
	m.subs[m.nextID] = cb

	return m.nextID, nil
}

// RemoveAlertCallback unsubscribes id and reports whether it was present.
func (m *Monitor) RemoveAlertCallback(id uint64) bool {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if _, ok := m.subs[id]; !ok {
		return false
	}
	delete(m.subs, id)

	return true
}

// Tracked returns the names of all sensors with health state, sorted.
func (m *Monitor) Tracked() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.trackers))
	for name := range m.trackers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)

	return names
}
