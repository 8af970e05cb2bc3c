package manager

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorctl/internal/diagnostics"
	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/metrics"
	"codeberg.org/mutker/sensorctl/internal/report"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"codeberg.org/mutker/sensorctl/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Manager is the engine facade: it owns the registry, both executors, the
// diagnostics engine, the health monitor and report export.
type Manager struct {
	cfg        Config
	log        logger.Logger
	registry   *sensor.Registry
	stats      *metrics.Stats
	breakers   *executor.Breakers
	diagExec   *executor.Executor
	monExec    *executor.Executor
	engine     *diagnostics.Engine
	monitor    *health.Monitor
	aggregator *report.Aggregator
	exporter   *report.FileExporter
	sink       telemetry.Sink
	now        func() time.Time
	closed     atomic.Bool
}

type options struct {
	log        logger.Logger
	sink       telemetry.Sink
	source     diagnostics.SystemSource
	networkOpt []diagnostics.NetworkOption
	now        func() time.Time
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithSink hands health records and exported reports to s.
func WithSink(s telemetry.Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

func WithSystemSource(s diagnostics.SystemSource) Option {
	return func(o *options) {
		o.source = s
	}
}

func WithNetworkOptions(opts ...diagnostics.NetworkOption) Option {
	return func(o *options) {
		o.networkOpt = append(o.networkOpt, opts...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		log: logger.Component("manager"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == nil {
		o.source = diagnostics.NewHostSource()
	}

	m := &Manager{
		cfg:        cfg,
		log:        o.log,
		registry:   sensor.NewRegistry(),
		stats:      metrics.NewStats(),
		breakers:   executor.NewBreakers(cfg.Breaker),
		aggregator: report.NewAggregator(cfg.DeviceID),
		sink:       o.sink,
		now:        o.now,
	}

	if cfg.ReportDir != "" {
		m.exporter = report.NewFileExporter(cfg.ReportDir)
	}

	network := diagnostics.NewNetwork(cfg.Network, o.networkOpt...)
	system := diagnostics.NewSystem(cfg.System, o.source)
	probes := append(network.Probes(), system.Probes()...)
	catalog := diagnostics.NewCatalog(m.registry, probes...)

	m.diagExec = executor.New(catalog,
		executor.WithMaxConcurrency(cfg.MaxConcurrency),
		executor.WithBreakers(m.breakers),
		executor.WithRecorder(m.stats),
		executor.WithLogger(o.log),
		executor.WithClock(o.now),
	)
	m.monExec = executor.New(m.registry,
		executor.WithMaxConcurrency(cfg.MonitorConcurrency),
		executor.WithBreakers(m.breakers),
		executor.WithRecorder(m.stats),
		executor.WithLogger(o.log),
		executor.WithClock(o.now),
	)

	m.engine = diagnostics.NewEngine(m.diagExec, m.registry, m.aggregator,
		diagnostics.WithPolicy(cfg.Policy),
		diagnostics.WithTimeBucket(cfg.TimeBucket),
		diagnostics.WithEngineLogger(o.log),
		diagnostics.WithEngineClock(o.now),
	)

	monitorOpts := []health.Option{health.WithLogger(o.log), health.WithClock(o.now)}
	if m.sink != nil {
		monitorOpts = append(monitorOpts, health.WithSink(m.sink))
	}

	monitor, err := health.NewMonitor(cfg.Monitor, m.monExec, m.registry, monitorOpts...)
	if err != nil {
		return nil, err
	}
	m.monitor = monitor

	m.log.Debug().
		Str("device_id", cfg.DeviceID).
		Int("max_concurrency", cfg.MaxConcurrency).
		Int("monitor_concurrency", cfg.MonitorConcurrency).
		Int("probes", len(probes)).
		Msg("Manager initialized")

	return m, nil
}

// RegisterSensor binds a device sensor. Names in the built-in probe
// namespaces are refused.
func (m *Manager) RegisterSensor(name string, s any, cfg sensor.Config) error {
	name = sensor.NormalizeName(name)
	if diagnostics.IsReserved(name) {
		return errors.New().WithData(diagnostics.ErrReservedName, name)
	}

	if err := m.registry.Register(name, s, cfg); err != nil {
		return err
	}

	m.log.Info().Str("sensor", name).Msg("Sensor registered")

	return nil
}

// UnregisterSensor removes a sensor and discards its health history and
// breaker state.
func (m *Manager) UnregisterSensor(name string) error {
	name = sensor.NormalizeName(name)
	if err := m.registry.Unregister(name); err != nil {
		return err
	}

	m.monitor.Forget(name)
	m.breakers.Reset(name)
	m.log.Info().Str("sensor", name).Msg("Sensor unregistered")

	return nil
}

func (m *Manager) Sensors() []sensor.Entry {
	return m.registry.Snapshot()
}

// DefaultParams returns the configured diagnostics run parameters.
func (m *Manager) DefaultParams() diagnostics.Params {
	p := m.cfg.Diagnostics
	p.Network.Tests = append([]string(nil), p.Network.Tests...)
	p.Network.Ports = append([]int(nil), p.Network.Ports...)
	p.System.Tests = append([]string(nil), p.System.Tests...)
	p.Sensors.Names = append([]string(nil), p.Sensors.Names...)
	p.Sensors.Operations = append([]sensor.Kind(nil), p.Sensors.Operations...)
	p.Sensors.Params = p.Sensors.Params.Clone()

	return p
}

// RunComprehensiveDiagnostics runs one diagnostics run. Pass the report to
// ExportReport to persist it.
func (m *Manager) RunComprehensiveDiagnostics(ctx context.Context, params diagnostics.Params) (*report.DiagnosticsReport, error) {
	return m.engine.Run(ctx, params)
}

// CollectComprehensiveData runs a collect on the named sensors, or all.
func (m *Manager) CollectComprehensiveData(ctx context.Context, names []string, params sensor.Params) ([]executor.Result, error) {
	return m.engine.Collect(ctx, names, params)
}

func (m *Manager) LatestDiagnostics() *report.DiagnosticsReport {
	return m.engine.Latest()
}

func (m *Manager) StartHealthMonitoring(ctx context.Context, interval time.Duration) error {
	if m.closed.Load() {
		return errors.New().New(errors.ErrShuttingDown)
	}

	return m.monitor.Start(ctx, interval)
}

func (m *Manager) StopHealthMonitoring() {
	m.monitor.Stop()
}

func (m *Manager) AddAlertCallback(cb health.AlertCallback) (uint64, error) {
	return m.monitor.AddAlertCallback(cb)
}

func (m *Manager) RemoveAlertCallback(id uint64) bool {
	return m.monitor.RemoveAlertCallback(id)
}

func (m *Manager) GetHealthTrends(window time.Duration) map[string]health.TrendSummary {
	return m.monitor.Trends(window)
}

func (m *Manager) HealthSnapshot() map[string]health.SensorHealth {
	return m.monitor.Snapshot()
}

func (m *Manager) RecentAlerts() []health.Alert {
	return m.monitor.RecentAlerts()
}

func (m *Manager) Stats() metrics.Snapshot {
	return m.stats.Snapshot()
}

func (m *Manager) BreakerState(name string) executor.BreakerState {
	return m.breakers.State(name)
}

// CreateMasterReport combines the latest diagnostics, the monitor snapshot
// and the operation statistics.
func (m *Manager) CreateMasterReport() *report.MasterReport {
	return m.aggregator.BuildMasterReport(m.engine.Latest(), m.monitor.Snapshot(), m.stats.Snapshot())
}

// Shutdown stops the monitor, gives in-flight batches the grace period and
// closes the sink. Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.log.Info().Msg("Shutting down")
	m.monitor.Stop()

	if _, ok := ctx.Deadline(); !ok && m.cfg.ShutdownGrace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownGrace)
		defer cancel()
	}

	var g errgroup.Group
	g.Go(func() error { return m.diagExec.Shutdown(ctx) })
	g.Go(func() error { return m.monExec.Shutdown(ctx) })
	err := g.Wait()
	if err != nil {
		m.log.Warn().Err(err).Msg("Grace period expired, remaining operations timed out")
	}

	if m.sink != nil {
		if closeErr := m.sink.Close(); closeErr != nil {
			m.log.ErrorWithCode(closeErr).Msg("Failed to close telemetry sink")
			if err == nil {
				err = closeErr
			}
		}
	}

	return err
}
