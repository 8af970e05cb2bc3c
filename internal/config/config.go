package config

import (
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/manager"
	"codeberg.org/mutker/sensorctl/internal/report"
	"codeberg.org/mutker/sensorctl/internal/sensors/gpu"
	"codeberg.org/mutker/sensorctl/internal/telemetry"
)

type Config struct {
	LogLevel      LogLevel      `mapstructure:"log_level"`
	LogFormat     LogFormat     `mapstructure:"log_format"`
	DeviceID      string        `mapstructure:"device_id"`
	PIDDir        string        `mapstructure:"pid_dir"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`

	Executor    ExecutorConfig         `mapstructure:"executor"`
	Breaker     executor.BreakerConfig `mapstructure:"breaker"`
	Monitor     MonitorConfig          `mapstructure:"monitor"`
	Diagnostics DiagnosticsConfig      `mapstructure:"diagnostics"`
	Report      ReportConfig           `mapstructure:"report"`
	Telemetry   telemetry.Config       `mapstructure:"telemetry"`
	GPU         gpu.Config             `mapstructure:"gpu"`
}

type ExecutorConfig struct {
	MaxConcurrency  int `mapstructure:"max_concurrency"`
	executor.Policy `mapstructure:",squash"`
}

type MonitorConfig struct {
	Interval           time.Duration      `mapstructure:"interval"`
	MaxConcurrency     int                `mapstructure:"max_concurrency"`
	Timeout            time.Duration      `mapstructure:"timeout"`
	DegradeThreshold   int                `mapstructure:"degrade_threshold"`
	UnhealthyThreshold int                `mapstructure:"unhealthy_threshold"`
	RecoveryThreshold  int                `mapstructure:"recovery_threshold"`
	MaxRecords         int                `mapstructure:"max_records"`
	Retention          time.Duration      `mapstructure:"retention"`
	AlertBuffer        int                `mapstructure:"alert_buffer"`
	CallbackTimeout    time.Duration      `mapstructure:"callback_timeout"`
	TrendMethod        health.TrendMethod `mapstructure:"trend_method"`
	TrendMetric        string             `mapstructure:"trend_metric"`
	TrendMinSamples    int                `mapstructure:"trend_min_samples"`
	TrendEpsilon       float64            `mapstructure:"trend_epsilon"`
	TrendLowerIsBetter bool               `mapstructure:"trend_lower_is_better"`
}

// DiagnosticsConfig drives the periodic diagnostics run of the daemon.
// An Interval of zero disables it; an empty test list drops that domain.
type DiagnosticsConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	TimeBucket      time.Duration `mapstructure:"time_bucket"`
	TargetHost      string        `mapstructure:"target_host"`
	NetworkTests    []string      `mapstructure:"network_tests"`
	SystemTests     []string      `mapstructure:"system_tests"`
	Ports           []int         `mapstructure:"ports"`
	PingCount       int           `mapstructure:"ping_count"`
	CPUThreshold    float64       `mapstructure:"cpu_threshold"`
	MemoryThreshold float64       `mapstructure:"memory_threshold"`
	DiskThreshold   float64       `mapstructure:"disk_threshold"`
}

type ReportConfig struct {
	Dir    string        `mapstructure:"dir"`
	Format report.Format `mapstructure:"format"`
}

// DefaultConfig mirrors the defaults of every component it configures.
func DefaultConfig() Config {
	mgr := manager.DefaultConfig()
	mon := mgr.Monitor
	params := mgr.Diagnostics

	return Config{
		LogLevel:      LogLevelInfo,
		LogFormat:     LogFormatConsole,
		ShutdownGrace: mgr.ShutdownGrace,
		Executor: ExecutorConfig{
			MaxConcurrency: mgr.MaxConcurrency,
			Policy:         mgr.Policy,
		},
		Breaker: mgr.Breaker,
		Monitor: MonitorConfig{
			Interval:           mon.Interval,
			MaxConcurrency:     mgr.MonitorConcurrency,
			Timeout:            mon.Policy.Timeout,
			DegradeThreshold:   mon.Thresholds.Degrade,
			UnhealthyThreshold: mon.Thresholds.Unhealthy,
			RecoveryThreshold:  mon.Thresholds.Recovery,
			MaxRecords:         mon.History.MaxRecords,
			Retention:          mon.History.Retention,
			AlertBuffer:        mon.AlertBuffer,
			CallbackTimeout:    mon.CallbackTimeout,
			TrendMethod:        mon.Trend.Method,
			TrendMetric:        mon.Trend.Metric,
			TrendMinSamples:    mon.Trend.MinSamples,
			TrendEpsilon:       mon.Trend.Epsilon,
			TrendLowerIsBetter: mon.Trend.LowerIsBetter,
		},
		Diagnostics: DiagnosticsConfig{
			TimeBucket:      mgr.TimeBucket,
			TargetHost:      params.Network.TargetHost,
			NetworkTests:    params.Network.Tests,
			SystemTests:     params.System.Tests,
			Ports:           mgr.Network.Ports,
			PingCount:       params.Network.Count,
			CPUThreshold:    params.System.CPUThreshold,
			MemoryThreshold: params.System.MemoryThreshold,
			DiskThreshold:   params.System.DiskThreshold,
		},
		Report: ReportConfig{
			Format: mgr.ReportFormat,
		},
		Telemetry: telemetry.DefaultConfig(),
		GPU:       gpu.DefaultConfig(),
	}
}

// Validate checks every section and names the offending field.
func (c *Config) Validate() error {
	if !c.LogLevel.IsValid() {
		return errors.New().WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if !c.LogFormat.IsValid() {
		return fieldError("log_format", c.LogFormat, "must be console or json")
	}
	if c.ShutdownGrace < 0 {
		return fieldError("shutdown_grace", c.ShutdownGrace, "must not be negative")
	}

	if c.Executor.MaxConcurrency <= 0 {
		return fieldError("executor.max_concurrency", c.Executor.MaxConcurrency, "must be positive")
	}
	if err := c.Executor.Policy.Validate(); err != nil {
		return fieldError("executor", c.Executor.Policy, err.Error())
	}
	if c.Breaker.FailureThreshold < 1 {
		return fieldError("breaker.failure_threshold", c.Breaker.FailureThreshold, "must be at least 1")
	}
	if c.Breaker.CoolDown < 0 || c.Breaker.CoolDownCalls < 0 {
		return fieldError("breaker.cool_down", c.Breaker.CoolDown, "must not be negative")
	}

	if c.Monitor.MaxConcurrency <= 0 {
		return fieldError("monitor.max_concurrency", c.Monitor.MaxConcurrency, "must be positive")
	}
	if c.Monitor.MaxRecords < 0 || c.Monitor.Retention < 0 {
		return fieldError("monitor.max_records", c.Monitor.MaxRecords, "history bounds must not be negative")
	}
	if err := c.healthConfig().Validate(); err != nil {
		return fieldError("monitor", c.Monitor.Interval, err.Error())
	}

	if c.Diagnostics.Interval < 0 {
		return fieldError("diagnostics.interval", c.Diagnostics.Interval, "must not be negative")
	}
	if c.Diagnostics.TimeBucket < 0 {
		return fieldError("diagnostics.time_bucket", c.Diagnostics.TimeBucket, "must not be negative")
	}
	if err := c.diagnosticsParams().Validate(); err != nil {
		return fieldError("diagnostics", c.Diagnostics.TargetHost, err.Error())
	}

	if _, err := report.ParseFormat(string(c.Report.Format)); err != nil {
		return fieldError("report.format", c.Report.Format, "must be json or yaml")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fieldError("telemetry", c.Telemetry.DBPath, err.Error())
	}
	if c.GPU.Enabled && (c.GPU.Index < 0 || c.GPU.MaxTemperature <= 0 || c.GPU.Window < 1) {
		return fieldError("gpu", c.GPU, "index, max_temperature and window must be set")
	}

	return nil
}

// Level converts the configured level for logger.Init
func (c *Config) Level() logger.LogLevel {
	level, err := logger.ParseLevel(string(c.LogLevel))
	if err != nil {
		return logger.InfoLevel
	}

	return level
}

func fieldError(field string, value any, reason string) error {
	return errors.New().WithData(errors.ErrInvalidConfig, struct {
		Field  string
		Value  any
		Reason string
	}{
		Field:  field,
		Value:  value,
		Reason: reason,
	})
}
