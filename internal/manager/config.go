package manager

import (
	"time"

	"codeberg.org/mutker/sensorctl/internal/diagnostics"
	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/report"
)

const (
	defaultShutdownGrace      = 10 * time.Second
	defaultMaxConcurrency     = 8
	defaultMonitorConcurrency = 4
)

type Config struct {
	DeviceID      string
	ShutdownGrace time.Duration

	// MaxConcurrency bounds on-demand diagnostics; the monitor has its own
	// MonitorConcurrency budget.
	MaxConcurrency     int
	MonitorConcurrency int
	Policy             executor.Policy
	Breaker            executor.BreakerConfig

	Monitor     health.Config
	Diagnostics diagnostics.Params
	TimeBucket  time.Duration
	Network     diagnostics.NetworkConfig
	System      diagnostics.SystemConfig

	ReportDir    string
	ReportFormat report.Format
}

func DefaultConfig() Config {
	return Config{
		ShutdownGrace:      defaultShutdownGrace,
		MaxConcurrency:     defaultMaxConcurrency,
		MonitorConcurrency: defaultMonitorConcurrency,
		Policy:             executor.DefaultPolicy(),
		Breaker:            executor.DefaultBreakerConfig(),
		Monitor:            health.DefaultConfig(),
		Diagnostics:        diagnostics.DefaultParams(),
		TimeBucket:         time.Minute,
		Network:            diagnostics.DefaultNetworkConfig(),
		System:             diagnostics.DefaultSystemConfig(),
		ReportFormat:       report.FormatJSON,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.MaxConcurrency <= 0 || c.MonitorConcurrency <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "concurrency limits must be positive")
	}
	if c.ShutdownGrace < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "shutdown grace must not be negative")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if _, err := report.ParseFormat(string(c.ReportFormat)); err != nil {
		return err
	}

	return nil
}
