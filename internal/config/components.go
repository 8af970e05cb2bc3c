package config

import (
	"codeberg.org/mutker/sensorctl/internal/diagnostics"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/manager"
	"codeberg.org/mutker/sensorctl/internal/sensor"
)

// Manager builds the manager configuration from the loaded sections.
func (c *Config) Manager() manager.Config {
	mgr := manager.DefaultConfig()

	mgr.DeviceID = c.DeviceID
	mgr.ShutdownGrace = c.ShutdownGrace
	mgr.MaxConcurrency = c.Executor.MaxConcurrency
	mgr.MonitorConcurrency = c.Monitor.MaxConcurrency
	mgr.Policy = c.Executor.Policy
	mgr.Breaker = c.Breaker
	mgr.Monitor = c.healthConfig()
	mgr.Diagnostics = c.diagnosticsParams()
	mgr.TimeBucket = c.Diagnostics.TimeBucket
	mgr.ReportDir = c.Report.Dir
	mgr.ReportFormat = c.Report.Format

	mgr.Network.TargetHost = c.Diagnostics.TargetHost
	mgr.Network.PingCount = c.Diagnostics.PingCount
	if len(c.Diagnostics.Ports) > 0 {
		mgr.Network.Ports = append([]int(nil), c.Diagnostics.Ports...)
	}
	mgr.System = diagnostics.SystemConfig{
		CPUThreshold:    c.Diagnostics.CPUThreshold,
		MemoryThreshold: c.Diagnostics.MemoryThreshold,
		DiskThreshold:   c.Diagnostics.DiskThreshold,
	}

	return mgr
}

func (c *Config) healthConfig() health.Config {
	cfg := health.DefaultConfig()

	cfg.Interval = c.Monitor.Interval
	cfg.Thresholds = health.Thresholds{
		Degrade:   c.Monitor.DegradeThreshold,
		Unhealthy: c.Monitor.UnhealthyThreshold,
		Recovery:  c.Monitor.RecoveryThreshold,
	}
	cfg.History = health.HistoryConfig{
		MaxRecords: c.Monitor.MaxRecords,
		Retention:  c.Monitor.Retention,
	}
	cfg.Trend = health.TrendConfig{
		Method:        c.Monitor.TrendMethod,
		Metric:        c.Monitor.TrendMetric,
		MinSamples:    c.Monitor.TrendMinSamples,
		Epsilon:       c.Monitor.TrendEpsilon,
		LowerIsBetter: c.Monitor.TrendLowerIsBetter,
	}
	cfg.Policy = c.Executor.Policy
	cfg.Policy.Timeout = c.Monitor.Timeout
	cfg.AlertBuffer = c.Monitor.AlertBuffer
	cfg.CallbackTimeout = c.Monitor.CallbackTimeout

	return cfg
}

// diagnosticsParams are the params of the periodic run. A domain whose
// test list is empty is left out.
func (c *Config) diagnosticsParams() diagnostics.Params {
	d := c.Diagnostics
	params := diagnostics.DefaultParams()

	params.IncludeNetwork = len(d.NetworkTests) > 0
	params.IncludeSystem = len(d.SystemTests) > 0
	params.IncludeSensors = true

	params.Network.Tests = append([]string(nil), d.NetworkTests...)
	params.Network.TargetHost = d.TargetHost
	params.Network.Ports = append([]int(nil), d.Ports...)
	params.Network.Count = d.PingCount

	params.System.Tests = append([]string(nil), d.SystemTests...)
	params.System.CPUThreshold = d.CPUThreshold
	params.System.MemoryThreshold = d.MemoryThreshold
	params.System.DiskThreshold = d.DiskThreshold

	params.Sensors.Operations = []sensor.Kind{sensor.KindHealthCheck, sensor.KindCollect}

	return params
}
