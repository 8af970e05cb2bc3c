package diagnostics

import (
	"context"
	"fmt"
	"strings"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/sensor"
)

type SystemConfig struct {
	CPUThreshold    float64
	MemoryThreshold float64
	DiskThreshold   float64
}

func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		CPUThreshold:    90,
		MemoryThreshold: 90,
		DiskThreshold:   95,
	}
}

// System runs the system domain tests against a SystemSource.
type System struct {
	cfg    SystemConfig
	source SystemSource
}

func NewSystem(cfg SystemConfig, source SystemSource) *System {
	return &System{cfg: cfg, source: source}
}

// Probes exposes every system test as a catalog probe.
func (s *System) Probes() []Probe {
	return []Probe{
		newProbe(DomainSystem, TestResources, 0, func(ctx context.Context, p sensor.Params) (any, error) {
			return partial(s.Resources(ctx, p))
		}),
		newProbe(DomainSystem, TestDisk, 0, func(ctx context.Context, p sensor.Params) (any, error) {
			return partial(s.Disk(ctx, p))
		}),
		newProbe(DomainSystem, TestLoad, 0, func(ctx context.Context, _ sensor.Params) (any, error) {
			return s.wrap(s.source.Load(ctx))
		}),
		newProbe(DomainSystem, TestHost, 0, func(ctx context.Context, _ sensor.Params) (any, error) {
			return s.wrap(s.source.Host(ctx))
		}),
		newProbe(DomainSystem, TestTemperature, 0, func(ctx context.Context, _ sensor.Params) (any, error) {
			temps, err := s.Temperature(ctx)
			if temps == nil {
				return nil, err
			}

			return temps, err
		}),
		newProbe(DomainSystem, TestHardware, 0, func(ctx context.Context, _ sensor.Params) (any, error) {
			return s.wrap(s.source.Hardware(ctx))
		}),
	}
}

func (*System) wrap(v any, err error) (any, error) {
	if err != nil {
		return nil, errors.New().Wrap(ErrProbeSource, err)
	}

	return v, nil
}

type ResourceReport struct {
	CPUPercent  float64     `json:"cpu_percent" yaml:"cpu_percent"`
	Memory      MemoryUsage `json:"memory" yaml:"memory"`
	HealthScore int         `json:"health_score" yaml:"health_score"`
}

// Resources reports CPU and memory usage and fails above either threshold.
// A failing report still carries its measurements.
func (s *System) Resources(ctx context.Context, params sensor.Params) (*ResourceReport, error) {
	errFactory := errors.New()

	cpuPct, err := s.source.CPUPercent(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrProbeSource, err)
	}
	memUsage, err := s.source.Memory(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrProbeSource, err)
	}

	rep := &ResourceReport{
		CPUPercent:  round1(cpuPct),
		Memory:      memUsage,
		HealthScore: HealthScore(cpuPct, memUsage.UsedPercent, nil),
	}

	cpuLimit := floatParam(params, "cpu_threshold", s.cfg.CPUThreshold)
	memLimit := floatParam(params, "memory_threshold", s.cfg.MemoryThreshold)

	var exceeded []string
	if cpuPct > cpuLimit {
		exceeded = append(exceeded, fmt.Sprintf("cpu usage %.1f%% above %.0f%%", cpuPct, cpuLimit))
	}
	if memUsage.UsedPercent > memLimit {
		exceeded = append(exceeded, fmt.Sprintf("memory usage %.1f%% above %.0f%%", memUsage.UsedPercent, memLimit))
	}
	if len(exceeded) > 0 {
		return rep, errFactory.WithMessage(ErrProbeFailed, strings.Join(exceeded, ", "))
	}

	return rep, nil
}

type DiskReport struct {
	Partitions  []DiskUsage `json:"partitions" yaml:"partitions"`
	HealthScore int         `json:"health_score" yaml:"health_score"`
}

// Disk reports partition usage and fails when any partition is above the
// threshold, returning the report alongside the error.
func (s *System) Disk(ctx context.Context, params sensor.Params) (*DiskReport, error) {
	errFactory := errors.New()

	disks, err := s.source.Disks(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrProbeSource, err)
	}

	limit := floatParam(params, "disk_threshold", s.cfg.DiskThreshold)
	rep := &DiskReport{Partitions: disks, HealthScore: HealthScore(0, 0, disks)}

	var full []string
	for _, d := range disks {
		if d.UsedPercent > limit {
			full = append(full, fmt.Sprintf("%s %.1f%%", d.Mountpoint, d.UsedPercent))
		}
	}
	if len(full) > 0 {
		return rep, errFactory.WithMessage(ErrProbeFailed,
			fmt.Sprintf("disk usage above %.0f%%: %s", limit, strings.Join(full, ", ")))
	}

	return rep, nil
}

// Temperature fails when any sensor has reached its critical temperature.
func (s *System) Temperature(ctx context.Context) ([]Temperature, error) {
	errFactory := errors.New()

	temps, err := s.source.Temperatures(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrProbeSource, err)
	}

	var hot []string
	for _, t := range temps {
		if t.Critical > 0 && t.Celsius >= t.Critical {
			hot = append(hot, fmt.Sprintf("%s %.1fC (critical %.1fC)", t.Sensor, t.Celsius, t.Critical))
		}
	}
	if len(hot) > 0 {
		return temps, errFactory.WithMessage(ErrProbeFailed, "critical temperature: "+strings.Join(hot, ", "))
	}

	return temps, nil
}

// HealthScore rates resource usage from 100 down to 0.
func HealthScore(cpuPct, memPct float64, disks []DiskUsage) int {
	score := 100

	switch {
	case cpuPct > 90:
		score -= 20
	case cpuPct > 70:
		score -= 10
	}

	switch {
	case memPct > 90:
		score -= 20
	case memPct > 80:
		score -= 10
	}

	for _, d := range disks {
		switch {
		case d.UsedPercent > 95:
			score -= 15
		case d.UsedPercent > 85:
			score -= 5
		}
	}

	if score < 0 {
		return 0
	}

	return score
}
