package gpu

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	temperatureWindowSize = 5
	milliWattsToWatts     = 1000
	bytesToMB             = 1024 * 1024
)

// GPU is an NVML device exposed as a sensor.
type GPU struct {
	device      Device
	cfg         Config
	logger      logger.Logger
	name        string
	uuid        string
	fanCount    int
	powerLimits Limits
	owned       bool

	mu                 sync.Mutex
	temperatureHistory []int
}

// Open initializes NVML and opens the device at cfg.Index. Close releases
// the library again.
func Open(cfg Config, log logger.Logger) (*GPU, error) {
	errFactory := errors.New()

	if err := library.Initialize(); err != nil {
		return nil, err
	}

	count, err := library.GetDeviceCount()
	if err != nil {
		library.Shutdown()
		return nil, err
	}
	if cfg.Index < 0 || cfg.Index >= count {
		library.Shutdown()
		return nil, errFactory.WithData(ErrDeviceNotFound, struct {
			Index int
			Count int
		}{
			Index: cfg.Index,
			Count: count,
		})
	}

	device, err := library.GetDevice(cfg.Index)
	if err != nil {
		library.Shutdown()
		return nil, err
	}

	g, err := New(device, cfg, log)
	if err != nil {
		library.Shutdown()
		return nil, err
	}
	g.owned = true

	return g, nil
}

// New wraps an already opened device.
func New(device Device, cfg Config, log logger.Logger) (*GPU, error) {
	errFactory := errors.New()

	if cfg.Window <= 0 {
		cfg.Window = temperatureWindowSize
	}

	g := &GPU{
		device:             device,
		cfg:                cfg,
		logger:             log,
		temperatureHistory: make([]int, 0, cfg.Window),
	}

	if name, ret := device.GetName(); IsNVMLSuccess(ret) {
		g.name = name
		log.Info().Str("name", name).Int("index", cfg.Index).Msg("Detected GPU")
	} else {
		log.Warn().Str("error", nvml.ErrorString(ret)).Msg("Failed to get GPU name")
	}

	if uuid, ret := device.GetUUID(); IsNVMLSuccess(ret) {
		g.uuid = uuid
	}

	count, ret := device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}
	g.fanCount = count

	minLimit, maxLimit, ret := device.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}
	def, ret := device.GetPowerManagementDefaultLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}
	g.powerLimits = Limits{
		Min:     int(minLimit / milliWattsToWatts),
		Max:     int(maxLimit / milliWattsToWatts),
		Default: int(def / milliWattsToWatts),
	}

	log.Debug().
		Int("fans", g.fanCount).
		Int("power_min_w", g.powerLimits.Min).
		Int("power_max_w", g.powerLimits.Max).
		Msg("GPU initialized")

	return g, nil
}

// SensorName is the registry name used for this device.
func (g *GPU) SensorName() string {
	return fmt.Sprintf("gpu%d", g.cfg.Index)
}

func (g *GPU) Close() error {
	if !g.owned {
		return nil
	}
	g.owned = false

	return library.Shutdown()
}

// CollectData reads temperature, fans, power, utilization and memory.
func (g *GPU) CollectData(ctx context.Context, _ sensor.Params) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return g.read()
}

// CheckHealth reports healthy while the temperature stays below the
// configured maximum.
func (g *GPU) CheckHealth(ctx context.Context) (sensor.HealthStatus, error) {
	if err := ctx.Err(); err != nil {
		return sensor.HealthStatus{}, err
	}

	r, err := g.read()
	if err != nil {
		return sensor.HealthStatus{}, err
	}

	status := sensor.HealthStatus{
		Healthy: float64(r.Temperature) < g.cfg.MaxTemperature,
		Status:  "ok",
		Metrics: map[string]float64{
			"temperature":         float64(r.Temperature),
			"average_temperature": float64(r.AverageTemperature),
			"power_usage_w":       r.PowerUsageW,
			"gpu_utilization":     float64(r.GPUUtilization),
		},
	}
	if !status.Healthy {
		status.Status = fmt.Sprintf("temperature %dC at or above %.0fC", r.Temperature, g.cfg.MaxTemperature)
	}

	return status, nil
}

func (g *GPU) Describe() map[string]any {
	return map[string]any{
		"name":            g.name,
		"uuid":            g.uuid,
		"index":           g.cfg.Index,
		"fan_count":       g.fanCount,
		"power_min_w":     g.powerLimits.Min,
		"power_max_w":     g.powerLimits.Max,
		"power_default_w": g.powerLimits.Default,
		"max_temperature": g.cfg.MaxTemperature,
	}
}

func (g *GPU) read() (*Reading, error) {
	errFactory := errors.New()

	temp, ret := g.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	r := &Reading{
		Temperature: int(temp),
		FanSpeeds:   make([]int, g.fanCount),
	}
	r.AverageTemperature = g.updateTemperatureHistory(r.Temperature)

	for i := 0; i < g.fanCount; i++ {
		speed, ret := g.device.GetFanSpeed_v2(i)
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.Wrap(ErrGetFanSpeedFailed, newNVMLError(ret))
		}
		r.FanSpeeds[i] = int(speed)
	}

	usage, ret := g.device.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerReadFailed, newNVMLError(ret))
	}
	r.PowerUsageW = float64(usage) / milliWattsToWatts

	limit, ret := g.device.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerReadFailed, newNVMLError(ret))
	}
	r.PowerLimitW = int(limit / milliWattsToWatts)

	// Utilization and memory are not supported on every board
	if util, ret := g.device.GetUtilizationRates(); IsNVMLSuccess(ret) {
		r.GPUUtilization = int(util.Gpu)
		r.MemoryUtilization = int(util.Memory)
	} else if ret != nvml.ERROR_NOT_SUPPORTED {
		return nil, errFactory.Wrap(ErrUtilizationFailed, newNVMLError(ret))
	}

	if mem, ret := g.device.GetMemoryInfo(); IsNVMLSuccess(ret) {
		r.MemoryUsedMB = float64(mem.Used) / bytesToMB
		r.MemoryTotalMB = float64(mem.Total) / bytesToMB
	} else if ret != nvml.ERROR_NOT_SUPPORTED {
		return nil, errFactory.Wrap(ErrMemoryInfoFailed, newNVMLError(ret))
	}

	return r, nil
}

// updateTemperatureHistory adds a reading and returns the rolling average.
func (g *GPU) updateTemperatureHistory(current int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.temperatureHistory = append(g.temperatureHistory, current)
	if len(g.temperatureHistory) > g.cfg.Window {
		g.temperatureHistory = g.temperatureHistory[1:]
	}

	sum := 0
	for _, temp := range g.temperatureHistory {
		sum += temp
	}

	return sum / len(g.temperatureHistory)
}
