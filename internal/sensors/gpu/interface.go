package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// Device is the read-only part of an NVML device the sensor uses.
type Device interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetFanSpeed_v2(fan int) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return)
	GetPowerManagementDefaultLimit() (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
}

type Config struct {
	Enabled        bool    `mapstructure:"enabled"`
	Index          int     `mapstructure:"index"`
	MaxTemperature float64 `mapstructure:"max_temperature"`
	// Window is the number of readings in the rolling temperature average.
	Window int `mapstructure:"window"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Index:          0,
		MaxTemperature: 85,
		Window:         temperatureWindowSize,
	}
}

// Reading is one collected GPU sample.
type Reading struct {
	Temperature        int     `json:"temperature" yaml:"temperature"`
	AverageTemperature int     `json:"average_temperature" yaml:"average_temperature"`
	FanSpeeds          []int   `json:"fan_speeds" yaml:"fan_speeds"`
	PowerUsageW        float64 `json:"power_usage_w" yaml:"power_usage_w"`
	PowerLimitW        int     `json:"power_limit_w" yaml:"power_limit_w"`
	GPUUtilization     int     `json:"gpu_utilization" yaml:"gpu_utilization"`
	MemoryUtilization  int     `json:"memory_utilization" yaml:"memory_utilization"`
	MemoryUsedMB       float64 `json:"memory_used_mb" yaml:"memory_used_mb"`
	MemoryTotalMB      float64 `json:"memory_total_mb" yaml:"memory_total_mb"`
}

// Limits are the static power limits of a device, in watts.
type Limits struct {
	Min, Max, Default int
}
