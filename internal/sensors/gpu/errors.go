package gpu

import (
	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Initialization and Lifecycle Errors
	ErrNotInitialized   = errors.ErrorCode("gpu_not_initialized")
	ErrInitFailed       = errors.ErrorCode("gpu_init_failed")
	ErrDeviceNotFound   = errors.ErrorCode("gpu_device_not_found")
	ErrShutdownFailed   = errors.ErrorCode("gpu_shutdown_failed")
	ErrDeviceInfoFailed = errors.ErrorCode("gpu_device_info_failed")

	// Reading Errors
	ErrTemperatureReadFailed = errors.ErrorCode("gpu_temperature_read_failed")
	ErrGetFanSpeedFailed     = errors.ErrorCode("gpu_fan_speed_failed")
	ErrPowerReadFailed       = errors.ErrorCode("gpu_power_read_failed")
	ErrUtilizationFailed     = errors.ErrorCode("gpu_utilization_failed")
	ErrMemoryInfoFailed      = errors.ErrorCode("gpu_memory_info_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
