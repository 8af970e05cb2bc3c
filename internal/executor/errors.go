package executor

import "codeberg.org/mutker/sensorctl/internal/errors"

const (
	// Recorded on results when a sensor call panics
	ErrSensorPanic = errors.ErrorCode("sensor_panic")
)
