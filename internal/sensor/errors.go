package sensor

import "codeberg.org/mutker/sensorctl/internal/errors"

const (
	// Registration Errors
	ErrInvalidSensor = errors.ErrorCode("invalid_sensor")
	ErrInvalidName   = errors.ErrorCode("sensor_invalid_name")
)
