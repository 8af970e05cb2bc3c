package executor

import (
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/sensor"
)

// Status is the outcome of one operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"
)

// Lookup resolves a sensor name to its registry entry.
type Lookup interface {
	Lookup(name string) (sensor.Entry, error)
}

// Key identifies a request within a batch.
type Key struct {
	Sensor string
	Kind   sensor.Kind
}

// Request is one operation against one sensor.
type Request struct {
	Sensor string
	Kind   sensor.Kind
	Params sensor.Params
	// Timeout overrides both the sensor config and the batch policy when set.
	Timeout time.Duration
}

func (r Request) Key() Key {
	return Key{Sensor: r.Sensor, Kind: r.Kind}
}

// ErrorDetail describes why an operation did not succeed.
type ErrorDetail struct {
	Kind    errors.ErrorCode `json:"kind" yaml:"kind"`
	Message string           `json:"message" yaml:"message"`
}

// Result is produced exactly once per Request. A failed collect may still
// carry the payload the sensor measured before failing.
type Result struct {
	Sensor    string               `json:"sensor" yaml:"sensor"`
	Kind      sensor.Kind          `json:"kind" yaml:"kind"`
	Status    Status               `json:"status" yaml:"status"`
	Payload   any                  `json:"payload,omitempty" yaml:"payload,omitempty"`
	Health    *sensor.HealthStatus `json:"health,omitempty" yaml:"health,omitempty"`
	Error     *ErrorDetail         `json:"error,omitempty" yaml:"error,omitempty"`
	Attempts  int                  `json:"attempts" yaml:"attempts"`
	StartedAt time.Time            `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time            `json:"ended_at" yaml:"ended_at"`
	Duration  time.Duration        `json:"duration" yaml:"duration"`
}

func (r Result) Key() Key {
	return Key{Sensor: r.Sensor, Kind: r.Kind}
}

// Policy is the per-batch timeout and retry policy.
type Policy struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration `mapstructure:"backoff"`
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout: 10 * time.Second,
		Retries: 0,
		Backoff: 500 * time.Millisecond,
	}
}

func (p Policy) Validate() error {
	errFactory := errors.New()

	switch {
	case p.Timeout <= 0:
		return errFactory.WithData(errors.ErrInvalidParams, "policy timeout must be positive")
	case p.Retries < 0:
		return errFactory.WithData(errors.ErrInvalidParams, "policy retries must not be negative")
	case p.Backoff < 0:
		return errFactory.WithData(errors.ErrInvalidParams, "policy backoff must not be negative")
	}

	return nil
}
