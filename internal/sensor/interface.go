package sensor

import (
	"context"
	"time"
)

// Kind is the operation a request performs against a sensor.
type Kind string

const (
	KindCollect     Kind = "collect"
	KindHealthCheck Kind = "health_check"
)

// IsValid reports whether k is a known operation kind.
func (k Kind) IsValid() bool {
	return k == KindCollect || k == KindHealthCheck
}

// Params is the free-form parameter bag handed to CollectData.
type Params map[string]any

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}

	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// HealthStatus is what a sensor reports about itself.
type HealthStatus struct {
	Healthy bool               `json:"healthy" yaml:"healthy"`
	Status  string             `json:"status" yaml:"status"`
	Metrics map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// Collector gathers a data sample.
type Collector interface {
	CollectData(ctx context.Context, params Params) (any, error)
}

// HealthChecker reports the sensor's own view of its health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) (HealthStatus, error)
}

// Sensor is the capability contract every registered sensor satisfies.
type Sensor interface {
	Collector
	HealthChecker
}

// Describer is optionally implemented to expose static metadata.
type Describer interface {
	Describe() map[string]any
}

// Config is per-sensor configuration supplied at registration.
type Config struct {
	// Timeout overrides the executor policy timeout for this sensor when set.
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Params  Params            `json:"params,omitempty" yaml:"params,omitempty"`
	Labels  map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Entry is one registry binding.
type Entry struct {
	Name         string
	Sensor       Sensor
	Config       Config
	RegisteredAt time.Time
}

// Describe returns the sensor's metadata, or nil when it has none.
func (e Entry) Describe() map[string]any {
	if d, ok := e.Sensor.(Describer); ok {
		return d.Describe()
	}

	return nil
}
