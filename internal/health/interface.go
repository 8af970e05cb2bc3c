package health

import (
	"context"
	"time"

	"codeberg.org/mutker/sensorctl/internal/executor"
)

// State is the hysteresis-derived health of one sensor.
type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Record is one health observation. Healthy is the outcome of that single
// check; State is the derived state after applying it.
type Record struct {
	Sensor               string             `json:"sensor" yaml:"sensor"`
	Timestamp            time.Time          `json:"timestamp" yaml:"timestamp"`
	State                State              `json:"state" yaml:"state"`
	Healthy              bool               `json:"healthy" yaml:"healthy"`
	Status               string             `json:"status,omitempty" yaml:"status,omitempty"`
	Metrics              map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	ConsecutiveSuccesses int                `json:"consecutive_successes" yaml:"consecutive_successes"`
	ConsecutiveFailures  int                `json:"consecutive_failures" yaml:"consecutive_failures"`
	Error                string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// Runner executes a batch of health checks.
type Runner interface {
	RunBatch(ctx context.Context, reqs []executor.Request, policy executor.Policy) ([]executor.Result, error)
}

// SensorLister is the read side of the sensor registry.
type SensorLister interface {
	List() []string
	Has(name string) bool
}

// RecordSink receives every applied tick's records.
type RecordSink interface {
	StoreRecords(ctx context.Context, records []Record) error
}

// SensorHealth is the per-sensor entry of a health snapshot.
type SensorHealth struct {
	State      State   `json:"state" yaml:"state"`
	Trend      Trend   `json:"trend" yaml:"trend"`
	LastRecord *Record `json:"last_record,omitempty" yaml:"last_record,omitempty"`
}

// TrendSummary describes a sensor over a trailing window.
type TrendSummary struct {
	State            State   `json:"state" yaml:"state"`
	Trend            Trend   `json:"trend" yaml:"trend"`
	Samples          int     `json:"samples" yaml:"samples"`
	HealthyChecks    int     `json:"healthy_checks" yaml:"healthy_checks"`
	HealthPercentage float64 `json:"health_percentage" yaml:"health_percentage"`
	Last             *Record `json:"last,omitempty" yaml:"last,omitempty"`
}
