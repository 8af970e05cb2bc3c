package metrics

import "time"

// Outcome classifies a finished operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// Recorder receives one call per finished operation.
type Recorder interface {
	Record(outcome Outcome, duration time.Duration)
}

// Snapshot is a point-in-time copy of the operation counters.
type Snapshot struct {
	TotalOps        int64         `json:"total_ops" yaml:"total_ops"`
	Successes       int64         `json:"successes" yaml:"successes"`
	Failures        int64         `json:"failures" yaml:"failures"`
	Timeouts        int64         `json:"timeouts" yaml:"timeouts"`
	Skipped         int64         `json:"skipped" yaml:"skipped"`
	SuccessRate     float64       `json:"success_rate" yaml:"success_rate"`
	AverageDuration time.Duration `json:"average_duration" yaml:"average_duration"`
}
