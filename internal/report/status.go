package report

import (
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/health"
)

// Status is the health verdict of a result, a domain or a whole report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Worst returns the most severe of the given statuses, healthy when empty.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}

	return worst
}

// Classify maps one operation result to a status. Timeouts and failures
// are unhealthy; a skipped operation or a sensor that answered but reported
// itself unhealthy is degraded.
func Classify(res executor.Result) Status {
	switch res.Status {
	case executor.StatusSuccess:
		if res.Health != nil && !res.Health.Healthy {
			return StatusDegraded
		}

		return StatusHealthy
	case executor.StatusSkipped:
		return StatusDegraded
	case executor.StatusFailure, executor.StatusTimeout:
		return StatusUnhealthy
	}

	return StatusUnhealthy
}

// FromHealthState maps a monitor state to a status. Unknown sensors do not
// affect an overall status.
func FromHealthState(s health.State) Status {
	switch s {
	case health.StateDegraded:
		return StatusDegraded
	case health.StateUnhealthy:
		return StatusUnhealthy
	case health.StateHealthy, health.StateUnknown:
	}

	return StatusHealthy
}
