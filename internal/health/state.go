package health

import "codeberg.org/mutker/sensorctl/internal/errors"

// Thresholds are the consecutive-sample counts that drive transitions.
type Thresholds struct {
	Degrade   int
	Unhealthy int
	Recovery  int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Degrade:   2,
		Unhealthy: 5,
		Recovery:  3,
	}
}

func (t Thresholds) Validate() error {
	errFactory := errors.New()

	if t.Degrade < 1 || t.Recovery < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, "degrade and recovery thresholds must be at least 1")
	}
	if t.Unhealthy <= t.Degrade {
		return errFactory.WithData(errors.ErrInvalidConfig, "unhealthy threshold must exceed degrade threshold")
	}

	return nil
}

// tracker is the per-sensor state machine. A single sample never flips a
// settled state: leaving healthy takes Degrade failures in a row and
// returning to healthy takes Recovery successes in a row.
type tracker struct {
	state     State
	successes int
	failures  int
}

func newTracker() *tracker {
	return &tracker{state: StateUnknown}
}

func (t *tracker) observe(ok bool, th Thresholds) (from, to State) {
	from = t.state

	if ok {
		t.successes++
		t.failures = 0

		switch t.state {
		case StateUnknown:
			t.state = StateHealthy
		case StateDegraded, StateUnhealthy:
			if t.successes >= th.Recovery {
				t.state = StateHealthy
			}
		case StateHealthy:
		}

		return from, t.state
	}

	t.failures++
	t.successes = 0

	switch t.state {
	case StateUnknown, StateHealthy:
		if t.failures >= th.Degrade {
			t.state = StateDegraded
		}
	case StateDegraded:
		if t.failures >= th.Unhealthy {
			t.state = StateUnhealthy
		}
	case StateUnhealthy:
	}

	return from, t.state
}
