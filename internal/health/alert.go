package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertSensorOnline    AlertType = "sensor_online"
	AlertSensorDegraded  AlertType = "sensor_degraded"
	AlertSensorUnhealthy AlertType = "sensor_unhealthy"
	AlertSensorRecovered AlertType = "sensor_recovered"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is emitted once per state transition.
type Alert struct {
	ID        string    `json:"id" yaml:"id"`
	Type      AlertType `json:"type" yaml:"type"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Sensor    string    `json:"sensor" yaml:"sensor"`
	Message   string    `json:"message" yaml:"message"`
	From      State     `json:"from" yaml:"from"`
	To        State     `json:"to" yaml:"to"`
	Record    Record    `json:"record" yaml:"record"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// AlertCallback receives alerts. Returned errors and panics are logged and
// never reach the monitor.
type AlertCallback func(ctx context.Context, alert Alert) error

func newAlert(rec Record, from, to State) Alert {
	a := Alert{
		ID:        uuid.New().String(),
		Sensor:    rec.Sensor,
		From:      from,
		To:        to,
		Record:    rec,
		Timestamp: rec.Timestamp,
	}

	switch {
	case to == StateUnhealthy:
		a.Type, a.Severity = AlertSensorUnhealthy, SeverityCritical
		a.Message = fmt.Sprintf("sensor %s is unhealthy after %d consecutive failed checks",
			rec.Sensor, rec.ConsecutiveFailures)
	case to == StateDegraded:
		a.Type, a.Severity = AlertSensorDegraded, SeverityWarning
		a.Message = fmt.Sprintf("sensor %s is degraded after %d consecutive failed checks",
			rec.Sensor, rec.ConsecutiveFailures)
	case from == StateUnknown:
		a.Type, a.Severity = AlertSensorOnline, SeverityInfo
		a.Message = fmt.Sprintf("sensor %s is online", rec.Sensor)
	default:
		a.Type, a.Severity = AlertSensorRecovered, SeverityInfo
		a.Message = fmt.Sprintf("sensor %s recovered from %s", rec.Sensor, from)
	}

	return a
}

// dispatch delivers alerts to every subscriber. Subscribers run
// concurrently; each one sees the alerts in order. It returns once every
// subscriber has handled or timed out on every alert.
func (m *Monitor) dispatch(ctx context.Context, alerts []Alert) {
	if len(alerts) == 0 {
		return
	}

	m.subMu.Lock()
	subs := make(map[uint64]AlertCallback, len(m.subs))
	for id, cb := range m.subs {
		subs[id] = cb
	}
	m.subMu.Unlock()

	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for id, cb := range subs {
		wg.Add(1)
		go func(id uint64, cb AlertCallback) {
			defer wg.Done()
			for _, a := range alerts {
				m.deliver(ctx, id, cb, a)
			}
		}(id, cb)
	}
	wg.Wait()
}

func (m *Monitor) deliver(ctx context.Context, id uint64, cb AlertCallback, a Alert) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CallbackTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("alert callback panicked: %v", r)
			}
		}()
		done <- cb(ctx, a)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Error().
				Err(err).
				Uint64("subscription", id).
				Str("alert", string(a.Type)).
				Str("sensor", a.Sensor).
				Msg("Alert callback failed")
		}
	case <-ctx.Done():
		m.log.Warn().
			Uint64("subscription", id).
			Str("alert", string(a.Type)).
			Dur("timeout", m.cfg.CallbackTimeout).
			Msg("Alert callback timed out")
	}
}
