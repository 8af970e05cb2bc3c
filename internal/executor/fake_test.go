package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorctl/internal/sensor"
)

// fakeSensor is a controllable sensor used across the executor tests.
type fakeSensor struct {
	delay   time.Duration
	hang    chan struct{}
	fail    atomic.Bool
	panics  bool
	healthy bool
	calls   atomic.Int32
	// failFirst makes the first n calls fail
	failFirst int32
}

func (f *fakeSensor) run(ctx context.Context) error {
	n := f.calls.Add(1)

	if f.panics {
		panic("sensor exploded")
	}

	if f.hang != nil {
		<-f.hang // ignores ctx on purpose
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if f.fail.Load() || n <= f.failFirst {
		return errors.New("device error")
	}

	return nil
}

func (f *fakeSensor) CollectData(ctx context.Context, params sensor.Params) (any, error) {
	if err := f.run(ctx); err != nil {
		return nil, err
	}

	return map[string]any{"params": len(params)}, nil
}

func (f *fakeSensor) CheckHealth(ctx context.Context) (sensor.HealthStatus, error) {
	if err := f.run(ctx); err != nil {
		return sensor.HealthStatus{}, err
	}

	return sensor.HealthStatus{Healthy: f.healthy, Status: "ok"}, nil
}

// partialSensor fails its collect but still returns what it measured.
type partialSensor struct{}

func (partialSensor) CollectData(context.Context, sensor.Params) (any, error) {
	return map[string]float64{"loss": 100}, errors.New("all packets lost")
}

func (partialSensor) CheckHealth(context.Context) (sensor.HealthStatus, error) {
	return sensor.HealthStatus{}, errors.New("all packets lost")
}
