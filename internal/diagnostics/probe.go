package diagnostics

import (
	"context"
	"math"
	"strconv"
	"time"

	"codeberg.org/mutker/sensorctl/internal/sensor"
)

// probe adapts a test function to the sensor contract. A health check runs
// the test with default parameters and reports whether it passed.
type probe struct {
	domain string
	test   string
	run    func(ctx context.Context, params sensor.Params) (any, error)
}

func (p *probe) CollectData(ctx context.Context, params sensor.Params) (any, error) {
	return p.run(ctx, params)
}

func (p *probe) CheckHealth(ctx context.Context) (sensor.HealthStatus, error) {
	if _, err := p.run(ctx, nil); err != nil {
		return sensor.HealthStatus{Healthy: false, Status: err.Error()}, nil
	}

	return sensor.HealthStatus{Healthy: true, Status: "pass"}, nil
}

func (p *probe) Describe() map[string]any {
	return map[string]any{
		"domain":  p.domain,
		"test":    p.test,
		"builtin": true,
	}
}

func newProbe(domain, test string, timeout time.Duration,
	run func(ctx context.Context, params sensor.Params) (any, error),
) Probe {
	return Probe{
		Name:    ProbeName(domain, test),
		Sensor:  &probe{domain: domain, test: test, run: run},
		Timeout: timeout,
	}
}

// partial boxes a test report, keeping it next to the error of a failed
// test. A nil report stays a nil interface.
func partial[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}

	return v, err
}

func stringParam(p sensor.Params, key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}

	return def
}

func intParam(p sensor.Params, key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return def
}

func floatParam(p sensor.Params, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return def
}

func durationParam(p sensor.Params, key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int64:
		return time.Duration(v)
	}

	return def
}

func intsParam(p sensor.Params, key string, def []int) []int {
	switch v := p[key].(type) {
	case []int:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]int, 0, len(v))
		for _, item := range v {
			if n := intParam(sensor.Params{"v": item}, "v", -1); n > 0 {
				out = append(out, n)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	return def
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
