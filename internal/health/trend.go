package health

import (
	"math"

	"codeberg.org/mutker/sensorctl/internal/errors"
)

// Trend is the direction of a sensor's health over its retained window.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendStable           Trend = "stable"
	TrendDegrading        Trend = "degrading"
	TrendInsufficientData Trend = "insufficient_data"
)

type TrendMethod string

const (
	TrendLinear        TrendMethod = "linear"
	TrendMovingAverage TrendMethod = "moving_average"
)

// TrendConfig selects how a trend is computed. With an empty Metric the
// score of each record is 1 for a healthy check and 0 otherwise; with a
// Metric set only records carrying it are scored.
type TrendConfig struct {
	Method        TrendMethod
	Metric        string
	MinSamples    int
	Epsilon       float64
	LowerIsBetter bool
}

func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Method:     TrendLinear,
		MinSamples: 3,
		Epsilon:    0.01,
	}
}

func (c TrendConfig) Validate() error {
	errFactory := errors.New()

	if c.Method != TrendLinear && c.Method != TrendMovingAverage {
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown trend method "+string(c.Method))
	}
	if c.MinSamples < 2 {
		return errFactory.WithData(errors.ErrInvalidConfig, "trend needs at least 2 samples")
	}
	if c.Epsilon < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "trend epsilon must not be negative")
	}

	return nil
}

// ComputeTrend derives the trend of records, oldest first.
func ComputeTrend(records []Record, cfg TrendConfig) Trend {
	scores := make([]float64, 0, len(records))
	for _, r := range records {
		if cfg.Metric == "" {
			if r.Healthy {
				scores = append(scores, 1)
			} else {
				scores = append(scores, 0)
			}
			continue
		}

		if v, ok := r.Metrics[cfg.Metric]; ok && !math.IsNaN(v) {
			scores = append(scores, v)
		}
	}

	minSamples := cfg.MinSamples
	if minSamples < 2 {
		minSamples = 2
	}
	if len(scores) < minSamples {
		return TrendInsufficientData
	}

	var delta float64
	switch cfg.Method {
	case TrendMovingAverage:
		delta = movingAverageDelta(scores)
	default:
		delta = linearSlope(scores) * float64(len(scores)-1)
	}

	if cfg.LowerIsBetter {
		delta = -delta
	}

	switch {
	case delta > cfg.Epsilon:
		return TrendImproving
	case delta < -cfg.Epsilon:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// linearSlope is the least-squares slope of ys against their index.
func linearSlope(ys []float64) float64 {
	n := float64(len(ys))

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}

	return (n*sumXY - sumX*sumY) / denom
}

// movingAverageDelta compares the mean of the newer half to the older half.
func movingAverageDelta(ys []float64) float64 {
	half := len(ys) / 2

	return mean(ys[len(ys)-half:]) - mean(ys[:half])
}

func mean(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}

	var sum float64
	for _, y := range ys {
		sum += y
	}

	return sum / float64(len(ys))
}
