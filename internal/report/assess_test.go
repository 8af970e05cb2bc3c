package report

import (
	"testing"
	"time"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/metrics"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssess(t *testing.T) {
	assert.Nil(t, Assess(nil))

	tests := []struct {
		scores map[string]int
		score  float64
		rating Rating
	}{
		{map[string]int{"network": 100, "system": 80}, 90, RatingHealthy},
		{map[string]int{"network": 75, "system": 84}, 79.5, RatingWarning},
		{map[string]int{"network": 60}, 60, RatingWarning},
		{map[string]int{"network": 50, "system": 65, "sensors": 60}, 58.3, RatingCritical},
	}

	for _, tt := range tests {
		a := Assess(tt.scores)
		require.NotNil(t, a)
		assert.InDelta(t, tt.score, a.OverallScore, 1e-9)
		assert.Equal(t, tt.rating, a.Rating)
		assert.Equal(t, tt.scores, a.ComponentScores)
	}
}

func TestAssessmentDoesNotOverrideStatus(t *testing.T) {
	agg := NewAggregator("dev-1")
	agg.now = func() time.Time { return t0 }

	diag := agg.BuildDiagnosticsReport(DiagnosticsInput{
		CorrelationID: "run-1",
		Domains: map[string][]executor.Result{
			"network": {result("network.ports", sensor.KindCollect, executor.StatusFailure)},
		},
		Scores: map[string]int{"network": 90},
	})

	assert.Equal(t, StatusUnhealthy, diag.OverallStatus)
	require.NotNil(t, diag.Summary.Assessment)
	assert.Equal(t, RatingHealthy, diag.Summary.Assessment.Rating)

	m := agg.BuildMasterReport(diag, nil, metrics.Snapshot{})
	require.NotNil(t, m.Assessment)
	assert.InDelta(t, 90.0, m.Assessment.OverallScore, 1e-9)
	assert.Equal(t, StatusUnhealthy, m.OverallStatus)
}
