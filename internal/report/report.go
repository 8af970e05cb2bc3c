package report

import (
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/metrics"
)

// DomainSummary counts the results of one domain.
type DomainSummary struct {
	Status    Status `json:"status" yaml:"status"`
	Total     int    `json:"total" yaml:"total"`
	Succeeded int    `json:"succeeded" yaml:"succeeded"`
	Failed    int    `json:"failed" yaml:"failed"`
	TimedOut  int    `json:"timed_out" yaml:"timed_out"`
	Skipped   int    `json:"skipped" yaml:"skipped"`
}

type Summary struct {
	Total     int                      `json:"total" yaml:"total"`
	Succeeded int                      `json:"succeeded" yaml:"succeeded"`
	Failed    int                      `json:"failed" yaml:"failed"`
	TimedOut  int                      `json:"timed_out" yaml:"timed_out"`
	Skipped   int                      `json:"skipped" yaml:"skipped"`
	Domains   map[string]DomainSummary `json:"domains" yaml:"domains"`

	// Assessment is nil when no domain produced a score.
	Assessment *Assessment `json:"assessment,omitempty" yaml:"assessment,omitempty"`
}

// DiagnosticsReport is the immutable outcome of one diagnostics run.
type DiagnosticsReport struct {
	CorrelationID   string                       `json:"correlation_id" yaml:"correlation_id"`
	StartedAt       time.Time                    `json:"started_at" yaml:"started_at"`
	EndedAt         time.Time                    `json:"ended_at" yaml:"ended_at"`
	Duration        time.Duration                `json:"duration" yaml:"duration"`
	OverallStatus   Status                       `json:"overall_status" yaml:"overall_status"`
	Domains         map[string][]executor.Result `json:"domains" yaml:"domains"`
	Summary         Summary                      `json:"summary" yaml:"summary"`
	Recommendations []string                     `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// MasterReport combines the latest diagnostics with monitor state and
// operation statistics.
type MasterReport struct {
	GeneratedAt     time.Time                      `json:"generated_at" yaml:"generated_at"`
	DeviceID        string                         `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	CorrelationID   string                         `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	StartedAt       time.Time                      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt         time.Time                      `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	OverallStatus   Status                         `json:"overall_status" yaml:"overall_status"`
	Assessment      *Assessment                    `json:"assessment,omitempty" yaml:"assessment,omitempty"`
	Domains         map[string][]executor.Result   `json:"domains,omitempty" yaml:"domains,omitempty"`
	Health          map[string]health.SensorHealth `json:"health" yaml:"health"`
	Stats           metrics.Snapshot               `json:"stats" yaml:"stats"`
	Recommendations []string                       `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// DiagnosticsInput is everything a diagnostics report is built from.
type DiagnosticsInput struct {
	CorrelationID   string
	StartedAt       time.Time
	EndedAt         time.Time
	Domains         map[string][]executor.Result
	// Scores rates each domain from 0 to 100; domains without a score are
	// left out.
	Scores          map[string]int
	Recommendations []string
}

// Aggregator builds reports. It holds no state besides the device id.
type Aggregator struct {
	deviceID string
	now      func() time.Time
}

func NewAggregator(deviceID string) *Aggregator {
	return &Aggregator{
		deviceID: deviceID,
		now:      time.Now,
	}
}

// BuildDiagnosticsReport is deterministic in its input: results within a
// domain are ordered by sensor then kind, and nothing is shared with in.
func (a *Aggregator) BuildDiagnosticsReport(in DiagnosticsInput) *DiagnosticsReport {
	r := &DiagnosticsReport{
		CorrelationID:   in.CorrelationID,
		StartedAt:       in.StartedAt,
		EndedAt:         in.EndedAt,
		Duration:        in.EndedAt.Sub(in.StartedAt),
		Domains:         make(map[string][]executor.Result, len(in.Domains)),
		Summary:         Summary{Domains: make(map[string]DomainSummary, len(in.Domains))},
		Recommendations: append([]string(nil), in.Recommendations...),
	}

	domainStatuses := make([]Status, 0, len(in.Domains))

	for domain, results := range in.Domains {
		sorted := append([]executor.Result(nil), results...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if sorted[i].Sensor != sorted[j].Sensor {
				return sorted[i].Sensor < sorted[j].Sensor
			}
			return sorted[i].Kind < sorted[j].Kind
		})
		r.Domains[domain] = sorted

		ds := summarize(sorted)
		r.Summary.Domains[domain] = ds
		r.Summary.Total += ds.Total
		r.Summary.Succeeded += ds.Succeeded
		r.Summary.Failed += ds.Failed
		r.Summary.TimedOut += ds.TimedOut
		r.Summary.Skipped += ds.Skipped

		domainStatuses = append(domainStatuses, ds.Status)
	}

	r.OverallStatus = Worst(domainStatuses...)
	r.Summary.Assessment = Assess(in.Scores)

	return r
}

func summarize(results []executor.Result) DomainSummary {
	ds := DomainSummary{Total: len(results)}
	statuses := make([]Status, 0, len(results))

	for _, res := range results {
		switch res.Status {
		case executor.StatusSuccess:
			ds.Succeeded++
		case executor.StatusFailure:
			ds.Failed++
		case executor.StatusTimeout:
			ds.TimedOut++
		case executor.StatusSkipped:
			ds.Skipped++
		}
		statuses = append(statuses, Classify(res))
	}

	ds.Status = Worst(statuses...)

	return ds
}

// BuildMasterReport combines its inputs. latest may be nil when no
// diagnostics run has completed yet.
func (a *Aggregator) BuildMasterReport(
	latest *DiagnosticsReport,
	snapshot map[string]health.SensorHealth,
	stats metrics.Snapshot,
) *MasterReport {
	r := &MasterReport{
		GeneratedAt: a.now(),
		DeviceID:    a.deviceID,
		Health:      make(map[string]health.SensorHealth, len(snapshot)),
		Stats:       stats,
	}

	statuses := make([]Status, 0, len(snapshot)+1)

	if latest != nil {
		r.CorrelationID = latest.CorrelationID
		r.StartedAt = latest.StartedAt
		r.EndedAt = latest.EndedAt
		r.Domains = make(map[string][]executor.Result, len(latest.Domains))
		for domain, results := range latest.Domains {
			r.Domains[domain] = append([]executor.Result(nil), results...)
		}
		r.Recommendations = append(r.Recommendations, latest.Recommendations...)
		if latest.Summary.Assessment != nil {
			r.Assessment = Assess(latest.Summary.Assessment.ComponentScores)
		}
		statuses = append(statuses, latest.OverallStatus)
	}

	names := make([]string, 0, len(snapshot))
	for name, h := range snapshot {
		r.Health[name] = h
		names = append(names, name)
		statuses = append(statuses, FromHealthState(h.State))
	}
	sort.Strings(names)

	for _, name := range names {
		switch h := snapshot[name]; h.State {
		case health.StateUnhealthy:
			r.Recommendations = append(r.Recommendations,
				fmt.Sprintf("Sensor %s is unhealthy - check connection and power", name))
		case health.StateDegraded:
			r.Recommendations = append(r.Recommendations,
				fmt.Sprintf("Sensor %s is degraded - monitor closely", name))
		case health.StateHealthy, health.StateUnknown:
			if h.Trend == health.TrendDegrading {
				r.Recommendations = append(r.Recommendations,
					fmt.Sprintf("Sensor %s health is trending down", name))
			}
		}
	}

	if stats.TotalOps > 0 && stats.SuccessRate < 0.9 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Operation success rate is %.0f%% - review failing sensors", stats.SuccessRate*100))
	}

	r.OverallStatus = Worst(statuses...)
	r.Recommendations = dedupe(r.Recommendations)

	return r
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out
}
