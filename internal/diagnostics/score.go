package diagnostics

import (
	"math"
	"strings"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/report"
)

const scoredPacketLoss = 5.0

// ComponentScores rates every domain that has something to rate, from 0
// to 100.
func ComponentScores(domains map[string][]executor.Result) map[string]int {
	scores := make(map[string]int, len(domains))

	if results := domains[DomainNetwork]; len(results) > 0 {
		scores[DomainNetwork] = NetworkScore(results)
	}
	if score, ok := SystemScore(domains[DomainSystem]); ok {
		scores[DomainSystem] = score
	}
	if results := domains[DomainSensors]; len(results) > 0 {
		scores[DomainSensors] = SensorScore(results)
	}

	return scores
}

// NetworkScore takes 25 off for a failed ping or DNS test, 10 off for any
// other failed test, and 15 off for a passing ping with noticeable loss.
func NetworkScore(results []executor.Result) int {
	score := 100

	for _, res := range results {
		test := strings.TrimPrefix(res.Sensor, DomainNetwork+".")
		passed := report.Classify(res) == report.StatusHealthy

		switch {
		case !passed && (test == TestPing || test == TestDNS):
			score -= 25
		case !passed:
			score -= 10
		case test == TestPing:
			if ping, ok := res.Payload.(*PingResult); ok && ping.PacketLossPercent > scoredPacketLoss {
				score -= 15
			}
		}
	}

	return max(score, 0)
}

// SystemScore rates the usage measured by the resources and disk tests.
// Both tests keep their measurements when they fail, so a threshold breach
// still counts. ok is false when neither produced a measurement.
func SystemScore(results []executor.Result) (int, bool) {
	var (
		cpuPct, memPct float64
		disks          []DiskUsage
		measured       bool
	)

	for _, res := range results {
		switch p := res.Payload.(type) {
		case *ResourceReport:
			cpuPct, memPct = p.CPUPercent, p.Memory.UsedPercent
			measured = true
		case *DiskReport:
			disks = p.Partitions
			measured = true
		}
	}

	if !measured {
		return 0, false
	}

	return HealthScore(cpuPct, memPct, disks), true
}

// SensorScore is the share of healthy sensor results, with degraded ones
// counting half.
func SensorScore(results []executor.Result) int {
	if len(results) == 0 {
		return 100
	}

	var points float64
	for _, res := range results {
		switch report.Classify(res) {
		case report.StatusHealthy:
			points++
		case report.StatusDegraded:
			points += 0.5
		case report.StatusUnhealthy:
		}
	}

	return int(math.Round(points / float64(len(results)) * 100))
}
