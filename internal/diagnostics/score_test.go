package diagnostics

import (
	"testing"

	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/stretchr/testify/assert"
)

func networkResult(test string, status executor.Status, payload any) executor.Result {
	return executor.Result{
		Sensor:  ProbeName(DomainNetwork, test),
		Kind:    sensor.KindCollect,
		Status:  status,
		Payload: payload,
	}
}

func TestNetworkScore(t *testing.T) {
	tests := []struct {
		name    string
		results []executor.Result
		want    int
	}{
		{
			name: "all passing",
			results: []executor.Result{
				networkResult(TestPing, executor.StatusSuccess, &PingResult{}),
				networkResult(TestDNS, executor.StatusSuccess, nil),
			},
			want: 100,
		},
		{
			name: "failed ping and ports",
			results: []executor.Result{
				networkResult(TestPing, executor.StatusFailure, &PingResult{PacketLossPercent: 100}),
				networkResult(TestPorts, executor.StatusTimeout, nil),
			},
			want: 65,
		},
		{
			name: "passing ping with loss",
			results: []executor.Result{
				networkResult(TestPing, executor.StatusSuccess, &PingResult{PacketLossPercent: 6}),
				networkResult(TestInterfaces, executor.StatusFailure, nil),
			},
			want: 75,
		},
		{
			name: "never below zero",
			results: []executor.Result{
				networkResult(TestPing, executor.StatusFailure, nil),
				networkResult(TestDNS, executor.StatusFailure, nil),
				networkResult(TestPing, executor.StatusSkipped, nil),
				networkResult(TestDNS, executor.StatusTimeout, nil),
				networkResult(TestPorts, executor.StatusFailure, nil),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NetworkScore(tt.results))
		})
	}
}

func TestSystemScoreUsesFailedMeasurements(t *testing.T) {
	_, ok := SystemScore([]executor.Result{
		{Sensor: "system.host", Status: executor.StatusSuccess, Payload: HostInfo{}},
	})
	assert.False(t, ok)

	score, ok := SystemScore([]executor.Result{
		{Sensor: "system.resources", Status: executor.StatusFailure,
			Payload: &ResourceReport{CPUPercent: 95, Memory: MemoryUsage{UsedPercent: 85}}},
		{Sensor: "system.disk", Status: executor.StatusSuccess,
			Payload: &DiskReport{Partitions: []DiskUsage{{UsedPercent: 90}}}},
	})
	assert.True(t, ok)
	assert.Equal(t, 65, score)
}

func TestComponentScores(t *testing.T) {
	sensors := []executor.Result{
		{Sensor: "camera", Status: executor.StatusSuccess},
		{Sensor: "lidar", Status: executor.StatusSkipped},
	}

	scores := ComponentScores(map[string][]executor.Result{
		DomainNetwork: {networkResult(TestDNS, executor.StatusFailure, nil)},
		DomainSystem:  {},
		DomainSensors: sensors,
	})

	assert.Equal(t, map[string]int{DomainNetwork: 75, DomainSensors: 75}, scores)
}
