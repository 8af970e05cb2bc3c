package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()

	s.Record(OutcomeSuccess, 10*time.Millisecond)
	s.Record(OutcomeSuccess, 30*time.Millisecond)
	s.Record(OutcomeFailure, 20*time.Millisecond)
	s.Record(OutcomeTimeout, 100*time.Millisecond)
	s.Record(OutcomeSkipped, 0)

	snap := s.Snapshot()
	assert.EqualValues(t, 5, snap.TotalOps)
	assert.EqualValues(t, 2, snap.Successes)
	assert.EqualValues(t, 3, snap.Failures)
	assert.EqualValues(t, 1, snap.Timeouts)
	assert.EqualValues(t, 1, snap.Skipped)
	assert.InDelta(t, 0.4, snap.SuccessRate, 1e-9)
	assert.Equal(t, 40*time.Millisecond, snap.AverageDuration)
}

func TestStatsEmpty(t *testing.T) {
	snap := NewStats().Snapshot()
	assert.Zero(t, snap.TotalOps)
	assert.Zero(t, snap.SuccessRate)
	assert.Zero(t, snap.AverageDuration)
}

func TestStatsConcurrent(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Record(OutcomeSuccess, time.Millisecond)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.EqualValues(t, 100, snap.TotalOps)
	assert.InDelta(t, 1.0, snap.SuccessRate, 1e-9)

	s.Reset()
	assert.Zero(t, s.Snapshot().TotalOps)
}

func TestStatsSnapshotConsistentUnderLoad(t *testing.T) {
	s := NewStats()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(outcome Outcome) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					s.Record(outcome, time.Microsecond)
				}
			}
		}([]Outcome{OutcomeSuccess, OutcomeFailure, OutcomeTimeout, OutcomeSkipped}[i])
	}

	for i := 0; i < 20000; i++ {
		snap := s.Snapshot()
		assert.GreaterOrEqual(t, snap.Failures, int64(0))
		assert.LessOrEqual(t, snap.SuccessRate, 1.0)
		assert.Equal(t, snap.TotalOps, snap.Successes+snap.Failures)
		assert.LessOrEqual(t, snap.Timeouts+snap.Skipped, snap.Failures)
	}

	close(done)
	wg.Wait()
}
