package metrics

import (
	"sync"
	"time"
)

// Stats is a Recorder keeping running operation counters. Safe for
// concurrent use; the zero value is ready. One lock covers every counter so
// a snapshot never sees a half-applied Record.
type Stats struct {
	mu        sync.Mutex
	total     int64
	successes int64
	timeouts  int64
	skipped   int64
	// Skipped operations never ran and are excluded from the duration sum.
	timed    int64
	duration time.Duration
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Record(outcome Outcome, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++

	switch outcome {
	case OutcomeSuccess:
		s.successes++
	case OutcomeTimeout:
		s.timeouts++
	case OutcomeSkipped:
		s.skipped++
		return
	case OutcomeFailure:
	}

	s.timed++
	s.duration += duration
}

// Snapshot returns the current counters. Failures count every non-success
// outcome, so Successes + Failures == TotalOps.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalOps:  s.total,
		Successes: s.successes,
		Failures:  s.total - s.successes,
		Timeouts:  s.timeouts,
		Skipped:   s.skipped,
	}

	if s.total > 0 {
		snap.SuccessRate = float64(s.successes) / float64(s.total)
	}

	if s.timed > 0 {
		snap.AverageDuration = s.duration / time.Duration(s.timed)
	}

	return snap
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = 0
	s.successes = 0
	s.timeouts = 0
	s.skipped = 0
	s.timed = 0
	s.duration = 0
}

// No-op implementation
type noopRecorder struct{}

// Noop returns a Recorder that drops everything
func Noop() Recorder {
	return noopRecorder{}
}

func (noopRecorder) Record(Outcome, time.Duration) {}
