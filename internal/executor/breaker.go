package executor

import (
	"sync"
	"time"
)

// BreakerState is the state of one sensor's circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig controls when a breaker opens and how long it stays open.
// The cool-down ends when either CoolDown has elapsed or CoolDownCalls
// requests have been skipped, whichever happens first. A zero value for
// either disables that trigger; with both zero the next request is a trial.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
	CoolDownCalls    int           `mapstructure:"cool_down_calls"`
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		CoolDown:         30 * time.Second,
	}
}

type breaker struct {
	state    BreakerState
	failures int
	skipped  int
	openedAt time.Time
	trial    bool
}

// Breakers holds one breaker per sensor name. A FailureThreshold of zero or
// less disables breaking entirely.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu    sync.Mutex
	items map[string]*breaker
}

func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{
		cfg:   cfg,
		now:   time.Now,
		items: make(map[string]*breaker),
	}
}

func (b *Breakers) enabled() bool {
	return b != nil && b.cfg.FailureThreshold > 0
}

func (b *Breakers) get(name string) *breaker {
	br, ok := b.items[name]
	if !ok {
		br = &breaker{state: BreakerClosed}
		b.items[name] = br
	}

	return br
}

// Allow reports whether a request for name may invoke the sensor. While the
// breaker is open requests are refused until the cool-down ends; then a
// single trial is let through and everything else is refused until that
// trial is recorded.
func (b *Breakers) Allow(name string) bool {
	if !b.enabled() {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(name)

	switch br.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if br.trial {
			return false
		}
		br.trial = true

		return true
	case BreakerOpen:
		if b.coolDownOver(br) {
			br.state = BreakerHalfOpen
			br.trial = true

			return true
		}
		br.skipped++

		return false
	}

	return true
}

func (b *Breakers) coolDownOver(br *breaker) bool {
	if b.cfg.CoolDownCalls <= 0 && b.cfg.CoolDown <= 0 {
		return true
	}
	if b.cfg.CoolDownCalls > 0 && br.skipped >= b.cfg.CoolDownCalls {
		return true
	}

	return b.cfg.CoolDown > 0 && b.now().Sub(br.openedAt) >= b.cfg.CoolDown
}

// Record applies the outcome of an allowed request and returns the new state.
func (b *Breakers) Record(name string, success bool) BreakerState {
	if !b.enabled() {
		return BreakerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(name)
	br.trial = false

	if success {
		br.state = BreakerClosed
		br.failures = 0
		br.skipped = 0

		return br.state
	}

	br.failures++

	switch br.state {
	case BreakerHalfOpen:
		b.open(br)
	case BreakerClosed:
		if br.failures >= b.cfg.FailureThreshold {
			b.open(br)
		}
	case BreakerOpen:
	}

	return br.state
}

func (b *Breakers) open(br *breaker) {
	br.state = BreakerOpen
	br.skipped = 0
	br.openedAt = b.now()
}

// Cancel releases a half-open trial that was allowed but never ran.
func (b *Breakers) Cancel(name string) {
	if !b.enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if br, ok := b.items[name]; ok && br.state == BreakerHalfOpen {
		br.trial = false
	}
}

// State returns the current state for name.
func (b *Breakers) State(name string) BreakerState {
	if !b.enabled() {
		return BreakerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if br, ok := b.items[name]; ok {
		return br.state
	}

	return BreakerClosed
}

// Reset forgets the breaker for name.
func (b *Breakers) Reset(name string) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.items, name)
}
