package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreakers(BreakerConfig{FailureThreshold: 3, CoolDownCalls: 2})

	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow("lidar"))
		assert.Equal(t, BreakerClosed, b.Record("lidar", false))
	}

	assert.True(t, b.Allow("lidar"))
	assert.Equal(t, BreakerOpen, b.Record("lidar", false))

	// Cool-down of two skipped calls, then exactly one trial
	assert.False(t, b.Allow("lidar"))
	assert.False(t, b.Allow("lidar"))
	assert.True(t, b.Allow("lidar"))
	assert.Equal(t, BreakerHalfOpen, b.State("lidar"))
	assert.False(t, b.Allow("lidar"), "only one trial while half-open")

	// Failed trial restarts the cool-down
	assert.Equal(t, BreakerOpen, b.Record("lidar", false))
	assert.False(t, b.Allow("lidar"))
	assert.False(t, b.Allow("lidar"))
	assert.True(t, b.Allow("lidar"))

	// Successful trial closes
	assert.Equal(t, BreakerClosed, b.Record("lidar", true))
	assert.True(t, b.Allow("lidar"))
	assert.True(t, b.Allow("lidar"))
}

func TestBreakerTimeCoolDown(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreakers(BreakerConfig{FailureThreshold: 1, CoolDown: time.Minute})
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow("cam"))
	b.Record("cam", false)

	assert.False(t, b.Allow("cam"))
	now = now.Add(59 * time.Second)
	assert.False(t, b.Allow("cam"))
	now = now.Add(time.Second)
	assert.True(t, b.Allow("cam"))
}

func TestBreakerCancelReleasesTrial(t *testing.T) {
	b := NewBreakers(BreakerConfig{FailureThreshold: 1})

	b.Allow("cam")
	b.Record("cam", false)

	assert.True(t, b.Allow("cam"))
	assert.False(t, b.Allow("cam"))
	b.Cancel("cam")
	assert.True(t, b.Allow("cam"))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreakers(BreakerConfig{FailureThreshold: 2, CoolDownCalls: 1})

	b.Record("cam", false)
	b.Record("cam", true)
	assert.Equal(t, BreakerClosed, b.Record("cam", false))
	assert.Equal(t, BreakerOpen, b.Record("cam", false))

	b.Reset("cam")
	assert.Equal(t, BreakerClosed, b.State("cam"))
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreakers(BreakerConfig{})

	for i := 0; i < 10; i++ {
		b.Record("cam", false)
	}
	assert.True(t, b.Allow("cam"))
}
