package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SixtyPerSecond(t *testing.T) {
	s := New(60)
	fired := 0
	s.Subscribe(func() { fired++ })

	for i := 0; i < 60; i++ {
		s.Tick(1.0 / 60)
	}
	assert.InDelta(t, 60, fired, 1)
}

func TestScheduler_HighFrameRateIsThrottled(t *testing.T) {
	s := New(10)
	fired := 0
	s.Subscribe(func() { fired++ })

	for i := 0; i < 144; i++ {
		s.Tick(1.0 / 144)
	}
	assert.InDelta(t, 10, fired, 1)
}

func TestScheduler_UnthrottledFiresEveryFrame(t *testing.T) {
	for _, rate := range []float64{0, -5} {
		s := New(rate)
		fired := 0
		s.Subscribe(func() { fired++ })
		for i := 0; i < 17; i++ {
			s.Tick(0.003)
		}
		assert.Equal(t, 17, fired)
	}
}

func TestScheduler_StallDoesNotBurst(t *testing.T) {
	s := New(20)
	fired := 0
	s.Subscribe(func() { fired++ })

	s.Tick(5) // long hitch
	assert.Equal(t, 1, fired)

	// The timer was clamped to zero, so the next frame fires once and then
	// the regular period resumes.
	s.Tick(0.001)
	assert.Equal(t, 2, fired)
	s.Tick(0.01)
	assert.Equal(t, 2, fired)
}

func TestSubscription_Cancel(t *testing.T) {
	s := New(0)
	var a, b int
	subA := s.Subscribe(func() { a++ })
	s.Subscribe(func() { b++ })
	require.Equal(t, 2, s.Len())

	s.Tick(0.016)
	subA.Cancel()
	subA.Cancel()
	s.Tick(0.016)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, 1, s.Len())
	assert.False(t, subA.IsActive())
	assert.NotEmpty(t, subA.ID())
}

func TestSubscription_CancelDuringEmit(t *testing.T) {
	s := New(0)
	var second *Subscription
	calls := 0
	s.Subscribe(func() { second.Cancel() })
	second = s.Subscribe(func() { calls++ })

	s.Tick(0.016)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, s.Len())
}
