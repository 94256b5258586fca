// Package scheduler fires "emit update" callbacks at a bounded rate that is
// independent of the render frame rate.
package scheduler

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// EmitFunc is invoked once per scheduler period.
type EmitFunc func()

// Subscription is the handle returned by Subscribe. Cancel must be called
// when the subscriber goes away; it is safe to call more than once.
type Subscription struct {
	id     string
	fn     EmitFunc
	active atomic.Bool
	owner  *Scheduler
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) IsActive() bool { return s.active.Load() }

func (s *Subscription) Cancel() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.owner.remove(s)
}

// Scheduler is a countdown timer driven from a once-per-frame hook. It is not
// safe for concurrent use; all calls happen on the frame thread.
type Scheduler struct {
	rate  float64
	timer float64
	subs  []*Subscription
}

// New returns a scheduler firing updatesPerSecond times per second. A rate of
// zero or less fires on every Tick.
func New(updatesPerSecond float64) *Scheduler {
	return &Scheduler{rate: updatesPerSecond}
}

func (s *Scheduler) Rate() float64 { return s.rate }

// SetRate changes the rate; the current countdown is kept.
func (s *Scheduler) SetRate(updatesPerSecond float64) {
	s.rate = updatesPerSecond
	if s.rate <= 0 {
		s.timer = 0
	}
}

// Interval is the period between emits in seconds, zero when unthrottled.
func (s *Scheduler) Interval() float64 {
	if s.rate <= 0 {
		return 0
	}
	return 1 / s.rate
}

// Len returns the number of active subscriptions.
func (s *Scheduler) Len() int { return len(s.subs) }

// Subscribe registers fn. Subscribers fire in subscription order.
func (s *Scheduler) Subscribe(fn EmitFunc) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		fn:    fn,
		owner: s,
	}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)
	return sub
}

// Tick advances the countdown by dt seconds of real time and fires the
// subscribers when it runs out. It reports whether an emit happened.
func (s *Scheduler) Tick(dt float64) bool {
	if s.rate > 0 {
		s.timer -= dt
		if s.timer > 0 {
			return false
		}
		s.timer += 1 / s.rate
		if s.timer < 0 {
			s.timer = 0
		}
	}
	s.emit()
	return true
}

func (s *Scheduler) emit() {
	// A callback may cancel itself or others; iterate a snapshot and skip
	// anything cancelled mid-flight.
	snapshot := make([]*Subscription, len(s.subs))
	copy(snapshot, s.subs)
	for _, sub := range snapshot {
		if sub.active.Load() {
			sub.fn()
		}
	}
}

func (s *Scheduler) remove(sub *Subscription) {
	for i, candidate := range s.subs {
		if candidate == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}
