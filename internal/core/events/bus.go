package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type Handler func(Event) error

// Bus delivers events synchronously, in subscription order, on the
// publisher's goroutine.
type Bus interface {
	Publish(event Event) error
	Subscribe(typ Type, handler Handler) *Subscription
	Metrics() Metrics
}

type Metrics struct {
	Published   uint64
	Delivered   uint64
	Errors      uint64
	Subscribers int
}

// Subscription is a handle to a registered handler.
type Subscription struct {
	id      string
	typ     Type
	handler Handler
	active  atomic.Bool
	bus     *memoryBus
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Type() Type { return s.typ }

func (s *Subscription) IsActive() bool { return s.active.Load() }

// Cancel removes the handler. Multiple calls are safe, including from
// inside the handler itself.
func (s *Subscription) Cancel() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.bus.remove(s)
}

type memoryBus struct {
	mu       sync.RWMutex
	handlers map[Type][]*Subscription

	published, delivered, errs atomic.Uint64
}

var _ Bus = (*memoryBus)(nil)

func NewBus() Bus {
	return &memoryBus{handlers: make(map[Type][]*Subscription)}
}

func (b *memoryBus) Subscribe(typ Type, handler Handler) *Subscription {
	s := &Subscription{id: uuid.NewString(), typ: typ, handler: handler, bus: b}
	s.active.Store(true)

	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], s)
	b.mu.Unlock()
	return s
}

func (b *memoryBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[s.typ]
	for i, cur := range subs {
		if cur == s {
			b.handlers[s.typ] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish runs every active handler for event.Type and joins their errors.
func (b *memoryBus) Publish(event Event) error {
	b.mu.RLock()
	subs := b.handlers[event.Type]
	b.mu.RUnlock()

	b.published.Add(1)
	var all error
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		b.delivered.Add(1)
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}
	if all != nil {
		b.errs.Add(1)
	}
	return all
}

func (b *memoryBus) Metrics() Metrics {
	b.mu.RLock()
	n := 0
	for _, subs := range b.handlers {
		n += len(subs)
	}
	b.mu.RUnlock()
	return Metrics{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Errors:      b.errs.Load(),
		Subscribers: n,
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }

func (Nop) Subscribe(typ Type, _ Handler) *Subscription {
	return &Subscription{typ: typ, bus: &memoryBus{handlers: map[Type][]*Subscription{}}}
}

func (Nop) Metrics() Metrics { return Metrics{} }
