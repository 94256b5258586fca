package replication

import (
	"slices"
	"sync"

	"github.com/zeusync/entitysync/pkg/encoding"
)

// Caller sends a remote call addressed to an entity.
type Caller interface {
	Call(call CallID, entity EntityID, payload encoding.Serializable) error
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(call CallID, entity EntityID, payload encoding.Serializable) error

func (f CallerFunc) Call(call CallID, entity EntityID, payload encoding.Serializable) error {
	return f(call, entity, payload)
}

// ChangeFunc observes property writes. first is true for the first value an
// entity ever receives for that property.
type ChangeFunc func(entity EntityID, id PropertyID, value Value, first bool)

// PropertyStore is the replicated property table, indexed per entity by
// property id.
type PropertyStore interface {
	Get(entity EntityID, id PropertyID) (Value, bool)
	Set(entity EntityID, id PropertyID, value Value)
	Watch(fn ChangeFunc) (cancel func())
	Forget(entity EntityID)
}

var _ PropertyStore = (*MemoryStore)(nil)

type watcher struct {
	id int
	fn ChangeFunc
}

type slot struct {
	value   Value
	version uint64
}

// MemoryStore keeps replicated properties in memory. Watchers run
// synchronously inside Set, on the caller's goroutine.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[EntityID]map[PropertyID]*slot
	// watchers holds live subscriptions in registration order.
	watchers []watcher
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[EntityID]map[PropertyID]*slot),
	}
}

func (s *MemoryStore) Get(entity EntityID, id PropertyID) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.entities[entity]
	if !ok {
		return Value{}, false
	}
	sl, ok := props[id]
	if !ok {
		return Value{}, false
	}
	return sl.value, true
}

// Version returns how many times the property was written, zero if never.
func (s *MemoryStore) Version(entity EntityID, id PropertyID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sl, ok := s.entities[entity][id]; ok {
		return sl.version
	}
	return 0
}

func (s *MemoryStore) Set(entity EntityID, id PropertyID, value Value) {
	s.mu.Lock()
	props, ok := s.entities[entity]
	if !ok {
		props = make(map[PropertyID]*slot)
		s.entities[entity] = props
	}
	sl, ok := props[id]
	first := !ok
	if first {
		sl = &slot{}
		props[id] = sl
	}
	sl.value = value
	sl.version++

	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		w.fn(entity, id, value, first)
	}
}

func (s *MemoryStore) Watch(fn ChangeFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers = append(s.watchers, watcher{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		s.watchers = slices.DeleteFunc(s.watchers, func(w watcher) bool { return w.id == id })
		s.mu.Unlock()
	}
}

// Forget drops every property of an entity, so a recreated entity starts
// from scratch.
func (s *MemoryStore) Forget(entity EntityID) {
	s.mu.Lock()
	delete(s.entities, entity)
	s.mu.Unlock()
}
