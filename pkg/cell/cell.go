// Package cell implements the two observable primitives the rest of the
// engine is built on: Cell[T], a single observable value, and Signal[T], a
// fan-out broadcast. Both are reentrancy-safe: a subscriber that triggers
// a further emission on the same Cell/Signal while already being
// dispatched does not recurse; the nested emission is queued and drained
// once the in-flight dispatch returns.
package cell

import (
	"log"
	"sync"
)

// Connection is a scoped subscription handle. Calling Disconnect detaches
// the subscriber; calling it more than once is a no-op.
type Connection struct {
	once   sync.Once
	detach func()
}

// Disconnect severs the subscription. Safe to call multiple times or
// concurrently.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.detach != nil {
			c.detach()
		}
	})
}

type subscriber[T any] struct {
	id int64
	fn func(T)
}

// Signal is a fan-out broadcast: subscribers attach by identity, may
// detach via their Connection, and receive each emitted value in
// subscription order. Delivery is synchronous on the emitter's goroutine.
type Signal[T any] struct {
	mu          sync.Mutex
	subs        []*subscriber[T]
	nextID      int64
	dispatching bool
	pending     []T
}

// NewSignal constructs an empty Signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Connect attaches fn as a subscriber and returns a Connection that detaches
// it when Disconnect is called.
func (s *Signal[T]) Connect(fn func(T)) *Connection {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sub := &subscriber[T]{id: id, fn: fn}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return &Connection{detach: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.subs {
			if existing.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	}}
}

// Emit delivers value to every currently-attached subscriber, in
// subscription order. If Emit is called reentrantly from within a
// subscriber's callback (i.e. while a dispatch on this Signal is already
// in flight), the nested value is queued and delivered after the current
// dispatch completes, rather than recursing.
func (s *Signal[T]) Emit(value T) {
	s.mu.Lock()
	if s.dispatching {
		s.pending = append(s.pending, value)
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	s.mu.Unlock()

	s.dispatchOne(value)

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.dispatchOne(next)
	}
}

func (s *Signal[T]) dispatchOne(value T) {
	s.mu.Lock()
	subsSnapshot := make([]*subscriber[T], len(s.subs))
	copy(subsSnapshot, s.subs)
	s.mu.Unlock()

	for _, sub := range subsSnapshot {
		dispatchRecover(sub.fn, value)
	}
}

// SubscriberCount returns the number of currently-attached subscribers.
func (s *Signal[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Cell holds a single value of type T, supporting Get, Set and Update.
// Changes broadcast through an internal Signal[T]; subscribers observe the
// post-mutation value.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	changed *Signal[T]
}

// NewCell constructs a Cell with the given initial value.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, changed: NewSignal[T]()}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores newValue. If changed reports true, subscribers are notified
// with the new value.
func (c *Cell[T]) Set(newValue T, changed func(old, new T) bool) {
	c.mu.Lock()
	old := c.value
	notify := changed == nil || changed(old, newValue)
	c.value = newValue
	c.mu.Unlock()

	if notify {
		c.changed.Emit(newValue)
	}
}

// Update passes a mutable pointer to the current value to fn. If fn
// returns true, the mutation is committed and subscribers are notified
// with the resulting value.
func (c *Cell[T]) Update(fn func(cur *T) bool) {
	c.mu.Lock()
	shouldNotify := fn(&c.value)
	result := c.value
	c.mu.Unlock()

	if shouldNotify {
		c.changed.Emit(result)
	}
}

// OnChange subscribes fn to value changes, returning a scoped Connection.
func (c *Cell[T]) OnChange(fn func(T)) *Connection {
	return c.changed.Connect(fn)
}

func dispatchRecover[T any](fn func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("cell: recovered panic in subscriber (provider fault): %v", r)
		}
	}()
	fn(value)
}
