package reactive

import (
	"reflect"
	"sync"
)

// Value is a signal-like container: reads are plain, writes notify listeners
// when the value actually changed.
type Value[T any] struct {
	mu    sync.RWMutex
	value T
	equal func(a, b T) bool

	h hub[T]
}

// NewValue creates a Value holding initial. Changes are detected with
// reflect.DeepEqual unless WithEquals overrides it.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{value: initial}
}

// WithEquals sets a custom equality function and returns v.
func (v *Value[T]) WithEquals(fn func(a, b T) bool) *Value[T] {
	v.equal = fn
	return v
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value and notifies listeners if it changed.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) T { return next })
}

// Update applies fn to the current value and notifies listeners if the result differs.
func (v *Value[T]) Update(fn func(T) T) {
	v.mu.Lock()
	old := v.value
	next := fn(old)
	changed := !v.equals(old, next)
	if changed {
		v.value = next
	}
	v.mu.Unlock()

	if changed {
		v.h.mu.Lock()
		entries := v.h.snapshotLocked()
		v.h.mu.Unlock()
		deliver(entries, next)
	}
}

// Subscribe registers fn to be called with every new value. The current value
// is not replayed.
func (v *Value[T]) Subscribe(fn func(T)) *Subscription {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return v.h.add(Observer[T]{Next: fn})
}

// Listeners returns the number of live listeners.
func (v *Value[T]) Listeners() int {
	v.h.mu.Lock()
	defer v.h.mu.Unlock()
	return len(v.h.observers)
}

func (v *Value[T]) equals(a, b T) bool {
	if v.equal != nil {
		return v.equal(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// Notifier is a value-less change broadcaster used by owners whose state is
// read through accessors rather than pushed.
type Notifier struct {
	h hub[struct{}]
}

// Subscribe registers fn to be called on every Notify.
func (n *Notifier) Subscribe(fn func()) *Subscription {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	return n.h.add(Observer[struct{}]{Next: func(struct{}) { fn() }})
}

// Notify calls every registered listener in subscription order.
func (n *Notifier) Notify() {
	n.h.mu.Lock()
	entries := n.h.snapshotLocked()
	n.h.mu.Unlock()
	deliver(entries, struct{}{})
}

// Listeners returns the number of live listeners.
func (n *Notifier) Listeners() int {
	n.h.mu.Lock()
	defer n.h.mu.Unlock()
	return len(n.h.observers)
}
