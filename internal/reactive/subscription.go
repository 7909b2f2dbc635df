// Package reactive provides the small push-based primitives the labs are built
// from: subjects that multicast values to observers, and Value, a signal-like
// holder that notifies listeners when it changes.
//
// Delivery is synchronous and in subscription order. Nothing here starts a
// goroutine; callers that need asynchrony post through the scheduler.
package reactive

import (
	"sync"
	"sync/atomic"
)

var lastID atomic.Uint64

func nextID() uint64 { return lastID.Add(1) }

// Subscription is the handle returned by every Subscribe call. Unsubscribe is
// idempotent.
type Subscription struct {
	id uint64

	once   sync.Once
	closed atomic.Bool
	detach func()
}

func newSubscription(detach func()) *Subscription {
	return &Subscription{id: nextID(), detach: detach}
}

// NewSubscription wraps an arbitrary detach func, for owners that combine
// several underlying subscriptions into one handle.
func NewSubscription(detach func()) *Subscription {
	return newSubscription(detach)
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Unsubscribe detaches the observer. Calling it more than once, or on a nil
// subscription, does nothing.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.closed.Store(true)
		if s.detach != nil {
			s.detach()
		}
	})
}

// Closed reports whether Unsubscribe has been called or the source completed.
func (s *Subscription) Closed() bool {
	return s == nil || s.closed.Load()
}

func (s *Subscription) markClosed() { s.closed.Store(true) }

// Bag collects subscriptions so an owner can release them in one call, the
// way a component unsubscribes everything on teardown.
type Bag struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add records sub. Nil subscriptions are ignored.
func (b *Bag) Add(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Len returns the number of collected subscriptions.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Release unsubscribes everything and empties the bag.
func (b *Bag) Release() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
