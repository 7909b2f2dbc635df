package reactive

import "sync"

// Observer receives values pushed by a source. Either callback may be nil.
type Observer[T any] struct {
	Next     func(T)
	Complete func()
}

// Source is implemented by every subject variant.
type Source[T any] interface {
	Subscribe(o Observer[T]) *Subscription
	Next(v T)
	Complete()
	Completed() bool
	Observers() int
}

type entry[T any] struct {
	sub *Subscription
	obs Observer[T]
}

// hub is the observer list shared by the subject variants. Observers are kept
// in subscription order and notified from a copy so callbacks may subscribe
// or unsubscribe.
type hub[T any] struct {
	mu        sync.Mutex
	observers []entry[T]
	completed bool
}

func (h *hub[T]) add(o Observer[T]) *Subscription {
	var sub *Subscription
	sub = newSubscription(func() { h.remove(sub.id) })
	h.observers = append(h.observers, entry[T]{sub: sub, obs: o})
	return sub
}

func (h *hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.observers {
		if e.sub.id == id {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			return
		}
	}
}

func (h *hub[T]) snapshotLocked() []entry[T] {
	out := make([]entry[T], len(h.observers))
	copy(out, h.observers)
	return out
}

func deliver[T any](entries []entry[T], v T) {
	for _, e := range entries {
		if e.sub.Closed() {
			continue
		}
		if e.obs.Next != nil {
			e.obs.Next(v)
		}
	}
}

func finish[T any](entries []entry[T]) {
	for _, e := range entries {
		if e.sub.Closed() {
			continue
		}
		e.sub.markClosed()
		if e.obs.Complete != nil {
			e.obs.Complete()
		}
	}
}

func closedSubscription() *Subscription {
	s := newSubscription(nil)
	s.markClosed()
	return s
}

// Subject multicasts values to the observers subscribed at the time of each
// Next. Late subscribers miss earlier values.
type Subject[T any] struct {
	h hub[T]
}

// NewSubject returns an empty subject.
func NewSubject[T any]() *Subject[T] { return &Subject[T]{} }

// Subscribe registers o. Subscribing to a completed subject only delivers Complete.
func (s *Subject[T]) Subscribe(o Observer[T]) *Subscription {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		if o.Complete != nil {
			o.Complete()
		}
		return closedSubscription()
	}
	sub := s.h.add(o)
	s.h.mu.Unlock()
	return sub
}

// Next pushes v to every current observer. Ignored after Complete.
func (s *Subject[T]) Next(v T) {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	entries := s.h.snapshotLocked()
	s.h.mu.Unlock()
	deliver(entries, v)
}

// Complete notifies observers and seals the subject.
func (s *Subject[T]) Complete() {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	s.h.completed = true
	entries := s.h.snapshotLocked()
	s.h.observers = nil
	s.h.mu.Unlock()
	finish(entries)
}

// Completed reports whether Complete has been called.
func (s *Subject[T]) Completed() bool {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.completed
}

// Observers returns the number of live observers.
func (s *Subject[T]) Observers() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return len(s.h.observers)
}

// BehaviorSubject holds a current value which every new subscriber receives
// immediately.
type BehaviorSubject[T any] struct {
	h       hub[T]
	current T
}

// NewBehaviorSubject returns a subject seeded with initial.
func NewBehaviorSubject[T any](initial T) *BehaviorSubject[T] {
	return &BehaviorSubject[T]{current: initial}
}

// Value returns the current value.
func (s *BehaviorSubject[T]) Value() T {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.current
}

// Subscribe registers o and replays the current value to it.
func (s *BehaviorSubject[T]) Subscribe(o Observer[T]) *Subscription {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		if o.Complete != nil {
			o.Complete()
		}
		return closedSubscription()
	}
	sub := s.h.add(o)
	current := s.current
	s.h.mu.Unlock()

	if o.Next != nil {
		o.Next(current)
	}
	return sub
}

// Next stores v and pushes it to every observer.
func (s *BehaviorSubject[T]) Next(v T) {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	s.current = v
	entries := s.h.snapshotLocked()
	s.h.mu.Unlock()
	deliver(entries, v)
}

// Complete notifies observers and seals the subject.
func (s *BehaviorSubject[T]) Complete() {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	s.h.completed = true
	entries := s.h.snapshotLocked()
	s.h.observers = nil
	s.h.mu.Unlock()
	finish(entries)
}

// Completed reports whether Complete has been called.
func (s *BehaviorSubject[T]) Completed() bool {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.completed
}

// Observers returns the number of live observers.
func (s *BehaviorSubject[T]) Observers() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return len(s.h.observers)
}

// ReplaySubject buffers the last Size values and replays them to new
// subscribers, including after completion.
type ReplaySubject[T any] struct {
	h      hub[T]
	size   int
	buffer []T
}

// NewReplaySubject returns a subject replaying up to size values. A size
// below one is treated as one.
func NewReplaySubject[T any](size int) *ReplaySubject[T] {
	if size < 1 {
		size = 1
	}
	return &ReplaySubject[T]{size: size}
}

// Subscribe registers o and replays the buffered values in emission order.
func (s *ReplaySubject[T]) Subscribe(o Observer[T]) *Subscription {
	s.h.mu.Lock()
	replay := make([]T, len(s.buffer))
	copy(replay, s.buffer)
	completed := s.h.completed
	var sub *Subscription
	if completed {
		sub = closedSubscription()
	} else {
		sub = s.h.add(o)
	}
	s.h.mu.Unlock()

	if o.Next != nil {
		for _, v := range replay {
			if !completed && sub.Closed() {
				break
			}
			o.Next(v)
		}
	}
	if completed && o.Complete != nil {
		o.Complete()
	}
	return sub
}

// Next buffers v and pushes it to every observer.
func (s *ReplaySubject[T]) Next(v T) {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	s.buffer = append(s.buffer, v)
	if len(s.buffer) > s.size {
		s.buffer = s.buffer[len(s.buffer)-s.size:]
	}
	entries := s.h.snapshotLocked()
	s.h.mu.Unlock()
	deliver(entries, v)
}

// Complete notifies observers and seals the subject. The buffer is kept.
func (s *ReplaySubject[T]) Complete() {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	s.h.completed = true
	entries := s.h.snapshotLocked()
	s.h.observers = nil
	s.h.mu.Unlock()
	finish(entries)
}

// Completed reports whether Complete has been called.
func (s *ReplaySubject[T]) Completed() bool {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.completed
}

// Observers returns the number of live observers.
func (s *ReplaySubject[T]) Observers() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return len(s.h.observers)
}

// AsyncSubject delivers only the last value, and only once Complete is called.
// Subscribers arriving after completion receive that value immediately.
type AsyncSubject[T any] struct {
	h        hub[T]
	last     T
	hasValue bool
}

// NewAsyncSubject returns an empty async subject.
func NewAsyncSubject[T any]() *AsyncSubject[T] { return &AsyncSubject[T]{} }

// Subscribe registers o.
func (s *AsyncSubject[T]) Subscribe(o Observer[T]) *Subscription {
	s.h.mu.Lock()
	if s.h.completed {
		last, has := s.last, s.hasValue
		s.h.mu.Unlock()
		if has && o.Next != nil {
			o.Next(last)
		}
		if o.Complete != nil {
			o.Complete()
		}
		return closedSubscription()
	}
	sub := s.h.add(o)
	s.h.mu.Unlock()
	return sub
}

// Next records v as the candidate final value. Nothing is delivered yet.
func (s *AsyncSubject[T]) Next(v T) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if s.h.completed {
		return
	}
	s.last = v
	s.hasValue = true
}

// Complete delivers the last value (if any) and then completion.
func (s *AsyncSubject[T]) Complete() {
	s.h.mu.Lock()
	if s.h.completed {
		s.h.mu.Unlock()
		return
	}
	s.h.completed = true
	entries := s.h.snapshotLocked()
	s.h.observers = nil
	last, has := s.last, s.hasValue
	s.h.mu.Unlock()

	if has {
		deliver(entries, last)
	}
	finish(entries)
}

// Completed reports whether Complete has been called.
func (s *AsyncSubject[T]) Completed() bool {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.completed
}

// Observers returns the number of live observers.
func (s *AsyncSubject[T]) Observers() int {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return len(s.h.observers)
}

var (
	_ Source[int] = (*Subject[int])(nil)
	_ Source[int] = (*BehaviorSubject[int])(nil)
	_ Source[int] = (*ReplaySubject[int])(nil)
	_ Source[int] = (*AsyncSubject[int])(nil)
)
