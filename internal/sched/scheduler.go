package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/reactive-labs/timectrl"
)

// Handle identifies a scheduled callback. The zero Handle is never issued and
// cancelling it is a no-op.
type Handle struct {
	id uint64
}

// Valid reports whether h was issued by a scheduler.
func (h Handle) Valid() bool { return h.id != 0 }

func (h Handle) String() string { return fmt.Sprintf("ev-%d", h.id) }

// ErrorHandler receives failures recovered from scheduled callbacks.
type ErrorHandler func(h Handle, err error)

// ActionError wraps a panic recovered from a scheduled callback.
type ActionError struct {
	Handle Handle
	Value  any
}

func (e *ActionError) Error() string {
	if err, ok := e.Value.(error); ok {
		return fmt.Sprintf("timer action %s failed: %v", e.Handle, err)
	}
	return fmt.Sprintf("timer action %s failed: %v", e.Handle, e.Value)
}

// Unwrap exposes a panicked error value to errors.Is / errors.As.
func (e *ActionError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

type scheduledEvent struct {
	id       uint64
	seq      uint64 // registration order, used to break deadline ties
	when     time.Time
	interval time.Duration // zero for one-shot events
	f        func()

	cancelled bool
}

// Scheduler runs callbacks at simulation times derived from a SimClock.
// Callbacks with an earlier deadline run first; equal deadlines run in
// registration order. Callbacks always run outside the scheduler lock so
// they may schedule or cancel further work.
type Scheduler struct {
	clock  timectrl.SimClock
	manual *timectrl.ManualClock

	mu      sync.Mutex
	counter uint64
	seq     uint64
	events  []*scheduledEvent // ordered by (when, seq)
	index   map[uint64]*scheduledEvent
	closed  bool
	onError ErrorHandler
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithErrorHandler installs the callback invoked when a scheduled action panics.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// New creates a scheduler backed by clock. When clock is a *timectrl.ManualClock
// Advance and AdvanceTo step it deterministically; otherwise the caller moves
// time (usually a TimeController) and calls RunDue.
func New(clock timectrl.SimClock, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock: clock,
		index: make(map[uint64]*scheduledEvent),
	}
	if m, ok := clock.(*timectrl.ManualClock); ok {
		s.manual = m
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSimulated creates a scheduler over a fresh ManualClock starting at start.
func NewSimulated(start time.Time, opts ...Option) *Scheduler {
	return New(timectrl.NewManualClock(start), opts...)
}

// Clock returns the clock the scheduler reads.
func (s *Scheduler) Clock() timectrl.SimClock { return s.clock }

// Now returns the current simulation time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Schedule registers f to run once, delay after the current time. Negative
// delays are treated as zero.
func (s *Scheduler) Schedule(delay time.Duration, f func()) Handle {
	if delay < 0 {
		delay = 0
	}
	return s.add(delay, 0, f)
}

// ScheduleRepeating registers f to run every interval until cancelled.
// Intervals below one millisecond are raised to one millisecond.
func (s *Scheduler) ScheduleRepeating(interval time.Duration, f func()) Handle {
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return s.add(interval, interval, f)
}

// Post runs f on the scheduler's next pass at the current time. It is the
// way goroutines outside the scheduling loop hand results back into it.
func (s *Scheduler) Post(f func()) Handle {
	return s.Schedule(0, f)
}

func (s *Scheduler) add(delay, interval time.Duration, f func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Handle{}
	}
	s.counter++
	h := Handle{id: s.counter}

	ev := &scheduledEvent{
		id:       h.id,
		when:     s.clock.Now().Add(delay),
		interval: interval,
		f:        f,
	}
	s.addEventLocked(ev)
	s.index[ev.id] = ev
	return h
}

// addEventLocked inserts ev after every event with a deadline <= ev.when.
// Caller must hold s.mu.
func (s *Scheduler) addEventLocked(ev *scheduledEvent) {
	s.seq++
	ev.seq = s.seq

	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel stops h from firing again. It is a no-op for unknown handles,
// handles that were already cancelled and one-shot handles that already ran.
// It reports whether a pending callback was actually cancelled.
func (s *Scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[h.id]
	if !ok {
		return false
	}
	ev.cancelled = true
	delete(s.index, h.id)
	// Removal from s.events is lazy; the run loop skips cancelled events.
	return true
}

// Active reports whether h is still pending.
func (s *Scheduler) Active(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[h.id]
	return ok
}

// Pending returns the number of callbacks that have not yet fired or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// NextDeadline returns the earliest pending deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

// Closed reports whether Close has been called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels every pending callback. Later Schedule calls return the zero
// Handle.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		ev.cancelled = true
	}
	s.events = nil
	s.index = make(map[uint64]*scheduledEvent)
	s.closed = true
}

// popDueLocked removes and returns the earliest live event due at or before
// limit. Repeating events are re-armed before being returned.
// Caller must hold s.mu.
func (s *Scheduler) popDueLocked(limit time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(limit) {
			return nil
		}
		s.events = s.events[1:]

		if ev.interval > 0 {
			next := &scheduledEvent{
				id:       ev.id,
				when:     ev.when.Add(ev.interval),
				interval: ev.interval,
				f:        ev.f,
			}
			s.addEventLocked(next)
			s.index[ev.id] = next
		} else {
			delete(s.index, ev.id)
		}
		return ev
	}
	return nil
}

// RunDue executes all callbacks whose deadline is <= Now(). Callbacks
// scheduled by a running callback that are already due run in the same pass.
func (s *Scheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}
		s.invoke(ev)
	}
}

// AdvanceTo moves a manual clock to t one deadline at a time, so each callback
// observes Now() equal to its own deadline. Time never moves backwards. With a
// non-manual clock it simply runs due callbacks.
func (s *Scheduler) AdvanceTo(t time.Time) {
	if s.manual == nil {
		s.RunDue()
		return
	}
	if t.Before(s.manual.Now()) {
		t = s.manual.Now()
	}
	for {
		s.mu.Lock()
		ev := s.popDueLocked(t)
		if ev == nil {
			s.mu.Unlock()
			s.manual.Set(t)
			return
		}
		s.manual.Set(ev.when)
		s.mu.Unlock()
		s.invoke(ev)
	}
}

// Advance moves simulation time forward by d and runs everything that became due.
func (s *Scheduler) Advance(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.AdvanceTo(s.Now().Add(d))
}

func (s *Scheduler) invoke(ev *scheduledEvent) {
	if ev.f == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := &ActionError{Handle: Handle{id: ev.id}, Value: r}
			if s.onError != nil {
				s.onError(err.Handle, err)
			}
		}
	}()
	ev.f()
}
