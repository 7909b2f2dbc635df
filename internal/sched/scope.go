package sched

import (
	"sync"
	"time"
)

// Scope groups the timers owned by one consumer (typically one scenario run)
// so they can all be released together. After Release, timers armed through
// the scope never fire and new ones are refused.
type Scope struct {
	s *Scheduler

	mu       sync.Mutex
	handles  map[Handle]struct{}
	released bool
}

// NewScope returns an empty scope over s.
func (s *Scheduler) NewScope() *Scope {
	return &Scope{s: s, handles: make(map[Handle]struct{})}
}

// Schedule arms a one-shot callback owned by the scope.
func (sc *Scope) Schedule(delay time.Duration, f func()) Handle {
	return sc.arm(func(wrapped func()) Handle { return sc.s.Schedule(delay, wrapped) }, f, false)
}

// ScheduleRepeating arms a repeating callback owned by the scope.
func (sc *Scope) ScheduleRepeating(interval time.Duration, f func()) Handle {
	return sc.arm(func(wrapped func()) Handle { return sc.s.ScheduleRepeating(interval, wrapped) }, f, true)
}

func (sc *Scope) arm(register func(func()) Handle, f func(), repeating bool) Handle {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.released {
		return Handle{}
	}

	var h Handle
	h = register(func() {
		sc.mu.Lock()
		if sc.released {
			sc.mu.Unlock()
			return
		}
		if _, live := sc.handles[h]; !live {
			sc.mu.Unlock()
			return
		}
		if !repeating {
			delete(sc.handles, h)
		}
		sc.mu.Unlock()
		f()
	})
	if !h.Valid() {
		return h
	}
	sc.handles[h] = struct{}{}
	return h
}

// Cancel cancels one timer of the scope. Unknown or already-finished handles
// are ignored.
func (sc *Scope) Cancel(h Handle) bool {
	sc.mu.Lock()
	_, live := sc.handles[h]
	delete(sc.handles, h)
	sc.mu.Unlock()
	if !live {
		return false
	}
	return sc.s.Cancel(h)
}

// Owns reports whether h is a live timer of this scope.
func (sc *Scope) Owns(h Handle) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.handles[h]
	return ok
}

// Pending returns the number of live timers in the scope.
func (sc *Scope) Pending() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.handles)
}

// Release cancels every live timer and closes the scope. It returns the number
// of timers that were cancelled. Calling it again is a no-op.
func (sc *Scope) Release() int {
	sc.mu.Lock()
	if sc.released {
		sc.mu.Unlock()
		return 0
	}
	sc.released = true
	handles := make([]Handle, 0, len(sc.handles))
	for h := range sc.handles {
		handles = append(handles, h)
	}
	sc.handles = nil
	sc.mu.Unlock()

	n := 0
	for _, h := range handles {
		if sc.s.Cancel(h) {
			n++
		}
	}
	return n
}

// Released reports whether Release has been called.
func (sc *Scope) Released() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.released
}
