package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is the clock abstraction shared by the scheduler, the log sink and
// the scenario machine. Production wiring passes a TimeController; tests pass
// a ManualClock and move it explicitly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated steps by Tick on every acceleratedInterval of wall time.
	Accelerated
)

// acceleratedInterval paces Accelerated mode so it never spins.
const acceleratedInterval = time.Millisecond

// ParseMode maps a config string onto a Mode. Unknown values report ok=false.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "realtime", "real-time":
		return RealTime, true
	case "accelerated":
		return Accelerated, true
	default:
		return RealTime, false
	}
}

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController drives simulation time and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime repositions the controller, e.g. when a host resumes a paused session.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked on every tick, after the clock has
// moved. The scheduler's RunDue is the usual listener.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run advances time until ctx is done or, when duration is positive, until
// that much simulation time has elapsed.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	tc.mu.Lock()
	simTime := tc.currentTime
	tc.mu.Unlock()

	elapsed := time.Duration(0)

	ticker := time.NewTicker(tc.wallInterval())
	defer ticker.Stop()

	for {
		if duration > 0 && elapsed >= duration {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		simTime = simTime.Add(tc.Tick)
		elapsed += tc.Tick

		tc.mu.Lock()
		tc.currentTime = simTime
		listeners := make([]func(time.Time), len(tc.listeners))
		copy(listeners, tc.listeners)
		tc.mu.Unlock()

		for _, fn := range listeners {
			fn(simTime)
		}
	}
}

// wallInterval is how much wall time passes between ticks.
func (tc *TimeController) wallInterval() time.Duration {
	if tc.Mode == Accelerated && tc.Tick > acceleratedInterval {
		return acceleratedInterval
	}
	return tc.Tick
}

// Start runs the controller for the specified duration in a separate goroutine.
// It returns a channel that is closed when the controller finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tc.Run(context.Background(), duration)
	}()
	return done
}

// ManualClock is a SimClock that only moves when told to. Time is monotonic:
// attempts to move it backwards are ignored.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t unless t is in the past.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return
	}
	c.now = t
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// WallClock reports wall-clock time.
type WallClock struct{}

// Now implements SimClock.
func (WallClock) Now() time.Time { return time.Now() }
