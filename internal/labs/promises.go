package labs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/signalsfoundry/reactive-labs/internal/projection"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// Delay emits one value after a fixed delay.
type Delay struct {
	base
	cfg DelayConfig
}

func NewDelay(cfg DelayConfig) *Delay {
	return &Delay{base: base{"delay", "Emit a single value after a delay"}, cfg: cfg}
}

func (l *Delay) Plan(r *scenario.Run) error {
	r.Info(fmt.Sprintf("Waiting %dms", millis(l.cfg.Delay)))
	r.After(l.cfg.Delay, func(r *scenario.Run) (any, error) {
		r.Emit(fmt.Sprintf("emitted %d", l.cfg.Value), l.cfg.Value)
		return l.cfg.Value, nil
	})
	return nil
}

// PromiseAll settles when every call succeeds, or fails on the first rejection,
// abandoning the others.
type PromiseAll struct {
	base
	calls []Call
}

func NewPromiseAll(calls []Call) *PromiseAll {
	return &PromiseAll{base: base{"promise-all", "Fetch everything or fail fast"}, calls: calls}
}

func (l *PromiseAll) Plan(r *scenario.Run) error {
	r.Info(fmt.Sprintf("Waiting for all of %d calls", len(l.calls)))
	values := make([]any, len(l.calls))
	done := 0
	for i, call := range l.calls {
		r.After(call.Delay, func(r *scenario.Run) (any, error) {
			v, err := call.settle(r.Now())
			if err != nil {
				return nil, err
			}
			r.Emit(call.Name+" resolved", v)
			values[i] = v
			done++
			if done == len(l.calls) {
				r.ReplaceResults(values...)
				r.Info("All promises resolved")
			}
			return nil, nil
		})
	}
	return nil
}

// Settled is the outcome of one call in an all-settled run.
type Settled struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// AllSettled waits for every call and reports each outcome. It never fails.
type AllSettled struct {
	base
	calls []Call
}

func NewAllSettled(calls []Call) *AllSettled {
	return &AllSettled{base: base{"all-settled", "Report the status of every call"}, calls: calls}
}

func (l *AllSettled) Projector() projection.Projector { return projection.Payload{} }

func (l *AllSettled) Plan(r *scenario.Run) error {
	pending := make([]any, len(l.calls))
	for i := range l.calls {
		pending[i] = Settled{ID: i + 1, Status: "pending"}
	}
	r.ReplaceResults(pending...)
	r.Info(fmt.Sprintf("Waiting for %d calls to settle", len(l.calls)))

	var fulfilled, rejected int
	for i, call := range l.calls {
		r.After(call.Delay, func(r *scenario.Run) (any, error) {
			v, err := call.settle(r.Now())
			if err != nil {
				rejected++
				r.Warn(fmt.Sprintf("%s rejected: %v", call.Name, err))
				r.SetResult(i, Settled{ID: i + 1, Status: "rejected", Reason: err.Error()})
			} else {
				fulfilled++
				r.Emit(call.Name+" fulfilled", v)
				r.SetResult(i, Settled{ID: i + 1, Status: "fulfilled", Value: v})
			}
			if fulfilled+rejected == len(l.calls) {
				r.Info(fmt.Sprintf("All %d promises settled: %d fulfilled, %d rejected", len(l.calls), fulfilled, rejected))
			}
			return nil, nil
		})
	}
	return nil
}

// TimeoutError is the rejection of the race timeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return "Timeout: Request timed out after " + strconv.FormatFloat(e.After.Seconds(), 'f', -1, 64) + " seconds"
}

// Race runs a slow call against a timeout. The first to settle cancels the other.
type Race struct {
	base
	cfg RaceConfig
}

func NewRace(cfg RaceConfig) *Race {
	return &Race{base: base{"race", "Race a slow call against a timeout"}, cfg: cfg}
}

func (l *Race) Plan(r *scenario.Run) error {
	call := l.cfg.Call
	r.Info(fmt.Sprintf("Racing %s (%dms) against a %dms timeout", call.Name, millis(call.Delay), millis(l.cfg.Timeout)))

	var fetchH, timeoutH sched.Handle
	fetchH = r.After(call.Delay, func(r *scenario.Run) (any, error) {
		if r.Stop(timeoutH) {
			r.Info("Timeout cancelled: " + call.Name + " won the race")
		}
		v, err := call.settle(r.Now())
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return "Success: " + string(b), nil
	})
	timeoutH = r.After(l.cfg.Timeout, func(r *scenario.Run) (any, error) {
		if r.Stop(fetchH) {
			r.Info(call.Name + " cancelled: lost the race to the timeout")
		}
		return nil, &TimeoutError{After: l.cfg.Timeout}
	})
	return nil
}

// MaxAttemptsError ends a retry run that never succeeded.
type MaxAttemptsError struct {
	Attempts int
	Last     error
}

func (e *MaxAttemptsError) Error() string { return "Max attempts reached. Giving up." }

func (e *MaxAttemptsError) Unwrap() error { return e.Last }

// Retry calls an unreliable API until it succeeds or attempts run out.
type Retry struct {
	base
	cfg RetryConfig
}

func NewRetry(cfg RetryConfig) *Retry {
	return &Retry{base: base{"retry", "Retry a flaky call with a bounded number of attempts"}, cfg: cfg}
}

func (l *Retry) Plan(r *scenario.Run) error {
	l.attempt(r)
	return nil
}

func (l *Retry) attempt(r *scenario.Run) {
	n := r.AddCounter("attempts", 1)
	r.Info(fmt.Sprintf("Attempt %d/%d...", n, l.cfg.MaxAttempts))

	call := Call{Name: l.cfg.Name, Delay: l.cfg.Delay, Fail: n <= l.cfg.FailTimes}
	r.After(call.Delay, func(r *scenario.Run) (any, error) {
		v, err := call.settle(r.Now())
		if err != nil {
			r.Error(fmt.Sprintf("Failed on attempt %d: %v", n, err))
			if n >= l.cfg.MaxAttempts {
				return nil, &MaxAttemptsError{Attempts: n, Last: err}
			}
			l.attempt(r)
			return nil, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		r.Emit(fmt.Sprintf("Success on attempt %d: %s", n, b), v)
		return v, nil
	})
}

// EventLoop shows synchronous code, then microtasks, then a macrotask. The
// microtask checkpoint is a single zero-delay stage armed ahead of the
// macrotask, so equal deadlines fire in arming order.
type EventLoop struct {
	base
}

func NewEventLoop() *EventLoop {
	return &EventLoop{base: base{"event-loop", "Order of synchronous code, microtasks and macrotasks"}}
}

func (l *EventLoop) Plan(r *scenario.Run) error {
	var microtasks []string
	queueMicrotask := func(msg string) { microtasks = append(microtasks, msg) }

	r.Info("1. Synchronous code starts")
	queueMicrotask("3. Microtask (Promise.then) executed")
	r.After(0, func(r *scenario.Run) (any, error) {
		for _, msg := range microtasks {
			r.Info(msg)
		}
		return nil, nil
	})
	r.After(0, func(r *scenario.Run) (any, error) {
		r.Info("5. Macrotask (setTimeout) executed")
		return nil, nil
	})
	queueMicrotask("4. Another microtask executed")
	r.Info("2. Synchronous code ends")
	queueMicrotask("Microtask from queueMicrotask executed (after Promises)")
	return nil
}
