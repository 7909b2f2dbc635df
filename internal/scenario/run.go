package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/logsink"
	"github.com/signalsfoundry/reactive-labs/internal/projection"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// Run is one execution of a Definition. Every stage armed through it is
// bound to it: once the run is no longer the machine's current running run,
// its stages, fetch callbacks and commands do nothing.
//
// Stage bodies are serialised per machine. Do and the machine's Start,
// Cancel, Reset, Close and Command must not be called from inside a stage
// body; return a result or call Succeed/Fail instead.
type Run struct {
	m       *Machine
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	log     logging.Logger
	span    trace.Span
	scope   *sched.Scope
	started time.Time

	mu    sync.Mutex
	holds int
	hooks []func(*Run, State)
	ended bool
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Lab returns the name of the definition being run.
func (r *Run) Lab() string { return r.m.def.Name() }

// Context is cancelled when the run ends. In-flight requests made with it
// are aborted.
func (r *Run) Context() context.Context { return r.ctx }

// Logger returns the run-scoped operational logger.
func (r *Run) Logger() logging.Logger { return r.log }

// Now returns the scheduler clock.
func (r *Run) Now() time.Time { return r.m.sched.Now() }

// Elapsed returns the time since the run started.
func (r *Run) Elapsed() time.Duration { return r.Now().Sub(r.started) }

// Scheduler exposes the scheduler, for collaborators that need to post work.
func (r *Run) Scheduler() *sched.Scheduler { return r.m.sched }

func (r *Run) current() bool {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.run == r
}

// Live reports whether this run is the machine's running run.
func (r *Run) Live() bool {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.run == r && r.m.state == Running
}

// After arms a one-shot stage.
func (r *Run) After(delay time.Duration, fn StageFunc) sched.Handle {
	return r.scope.Schedule(delay, func() { r.Do(fn) })
}

// Every arms a repeating stage. It stays pending until stopped.
func (r *Run) Every(interval time.Duration, fn StageFunc) sched.Handle {
	return r.scope.ScheduleRepeating(interval, func() { r.Do(fn) })
}

// Stop cancels a stage of this run.
func (r *Run) Stop(h sched.Handle) bool {
	return r.scope.Cancel(h)
}

// Detach arms a timer the run does not own: cancelling the run does not stop
// it, only Start, Reset and Close do. fn runs while the run is still the
// current one; its outcome only counts while the run is live.
func (r *Run) Detach(delay time.Duration, fn StageFunc) sched.Handle {
	r.m.mu.Lock()
	scope := r.m.detached
	r.m.mu.Unlock()
	return scope.Schedule(delay, func() {
		r.m.stageMu.Lock()
		defer r.m.stageMu.Unlock()
		if !r.current() {
			return
		}
		result, err := r.call(fn)
		if r.Live() {
			r.complete(result, err)
		}
	})
}

// Hold keeps the run pending until the returned func is called, for work the
// scheduler does not track (user commands, subscriptions). The run settles at
// the end of the next stage that observes nothing pending.
func (r *Run) Hold() (release func()) {
	r.mu.Lock()
	r.holds++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.holds--
			r.mu.Unlock()
		})
	}
}

// Pending returns the number of stages and holds that keep the run going.
func (r *Run) Pending() int {
	r.mu.Lock()
	holds := r.holds
	r.mu.Unlock()
	return r.scope.Pending() + holds
}

// Fetch requests url and handles the response as a stage. The run stays
// pending until the response, or its abort, arrives.
func (r *Run) Fetch(f fetch.Fetcher, url string, fn func(r *Run, resp fetch.Response) (any, error)) fetch.Cancel {
	release := r.Hold()
	cancel := f.Fetch(r.ctx, url, func(resp fetch.Response) {
		release()
		r.Do(func(r *Run) (any, error) { return fn(r, resp) })
	})
	r.OnFinish(func(*Run, State) { cancel() })
	return cancel
}

// Do runs fn as a stage of this run, now. It does nothing once the run is
// over.
func (r *Run) Do(fn StageFunc) {
	r.m.stageMu.Lock()
	defer r.m.stageMu.Unlock()
	if !r.Live() {
		return
	}
	r.m.metrics.StageFired(r.Lab())
	r.span.AddEvent("stage")
	r.complete(r.call(fn))
}

func (r *Run) call(fn StageFunc) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = fmt.Errorf("stage panicked: %w", perr)
				return
			}
			err = fmt.Errorf("stage panicked: %v", p)
		}
	}()
	return fn(r)
}

func (r *Run) complete(result any, err error) {
	if err != nil {
		if fetch.IsAbort(err) {
			r.Info(fmt.Sprintf("Aborted: %v", err))
		} else {
			r.m.metrics.StageFailed(r.Lab())
			r.Fail(err)
			return
		}
	}
	if result != nil {
		r.Project(result)
	}
	r.settle()
}

func (r *Run) settle() {
	if r.Pending() == 0 {
		r.Succeed()
	}
}

func (r *Run) plan() {
	r.complete(r.call(func(r *Run) (any, error) { return nil, r.m.def.Plan(r) }))
}

// Log appends an entry of the given kind to the run's log.
func (r *Run) Log(kind logsink.Kind, message string) {
	r.logValue(kind, message, nil)
}

// Logf is Log with formatting.
func (r *Run) Logf(kind logsink.Kind, format string, args ...any) {
	r.logValue(kind, fmt.Sprintf(format, args...), nil)
}

// Emit records an emission carrying value.
func (r *Run) Emit(message string, value any) {
	r.logValue(logsink.KindEmission, message, value)
}

// Info records an informational entry.
func (r *Run) Info(message string) { r.Log(logsink.KindInfo, message) }

// Warn records a warning entry.
func (r *Run) Warn(message string) { r.Log(logsink.KindWarning, message) }

// Error records an error entry without failing the run.
func (r *Run) Error(message string) { r.Log(logsink.KindError, message) }

func (r *Run) logValue(kind logsink.Kind, message string, value any) {
	if !r.current() {
		return
	}
	r.m.sink.AppendValue(message, kind, value)
	r.m.metrics.LogEntry(r.Lab(), string(kind))
	r.log.Debug(r.ctx, message, logging.String("kind", string(kind)))
}

// Project appends the display form of raw to the results.
func (r *Run) Project(raw any) projection.Display {
	d := r.m.projector.Project(raw)
	if !r.Live() {
		return d
	}
	if d.Placeholder {
		r.Warn(fmt.Sprintf("Could not display result of type %T", raw))
	}
	r.m.mu.Lock()
	r.m.results = append(r.m.results, d)
	r.m.mu.Unlock()
	r.m.changed.Notify()
	return d
}

// SetResult replaces the i-th result, padding with placeholders as needed.
func (r *Run) SetResult(i int, raw any) projection.Display {
	d := r.m.projector.Project(raw)
	if i < 0 || !r.Live() {
		return d
	}
	r.m.mu.Lock()
	for len(r.m.results) <= i {
		r.m.results = append(r.m.results, projection.Placeholder())
	}
	r.m.results[i] = d
	r.m.mu.Unlock()
	r.m.changed.Notify()
	return d
}

// ReplaceResults discards the current results and projects raws in order.
func (r *Run) ReplaceResults(raws ...any) {
	if !r.Live() {
		return
	}
	out := make([]projection.Display, 0, len(raws))
	for _, raw := range raws {
		d := r.m.projector.Project(raw)
		if d.Placeholder {
			r.Warn(fmt.Sprintf("Could not display result of type %T", raw))
		}
		out = append(out, d)
	}
	r.m.mu.Lock()
	r.m.results = out
	r.m.mu.Unlock()
	r.m.changed.Notify()
}

// SetCounter sets a named counter shown alongside the results.
func (r *Run) SetCounter(name string, v int) {
	r.m.mu.Lock()
	if r.m.run != r {
		r.m.mu.Unlock()
		return
	}
	if r.m.counters == nil {
		r.m.counters = make(map[string]int)
	}
	r.m.counters[name] = v
	r.m.mu.Unlock()
	r.m.changed.Notify()
}

// AddCounter increments a named counter and returns its new value.
func (r *Run) AddCounter(name string, delta int) int {
	r.m.mu.Lock()
	if r.m.run != r {
		r.m.mu.Unlock()
		return 0
	}
	if r.m.counters == nil {
		r.m.counters = make(map[string]int)
	}
	r.m.counters[name] += delta
	v := r.m.counters[name]
	r.m.mu.Unlock()
	r.m.changed.Notify()
	return v
}

// Counter returns a named counter.
func (r *Run) Counter(name string) int {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.run != r {
		return 0
	}
	return r.m.counters[name]
}

// OnFinish registers fn to run once when the run ends for any reason,
// including Reset and Close.
func (r *Run) OnFinish(fn func(r *Run, s State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.hooks = append(r.hooks, fn)
}

// Succeed ends the run successfully, releasing any remaining stage.
func (r *Run) Succeed() bool { return r.finish(Succeeded, nil) }

// Fail ends the run with err, which is logged.
func (r *Run) Fail(err error) bool {
	if err == nil {
		err = fmt.Errorf("%s failed", r.Lab())
	}
	return r.finish(Failed, err)
}

func (r *Run) finish(state State, err error) bool {
	r.m.mu.Lock()
	if r.m.run != r || r.m.state != Running {
		r.m.mu.Unlock()
		return false
	}
	r.m.state = state
	if err != nil {
		r.m.lastErr = err
	}
	r.m.mu.Unlock()

	switch state {
	case Failed:
		r.m.sink.Append(err.Error(), logsink.KindError)
		r.m.metrics.LogEntry(r.Lab(), string(logsink.KindError))
		r.log.Warn(r.ctx, "scenario failed", logging.Err(err))
	case Cancelled:
		r.m.sink.Append("Scenario cancelled", logsink.KindInfo)
		r.m.metrics.LogEntry(r.Lab(), string(logsink.KindInfo))
	}
	r.teardown(state, true)
	r.m.changed.Notify()
	return true
}

// teardown releases everything the run holds. It runs once.
func (r *Run) teardown(state State, ran bool) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	released := r.scope.Release()
	r.cancel()
	for _, fn := range hooks {
		fn(r, state)
	}

	if ran {
		elapsed := r.Elapsed()
		r.m.metrics.RunFinished(r.Lab(), state.String(), elapsed)
		r.log.Info(r.ctx, "scenario finished",
			logging.String("state", state.String()),
			logging.Duration("elapsed", elapsed),
			logging.Int("released_stages", released),
		)
	}
	r.span.SetAttributes(attribute.String("state", state.String()))
	if state == Failed {
		if err := r.m.Err(); err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
		}
	}
	r.span.End()
}
