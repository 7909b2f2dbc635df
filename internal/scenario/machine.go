package scenario

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/logsink"
	"github.com/signalsfoundry/reactive-labs/internal/projection"
	"github.com/signalsfoundry/reactive-labs/internal/reactive"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

const tracerName = "github.com/signalsfoundry/reactive-labs/internal/scenario"

// Recorder receives lifecycle events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RunStarted(lab string)
	RunFinished(lab string, state string, elapsed time.Duration)
	StageFired(lab string)
	StageFailed(lab string)
	LogEntry(lab string, kind string)
}

type noopRecorder struct{}

func (noopRecorder) RunStarted(string)                         {}
func (noopRecorder) RunFinished(string, string, time.Duration) {}
func (noopRecorder) StageFired(string)                         {}
func (noopRecorder) StageFailed(string)                        {}
func (noopRecorder) LogEntry(string, string)                   {}

// Snapshot is a point-in-time copy of a machine, safe to serialise.
type Snapshot struct {
	Lab         string             `json:"lab" yaml:"lab"`
	Description string             `json:"description" yaml:"description"`
	State       State              `json:"state" yaml:"state"`
	RunID       string             `json:"runId,omitempty" yaml:"runId,omitempty"`
	Error       string             `json:"error,omitempty" yaml:"error,omitempty"`
	Results     []string           `json:"results" yaml:"results"`
	Counters    map[string]int     `json:"counters,omitempty" yaml:"counters,omitempty"`
	Commands    []string           `json:"commands,omitempty" yaml:"commands,omitempty"`
	Pending     int                `json:"pending" yaml:"pending"`
	Log         []logsink.LogEntry `json:"log" yaml:"log"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the operational logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithProjector overrides the result projector.
func WithProjector(p projection.Projector) Option {
	return func(m *Machine) {
		if p != nil {
			m.projector = p
		}
	}
}

// WithTracer overrides the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Machine) {
		if t != nil {
			m.tracer = t
		}
	}
}

// Machine runs one Definition at a time on a scheduler.
type Machine struct {
	def       Definition
	sched     *sched.Scheduler
	sink      *logsink.Sink
	projector projection.Projector
	log       logging.Logger
	metrics   Recorder
	tracer    trace.Tracer

	// stageMu serialises Plan, stage bodies and commands.
	stageMu sync.Mutex

	mu       sync.Mutex
	state    State
	run      *Run
	results  []projection.Display
	counters map[string]int
	lastErr  error
	detached *sched.Scope
	closed   bool

	changed reactive.Notifier
}

// NewMachine builds an idle machine for def.
func NewMachine(def Definition, s *sched.Scheduler, opts ...Option) *Machine {
	m := &Machine{
		def:       def,
		sched:     s,
		sink:      logsink.New(s.Clock()),
		projector: projection.Default,
		log:       logging.Noop(),
		metrics:   noopRecorder{},
		tracer:    otel.Tracer(tracerName),
		detached:  s.NewScope(),
	}
	if p, ok := def.(Projecting); ok && p.Projector() != nil {
		m.projector = p.Projector()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the definition name.
func (m *Machine) Name() string { return m.def.Name() }

// Definition returns the scenario this machine runs.
func (m *Machine) Definition() Definition { return m.def }

// Sink exposes the machine's log.
func (m *Machine) Sink() *logsink.Sink { return m.sink }

// Scheduler returns the scheduler the machine arms its stages on.
func (m *Machine) Scheduler() *sched.Scheduler { return m.sched }

// Start begins a new run. It returns false without side effects while a run
// is already in progress.
func (m *Machine) Start(ctx context.Context) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.stageMu.Lock()
	defer m.stageMu.Unlock()

	m.mu.Lock()
	if m.closed || m.sched.Closed() {
		m.mu.Unlock()
		return false, ErrClosed
	}
	if m.state == Running {
		m.mu.Unlock()
		return false, nil
	}
	detached := m.detached
	m.detached = m.sched.NewScope()

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logging.WithRun(runCtx, logging.Run{Lab: m.def.Name(), ID: id})
	log := m.log
	runCtx, span := m.tracer.Start(runCtx, "scenario.run", trace.WithAttributes(
		attribute.String("lab", m.def.Name()),
		attribute.String("run_id", id),
	))
	r := &Run{
		m:       m,
		id:      id,
		ctx:     runCtx,
		cancel:  cancel,
		log:     log,
		span:    span,
		scope:   m.sched.NewScope(),
		started: m.sched.Now(),
	}
	m.run = r
	m.state = Running
	m.results = nil
	m.counters = nil
	m.lastErr = nil
	m.mu.Unlock()

	detached.Release()
	m.sink.Clear()
	m.metrics.RunStarted(m.def.Name())
	log.Info(runCtx, "scenario started")
	m.changed.Notify()

	r.plan()
	return true, nil
}

// Cancel stops the current run. It reports false when nothing was running.
func (m *Machine) Cancel() bool {
	m.stageMu.Lock()
	defer m.stageMu.Unlock()
	m.mu.Lock()
	r := m.run
	m.mu.Unlock()
	if r == nil {
		return false
	}
	return r.finish(Cancelled, nil)
}

// Reset returns the machine to Idle from any state, releasing every pending
// stage and clearing the log and results.
func (m *Machine) Reset() {
	m.stageMu.Lock()
	defer m.stageMu.Unlock()
	m.mu.Lock()
	r := m.run
	wasRunning := m.state == Running
	m.run = nil
	m.state = Idle
	m.results = nil
	m.counters = nil
	m.lastErr = nil
	detached := m.detached
	m.detached = m.sched.NewScope()
	m.mu.Unlock()

	detached.Release()
	if r != nil {
		r.teardown(Cancelled, wasRunning)
	}
	m.sink.Clear()
	m.changed.Notify()
}

// Command forwards a user command to a running definition.
func (m *Machine) Command(name, arg string) error {
	cmd, ok := m.def.(Commander)
	if !ok {
		return ErrUnknownCommand
	}
	known := false
	for _, c := range cmd.Commands() {
		if c == name {
			known = true
			break
		}
	}
	if !known {
		return ErrUnknownCommand
	}

	m.mu.Lock()
	r := m.run
	running := m.state == Running
	m.mu.Unlock()
	if !running || r == nil {
		return ErrNotRunning
	}
	r.Do(func(r *Run) (any, error) { return cmd.Command(r, name, arg) })
	return nil
}

// Commands lists the commands the definition accepts.
func (m *Machine) Commands() []string {
	if cmd, ok := m.def.(Commander); ok {
		return append([]string(nil), cmd.Commands()...)
	}
	return nil
}

// Close tears the machine down. A running scenario is cancelled without
// further log entries, OnFinish hooks included, and later Starts fail with
// ErrClosed.
func (m *Machine) Close() {
	m.stageMu.Lock()
	defer m.stageMu.Unlock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	r := m.run
	m.run = nil
	wasRunning := m.state == Running
	if wasRunning {
		m.state = Cancelled
	}
	detached := m.detached
	m.mu.Unlock()

	detached.Release()
	if r != nil {
		r.teardown(Cancelled, wasRunning)
	}
	m.changed.Notify()
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RunID returns the id of the current or last run, or "" when idle.
func (m *Machine) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run == nil {
		return ""
	}
	return m.run.id
}

// Err returns the error that failed the last run, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Results returns a copy of the projected results.
func (m *Machine) Results() []projection.Display {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]projection.Display, len(m.results))
	copy(out, m.results)
	return out
}

// Counter returns a named per-run counter.
func (m *Machine) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Log returns a copy of the log entries.
func (m *Machine) Log() []logsink.LogEntry { return m.sink.Entries() }

// Snapshot captures the machine for display.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		Lab:         m.def.Name(),
		Description: m.def.Description(),
		State:       m.state,
		Results:     make([]string, len(m.results)),
	}
	for i, d := range m.results {
		snap.Results[i] = d.Text
	}
	if len(m.counters) > 0 {
		snap.Counters = make(map[string]int, len(m.counters))
		for k, v := range m.counters {
			snap.Counters[k] = v
		}
	}
	if m.lastErr != nil {
		snap.Error = m.lastErr.Error()
	}
	r := m.run
	m.mu.Unlock()

	if r != nil {
		snap.RunID = r.id
		snap.Pending = r.Pending()
	}
	snap.Commands = m.Commands()
	snap.Log = m.sink.Entries()
	return snap
}

// Subscribe calls fn after every state, result or log change.
func (m *Machine) Subscribe(fn func()) *reactive.Subscription {
	bag := &reactive.Bag{}
	bag.Add(m.changed.Subscribe(fn))
	bag.Add(m.sink.Subscribe(func([]logsink.LogEntry) { fn() }))
	return reactive.NewSubscription(bag.Release)
}
