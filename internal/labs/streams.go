package labs

import (
	"fmt"

	"github.com/signalsfoundry/reactive-labs/internal/logsink"
	"github.com/signalsfoundry/reactive-labs/internal/projection"
	"github.com/signalsfoundry/reactive-labs/internal/reactive"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// Interval ticks every period and completes after Take ticks.
type Interval struct {
	base
	cfg IntervalConfig
}

func NewInterval(cfg IntervalConfig) *Interval {
	return &Interval{base: base{"interval", "Tick on an interval, then complete"}, cfg: cfg}
}

func (l *Interval) Projector() projection.Projector { return projection.Tick }

func (l *Interval) Plan(r *scenario.Run) error {
	r.Info("Interval started")
	r.SetCounter("counter", 0)

	var h sched.Handle
	h = r.Every(l.cfg.Period, func(r *scenario.Run) (any, error) {
		n := r.AddCounter("counter", 1)
		r.Emit(fmt.Sprintf("Tick %d", n), n)
		if l.cfg.Take > 0 && n >= l.cfg.Take {
			r.Stop(h)
		}
		return n, nil
	})

	r.OnFinish(func(r *scenario.Run, s scenario.State) {
		switch s {
		case scenario.Succeeded:
			r.Log(logsink.KindCompletion, "Interval stream completed")
			r.Info("Interval completed")
		case scenario.Cancelled:
			r.Info("Interval completed")
			r.Info("Interval cancelled manually")
		}
	})
	return nil
}

// Operators maps and filters an interval: each value is doubled and only
// multiples of three pass.
type Operators struct {
	base
	cfg IntervalConfig
}

func NewOperators(cfg IntervalConfig) *Operators {
	return &Operators{base: base{"operators", "map and filter over an interval"}, cfg: cfg}
}

func (l *Operators) Plan(r *scenario.Run) error {
	r.Info("Creating Observable with operators...")

	var h sched.Handle
	h = r.Every(l.cfg.Period, func(r *scenario.Run) (any, error) {
		i := r.AddCounter("source", 1) - 1
		if l.cfg.Take > 0 && i+1 >= l.cfg.Take {
			r.Stop(h)
		}
		v := i * 2
		if v%3 != 0 {
			return nil, nil
		}
		r.Emit(fmt.Sprintf("Transformed value: %d", v), v)
		return v, nil
	})

	r.OnFinish(func(r *scenario.Run, s scenario.State) {
		switch s {
		case scenario.Succeeded:
			r.Log(logsink.KindCompletion, "Operator demonstration completed")
		case scenario.Cancelled:
			r.Info("Operator demonstration cancelled")
		}
	})
	return nil
}

// SingleValue resolves once, the way a promise does.
type SingleValue struct {
	base
	cfg DelayConfig
}

func NewSingleValue(cfg DelayConfig) *SingleValue {
	return &SingleValue{base: base{"single-value", "A promise resolves exactly once"}, cfg: cfg}
}

func (l *SingleValue) Plan(r *scenario.Run) error {
	r.Info("Creating Promise (single value)...")
	r.After(l.cfg.Delay, func(r *scenario.Run) (any, error) {
		r.Emit(fmt.Sprintf("Promise resolved with single value: %d", l.cfg.Value), l.cfg.Value)
		r.Info("Promise is DONE - cannot emit more values")
		return l.cfg.Value, nil
	})
	return nil
}

// MultiValue emits several values over time and is unsubscribed after a deadline.
type MultiValue struct {
	base
	cfg MultiValueConfig
}

func NewMultiValue(cfg MultiValueConfig) *MultiValue {
	return &MultiValue{base: base{"multi-value", "An observable emits many values over time"}, cfg: cfg}
}

func (l *MultiValue) Plan(r *scenario.Run) error {
	r.Info("Creating Observable (multiple values)...")

	var h sched.Handle
	active := true
	h = r.Every(l.cfg.Period, func(r *scenario.Run) (any, error) {
		v := r.AddCounter("emitted", 1) - 1
		r.Emit(fmt.Sprintf("Observable emitted value #%d", v+1), v)
		if l.cfg.Take > 0 && v+1 >= l.cfg.Take {
			r.Stop(h)
			active = false
			r.Log(logsink.KindCompletion, fmt.Sprintf("Observable completed after %d emissions", v+1))
		}
		return v, nil
	})
	if l.cfg.UnsubscribeAfter > 0 {
		r.After(l.cfg.UnsubscribeAfter, func(r *scenario.Run) (any, error) {
			if active {
				r.Stop(h)
				r.Info("Unsubscribed before the observable completed")
			}
			return nil, nil
		})
	}
	return nil
}

// LazyObservable does nothing until subscribed; cancelling clears its timer.
type LazyObservable struct {
	base
	cfg DelayConfig
}

func NewLazyObservable(cfg DelayConfig) *LazyObservable {
	return &LazyObservable{base: base{"lazy-observable", "Observables run on subscribe and can be cancelled"}, cfg: cfg}
}

func (l *LazyObservable) Plan(r *scenario.Run) error {
	r.Info("Creating new Observable...")
	r.Info("NOTHING happens yet (Lazy)")
	r.Log(logsink.KindSubscription, "Subscribing to Observable...")
	r.Info("Observable Execution Started (after subscribe)")

	r.After(l.cfg.Delay, func(r *scenario.Run) (any, error) {
		r.Emit(fmt.Sprintf("Emitting value: %d", l.cfg.Value), l.cfg.Value)
		r.Log(logsink.KindCompletion, "Subscription completed")
		r.Info("Observable cleanup: timeout cleared")
		r.Info("Observable completed")
		return l.cfg.Value, nil
	})

	r.OnFinish(func(r *scenario.Run, s scenario.State) {
		if s != scenario.Cancelled {
			return
		}
		r.Info("Cancelling Observable via unsubscribe()...")
		r.Info("Observable cleanup: timeout cleared")
		r.Info("Observable successfully cancelled")
	})
	return nil
}

// EagerPromise starts work immediately and cannot be stopped: cancelling the
// run marks it cancelled, but the timer still fires and logs.
type EagerPromise struct {
	base
	cfg DelayConfig
}

func NewEagerPromise(cfg DelayConfig) *EagerPromise {
	return &EagerPromise{base: base{"eager-promise", "Promises start eagerly and cannot be cancelled"}, cfg: cfg}
}

func (l *EagerPromise) Plan(r *scenario.Run) error {
	r.Info("Creating new Promise...")
	r.Info("Promise execution starts IMMEDIATELY upon creation (Eager)")

	release := r.Hold()
	r.Detach(l.cfg.Delay, func(r *scenario.Run) (any, error) {
		release()
		r.Info(fmt.Sprintf("Promise Execution Started (after %g seconds)", l.cfg.Delay.Seconds()))
		r.Emit(fmt.Sprintf("Promise resolved with value: %d", l.cfg.Value), l.cfg.Value)
		return l.cfg.Value, nil
	})
	r.Info("Promise created and already executing in background")

	r.OnFinish(func(r *scenario.Run, s scenario.State) {
		if s != scenario.Cancelled {
			return
		}
		r.Info("Attempting to cancel Promise...")
		r.Warn("ERROR: Promises cannot be cancelled natively!")
		r.Info(fmt.Sprintf("The setTimeout will still run after %g seconds", l.cfg.Delay.Seconds()))
	})
	return nil
}

// TakeUntil emits on an interval until a notifier subject fires, either from
// the cancel command or after StopAfter.
type TakeUntil struct {
	base
	cfg TakeUntilConfig

	notifier *reactive.Subject[struct{}]
	stopper  sched.Handle
}

func NewTakeUntil(cfg TakeUntilConfig) *TakeUntil {
	return &TakeUntil{base: base{"take-until", "Stop an interval when a notifier emits"}, cfg: cfg}
}

func (l *TakeUntil) Commands() []string { return []string{"cancel"} }

func (l *TakeUntil) Command(r *scenario.Run, name, _ string) (any, error) {
	if name != "cancel" {
		return nil, scenario.ErrUnknownCommand
	}
	l.fire(r)
	return nil, nil
}

func (l *TakeUntil) Plan(r *scenario.Run) error {
	r.Info("Manual subscription started")
	l.notifier = reactive.NewSubject[struct{}]()
	l.stopper = sched.Handle{}

	var h sched.Handle
	h = r.Every(l.cfg.Period, func(r *scenario.Run) (any, error) {
		n := r.AddCounter("emissions", 1)
		r.Emit(fmt.Sprintf("Manual emission %d", n), n)
		return n, nil
	})

	sub := l.notifier.Subscribe(reactive.Observer[struct{}]{
		Next: func(struct{}) {
			r.Stop(h)
			r.Info("Manual subscription cleaned up")
		},
	})
	r.OnFinish(func(r *scenario.Run, s scenario.State) {
		sub.Unsubscribe()
		if s == scenario.Cancelled {
			r.Info("Manual subscription cleaned up")
		}
	})

	if l.cfg.StopAfter > 0 {
		l.stopper = r.After(l.cfg.StopAfter, func(r *scenario.Run) (any, error) {
			l.fire(r)
			return nil, nil
		})
	}
	return nil
}

func (l *TakeUntil) fire(r *scenario.Run) {
	if l.notifier == nil || l.notifier.Completed() {
		return
	}
	r.Stop(l.stopper)
	l.notifier.Next(struct{}{})
	l.notifier.Complete()
	r.Info("Manual subscription cancelled via takeUntil")
}

// CombineLatest joins a preference subject with a mock API response and
// re-emits the pair whenever either side changes.
type CombineLatest struct {
	base
	cfg CombineConfig

	preference *reactive.BehaviorSubject[string]
	release    func()
}

func NewCombineLatest(cfg CombineConfig) *CombineLatest {
	return &CombineLatest{base: base{"combine-latest", "Combine a user preference with API data"}, cfg: cfg}
}

func (l *CombineLatest) Projector() projection.Projector { return projection.Payload{} }

func (l *CombineLatest) Commands() []string { return []string{"preference", "complete"} }

func (l *CombineLatest) Command(r *scenario.Run, name, arg string) (any, error) {
	switch name {
	case "preference":
		l.setPreference(r, arg)
	case "complete":
		l.complete(r)
	default:
		return nil, scenario.ErrUnknownCommand
	}
	return nil, nil
}

func (l *CombineLatest) Plan(r *scenario.Run) error {
	l.preference = reactive.NewBehaviorSubject(l.cfg.Initial)
	api := reactive.NewAsyncSubject[map[string]any]()
	l.release = nil

	var (
		pref    string
		data    map[string]any
		hasData bool
	)
	combine := func() {
		if !hasData {
			return
		}
		v := map[string]any{"preference": pref, "apiData": data}
		r.ReplaceResults(v)
		r.Emit("Combined: "+pref, v)
	}

	var bag reactive.Bag
	bag.Add(l.preference.Subscribe(reactive.Observer[string]{Next: func(p string) {
		pref = p
		combine()
	}}))
	bag.Add(api.Subscribe(reactive.Observer[map[string]any]{Next: func(d map[string]any) {
		data, hasData = d, true
		combine()
	}}))
	r.OnFinish(func(*scenario.Run, scenario.State) { bag.Release() })

	r.After(l.cfg.Delay, func(r *scenario.Run) (any, error) {
		api.Next(map[string]any{
			"timestamp": r.Now().UTC().Format(isoLayout),
			"message":   "Mock API response",
		})
		api.Complete()
		return nil, nil
	})

	if len(l.cfg.Script) == 0 {
		l.release = r.Hold()
		return nil
	}
	for _, in := range l.cfg.Script {
		r.After(in.At, func(r *scenario.Run) (any, error) {
			l.setPreference(r, in.Value)
			return nil, nil
		})
	}
	return nil
}

func (l *CombineLatest) setPreference(r *scenario.Run, p string) {
	r.Info("Preference changed to: " + p)
	l.preference.Next(p)
}

func (l *CombineLatest) complete(r *scenario.Run) {
	l.preference.Complete()
	if l.release != nil {
		l.release()
	}
	r.Log(logsink.KindCompletion, "Combined stream completed")
}
