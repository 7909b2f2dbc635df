package labs

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/reactive-labs/internal/scenario"
)

// Factory builds a fresh lab from shared dependencies.
type Factory func(d Deps) scenario.Definition

// Registry maps lab names to factories.
type Registry struct {
	deps      Deps
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry(d Deps) *Registry {
	return &Registry{deps: d, factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (reg *Registry) Register(name string, f Factory) {
	reg.factories[name] = f
}

// Names returns the registered lab names in sorted order.
func (reg *Registry) Names() []string {
	names := make([]string, 0, len(reg.factories))
	for name := range reg.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the lab called name.
func (reg *Registry) New(name string) (scenario.Definition, error) {
	f, ok := reg.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLab, name)
	}
	return f(reg.deps), nil
}

// Default registers every lab of this package.
func Default(d Deps) *Registry {
	reg := NewRegistry(d)
	reg.Register("delay", func(d Deps) scenario.Definition { return NewDelay(d.Config.Delay) })
	reg.Register("promise-all", func(d Deps) scenario.Definition { return NewPromiseAll(d.Config.PromiseAll) })
	reg.Register("all-settled", func(d Deps) scenario.Definition { return NewAllSettled(d.Config.AllSettled) })
	reg.Register("race", func(d Deps) scenario.Definition { return NewRace(d.Config.Race) })
	reg.Register("retry", func(d Deps) scenario.Definition { return NewRetry(d.Config.Retry) })
	reg.Register("event-loop", func(Deps) scenario.Definition { return NewEventLoop() })
	reg.Register("interval", func(d Deps) scenario.Definition { return NewInterval(d.Config.Interval) })
	reg.Register("operators", func(d Deps) scenario.Definition { return NewOperators(d.Config.Operators) })
	reg.Register("single-value", func(d Deps) scenario.Definition { return NewSingleValue(d.Config.SingleValue) })
	reg.Register("multi-value", func(d Deps) scenario.Definition { return NewMultiValue(d.Config.MultiValue) })
	reg.Register("lazy-observable", func(d Deps) scenario.Definition { return NewLazyObservable(d.Config.Lazy) })
	reg.Register("eager-promise", func(d Deps) scenario.Definition { return NewEagerPromise(d.Config.Eager) })
	reg.Register("take-until", func(d Deps) scenario.Definition { return NewTakeUntil(d.Config.TakeUntil) })
	reg.Register("combine-latest", func(d Deps) scenario.Definition { return NewCombineLatest(d.Config.CombineLatest) })
	reg.Register("search", func(d Deps) scenario.Definition {
		return NewSearch(d.Config.Search, d.Fetcher, d.PostsURL)
	})
	reg.Register("subject", func(d Deps) scenario.Definition { return NewSubjectLab(d.random()) })
	reg.Register("behavior-subject", func(d Deps) scenario.Definition {
		return NewBehaviorSubjectLab(d.Config.Subjects.BehaviorInitial, d.random())
	})
	reg.Register("replay-subject", func(d Deps) scenario.Definition {
		return NewReplaySubjectLab(d.Config.Subjects.ReplayBuffer, d.random())
	})
	reg.Register("async-subject", func(d Deps) scenario.Definition { return NewAsyncSubjectLab(d.random()) })
	return reg
}
