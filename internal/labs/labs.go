// Package labs holds the concrete scenarios: promise combinators, retry,
// event-loop ordering, interval streams, the debounced search and the subject
// variants. Each lab is a scenario.Definition built from a Config section.
//
// A lab value belongs to one scenario.Machine. Per-run state lives on the lab
// and is reset by Plan; the machine serialises Plan, stages and commands.
package labs

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
)

// isoLayout renders timestamps the way browsers print Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrUnknownLab is returned when a lab name is not registered.
var ErrUnknownLab = errors.New("labs: unknown lab")

// Call is one simulated API call: it settles after Delay, successfully unless
// Fail is set.
type Call struct {
	Name  string        `yaml:"name"`
	Delay time.Duration `yaml:"delay"`
	Fail  bool          `yaml:"fail"`
}

// CallError is the rejection of a failing Call.
type CallError struct {
	Name  string
	After time.Duration
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s failed after %dms", e.Name, e.After.Milliseconds())
}

// settle produces the call's payload, stamped with now.
func (c Call) settle(now time.Time) (map[string]any, error) {
	if c.Fail {
		return nil, &CallError{Name: c.Name, After: c.Delay}
	}
	return map[string]any{
		"data":      c.Name + " data",
		"timestamp": now.UTC().Format(isoLayout),
	}, nil
}

// Input is a scripted user input: Value is typed At after the run starts.
type Input struct {
	At    time.Duration `yaml:"at"`
	Value string        `yaml:"value"`
}

type DelayConfig struct {
	Delay time.Duration `yaml:"delay"`
	Value int           `yaml:"value"`
}

type RaceConfig struct {
	Call    Call          `yaml:"call"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	Name        string        `yaml:"name"`
	Delay       time.Duration `yaml:"delay"`
	MaxAttempts int           `yaml:"maxAttempts"`
	FailTimes   int           `yaml:"failTimes"`
}

type IntervalConfig struct {
	Period time.Duration `yaml:"period"`
	Take   int           `yaml:"take"`
}

type MultiValueConfig struct {
	Period           time.Duration `yaml:"period"`
	Take             int           `yaml:"take"`
	UnsubscribeAfter time.Duration `yaml:"unsubscribeAfter"`
}

type TakeUntilConfig struct {
	Period time.Duration `yaml:"period"`
	// StopAfter fires the notifier automatically; zero waits for the cancel command.
	StopAfter time.Duration `yaml:"stopAfter"`
}

type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Limit    int           `yaml:"limit"`
	MaxTitle int           `yaml:"maxTitle"`
	// Script replays typed terms; without one the lab waits for input commands.
	Script []Input `yaml:"script"`
}

type CombineConfig struct {
	Delay   time.Duration `yaml:"delay"`
	Initial string        `yaml:"initial"`
	Script  []Input       `yaml:"script"`
}

type SubjectConfig struct {
	ReplayBuffer    int `yaml:"replayBuffer"`
	BehaviorInitial int `yaml:"behaviorInitial"`
}

// Config collects the tunables of every lab.
type Config struct {
	Delay         DelayConfig      `yaml:"delay"`
	PromiseAll    []Call           `yaml:"promiseAll"`
	AllSettled    []Call           `yaml:"allSettled"`
	Race          RaceConfig       `yaml:"race"`
	Retry         RetryConfig      `yaml:"retry"`
	Interval      IntervalConfig   `yaml:"interval"`
	Operators     IntervalConfig   `yaml:"operators"`
	SingleValue   DelayConfig      `yaml:"singleValue"`
	MultiValue    MultiValueConfig `yaml:"multiValue"`
	Lazy          DelayConfig      `yaml:"lazyObservable"`
	Eager         DelayConfig      `yaml:"eagerPromise"`
	TakeUntil     TakeUntilConfig  `yaml:"takeUntil"`
	Search        SearchConfig     `yaml:"search"`
	CombineLatest CombineConfig    `yaml:"combineLatest"`
	Subjects      SubjectConfig    `yaml:"subjects"`
}

// DefaultConfig returns the timings the labs were designed around.
func DefaultConfig() Config {
	return Config{
		Delay: DelayConfig{Delay: time.Second, Value: 42},
		PromiseAll: []Call{
			{Name: "User API", Delay: 1000 * time.Millisecond},
			{Name: "Roles API", Delay: 1500 * time.Millisecond},
		},
		AllSettled: []Call{
			{Name: "Service A", Delay: 800 * time.Millisecond},
			{Name: "Service B", Delay: 1200 * time.Millisecond, Fail: true},
			{Name: "Service C", Delay: 600 * time.Millisecond},
			{Name: "Service D", Delay: 2000 * time.Millisecond, Fail: true},
		},
		Race: RaceConfig{
			Call:    Call{Name: "Slow API", Delay: 5 * time.Second},
			Timeout: 2 * time.Second,
		},
		Retry:       RetryConfig{Name: "Unreliable API", Delay: 500 * time.Millisecond, MaxAttempts: 3, FailTimes: 2},
		Interval:    IntervalConfig{Period: time.Second, Take: 10},
		Operators:   IntervalConfig{Period: 300 * time.Millisecond, Take: 10},
		SingleValue: DelayConfig{Delay: time.Second, Value: 42},
		MultiValue:  MultiValueConfig{Period: 500 * time.Millisecond, Take: 5, UnsubscribeAfter: 3 * time.Second},
		Lazy:        DelayConfig{Delay: 2 * time.Second, Value: 100},
		Eager:       DelayConfig{Delay: 2 * time.Second, Value: 42},
		TakeUntil:   TakeUntilConfig{Period: 500 * time.Millisecond, StopAfter: 2750 * time.Millisecond},
		Search:      SearchConfig{Debounce: 300 * time.Millisecond, Limit: 3, MaxTitle: 30},
		CombineLatest: CombineConfig{
			Delay:   time.Second,
			Initial: "default",
			Script: []Input{
				{At: 1500 * time.Millisecond, Value: "dark"},
				{At: 2500 * time.Millisecond, Value: "compact"},
			},
		},
		Subjects: SubjectConfig{ReplayBuffer: 2},
	}
}

// Validate rejects negative timings and impossible counts.
func (c Config) Validate() error {
	var errs []error
	nonNegative := func(name string, d time.Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: negative duration %s", name, d))
		}
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: period must be positive, got %s", name, d))
		}
	}

	nonNegative("delay.delay", c.Delay.Delay)
	for i, call := range c.PromiseAll {
		nonNegative("promiseAll["+strconv.Itoa(i)+"].delay", call.Delay)
	}
	for i, call := range c.AllSettled {
		nonNegative("allSettled["+strconv.Itoa(i)+"].delay", call.Delay)
	}
	nonNegative("race.call.delay", c.Race.Call.Delay)
	nonNegative("race.timeout", c.Race.Timeout)
	nonNegative("retry.delay", c.Retry.Delay)
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts: must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.FailTimes < 0 {
		errs = append(errs, fmt.Errorf("retry.failTimes: negative count %d", c.Retry.FailTimes))
	}
	positive("interval.period", c.Interval.Period)
	positive("operators.period", c.Operators.Period)
	nonNegative("singleValue.delay", c.SingleValue.Delay)
	positive("multiValue.period", c.MultiValue.Period)
	nonNegative("multiValue.unsubscribeAfter", c.MultiValue.UnsubscribeAfter)
	nonNegative("lazyObservable.delay", c.Lazy.Delay)
	nonNegative("eagerPromise.delay", c.Eager.Delay)
	positive("takeUntil.period", c.TakeUntil.Period)
	nonNegative("takeUntil.stopAfter", c.TakeUntil.StopAfter)
	nonNegative("search.debounce", c.Search.Debounce)
	for i, in := range c.Search.Script {
		nonNegative("search.script["+strconv.Itoa(i)+"].at", in.At)
	}
	nonNegative("combineLatest.delay", c.CombineLatest.Delay)
	for i, in := range c.CombineLatest.Script {
		nonNegative("combineLatest.script["+strconv.Itoa(i)+"].at", in.At)
	}
	if c.Subjects.ReplayBuffer < 0 {
		errs = append(errs, fmt.Errorf("subjects.replayBuffer: negative size %d", c.Subjects.ReplayBuffer))
	}
	return errors.Join(errs...)
}

// Deps are the collaborators labs share.
type Deps struct {
	Config Config
	// Fetcher serves the search lab.
	Fetcher fetch.Fetcher
	// PostsURL is the base URL of the posts API, without trailing slash.
	PostsURL string
	// Rand draws the values subject labs emit; it defaults to 1..100.
	Rand func() int
}

func (d Deps) random() func() int {
	if d.Rand != nil {
		return d.Rand
	}
	return func() int { return rand.IntN(100) + 1 }
}

type base struct {
	name  string
	about string
}

func (b base) Name() string        { return b.name }
func (b base) Description() string { return b.about }

func millis(d time.Duration) int64 { return d.Milliseconds() }
