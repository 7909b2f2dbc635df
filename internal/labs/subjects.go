package labs

import (
	"fmt"

	"github.com/signalsfoundry/reactive-labs/internal/logsink"
	"github.com/signalsfoundry/reactive-labs/internal/reactive"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
)

// SubjectLab drives one subject variant with user commands: emit a random
// value, add a late subscriber, complete. The first observer subscribes when
// the run starts.
type SubjectLab struct {
	base
	label   string
	newSrc  func() reactive.Source[int]
	rand    func() int
	src     reactive.Source[int]
	bag     *reactive.Bag
	release func()
}

func newSubjectLab(name, label, about string, rand func() int, newSrc func() reactive.Source[int]) *SubjectLab {
	return &SubjectLab{
		base:   base{name, about},
		label:  label,
		newSrc: newSrc,
		rand:   rand,
	}
}

// NewSubjectLab multicasts values only to observers present at emission time.
func NewSubjectLab(rand func() int) *SubjectLab {
	return newSubjectLab("subject", "Subject", "Late subscribers miss earlier values", rand,
		func() reactive.Source[int] { return reactive.NewSubject[int]() })
}

// NewBehaviorSubjectLab replays the current value to each new observer.
func NewBehaviorSubjectLab(initial int, rand func() int) *SubjectLab {
	return newSubjectLab("behavior-subject", "BehaviorSubject", "New subscribers get the current value", rand,
		func() reactive.Source[int] { return reactive.NewBehaviorSubject(initial) })
}

// NewReplaySubjectLab replays the last size values to each new observer.
func NewReplaySubjectLab(size int, rand func() int) *SubjectLab {
	return newSubjectLab("replay-subject", "ReplaySubject", fmt.Sprintf("New subscribers get the last %d values", size), rand,
		func() reactive.Source[int] { return reactive.NewReplaySubject[int](size) })
}

// NewAsyncSubjectLab only delivers the final value, on completion.
func NewAsyncSubjectLab(rand func() int) *SubjectLab {
	return newSubjectLab("async-subject", "AsyncSubject", "Only the last value is delivered, on completion", rand,
		func() reactive.Source[int] { return reactive.NewAsyncSubject[int]() })
}

func (l *SubjectLab) Commands() []string { return []string{"emit", "subscribe", "complete"} }

func (l *SubjectLab) Plan(r *scenario.Run) error {
	l.src = l.newSrc()
	l.bag = &reactive.Bag{}
	l.release = r.Hold()

	bag := l.bag
	r.OnFinish(func(*scenario.Run, scenario.State) { bag.Release() })

	l.bag.Add(l.src.Subscribe(reactive.Observer[int]{
		Next: func(v int) {
			r.Emit(fmt.Sprintf("Emitted: %d", v), v)
			r.Project(v)
		},
	}))
	return nil
}

func (l *SubjectLab) Command(r *scenario.Run, name, _ string) (any, error) {
	switch name {
	case "emit":
		if l.src.Completed() {
			return nil, nil
		}
		l.src.Next(l.rand())
	case "subscribe":
		if l.src.Completed() {
			return nil, nil
		}
		r.SetCounter("subscribers", r.Counter("subscribers")+1)
		l.bag.Add(l.src.Subscribe(reactive.Observer[int]{
			Next: func(v int) {
				r.Log(logsink.KindSubscription, fmt.Sprintf("Late subscriber received: %d", v))
			},
		}))
	case "complete":
		if l.src.Completed() {
			return nil, nil
		}
		l.src.Complete()
		r.Log(logsink.KindCompletion, l.label+" completed")
		l.release()
	default:
		return nil, scenario.ErrUnknownCommand
	}
	return nil, nil
}
