// Package scenario implements the state machine every lab runs on.
//
// A Machine owns one Definition, one log sink and the results of its current
// run. Start moves it from Idle (or a terminal state) to Running and asks the
// definition to Plan its stages on the scheduler. Each stage returns a result,
// which is projected into the results list, or an error, which fails the run.
// When no stage, hold or in-flight request remains, the run has Succeeded.
//
//	Idle -> Running -> Succeeded | Failed | Cancelled
//	any  -> Idle (Reset)
//
// Stage callbacks are bound to the run that armed them. A callback from an
// earlier run, or one that arrives after the run reached a terminal state,
// does nothing.
package scenario

import (
	"errors"

	"github.com/signalsfoundry/reactive-labs/internal/projection"
)

var (
	// ErrNotRunning is returned by operations that need a running scenario.
	ErrNotRunning = errors.New("scenario: not running")
	// ErrClosed is returned once a machine has been torn down.
	ErrClosed = errors.New("scenario: machine closed")
	// ErrUnknownCommand is returned for commands a definition does not support.
	ErrUnknownCommand = errors.New("scenario: unknown command")
)

// StageFunc is the body of one stage. A non-nil result is projected and
// appended to the run's results; a non-nil error fails the run unless it is
// an abort.
type StageFunc func(r *Run) (any, error)

// Definition describes one runnable lab.
type Definition interface {
	Name() string
	Description() string
	// Plan arms the first stages of a run. It runs synchronously inside Start.
	Plan(r *Run) error
}

// Commander is implemented by definitions that accept user commands while
// running (emit, subscribe, complete...). arg carries free-form input such as
// a search term and is empty for most commands.
type Commander interface {
	Commands() []string
	Command(r *Run, name, arg string) (any, error)
}

// Projecting lets a definition choose how its results are displayed.
type Projecting interface {
	Projector() projection.Projector
}

// Def is a Definition assembled from plain values, convenient for small labs and tests.
type Def struct {
	ID    string
	About string
	PlanF func(r *Run) error
}

// Name implements Definition.
func (d Def) Name() string { return d.ID }

// Description implements Definition.
func (d Def) Description() string { return d.About }

// Plan implements Definition.
func (d Def) Plan(r *Run) error {
	if d.PlanF == nil {
		return nil
	}
	return d.PlanF(r)
}
