// Package fetch is the network capability the labs consume: issue a request,
// get one eventual success or failure, or cancel while it is in flight.
// Results are always delivered on the scheduler's loop, never on the
// goroutine that performed I/O.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// ErrAborted is delivered when a request is cancelled by its caller. It is
// not a failure of the remote side.
var ErrAborted = errors.New("fetch: request aborted")

// TransportError reports a failed request.
type TransportError struct {
	URL    string
	Status int // HTTP status, zero when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: HTTP error! status: %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsAbort reports whether err is a deliberate cancellation rather than a failure.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// Response is the eventual outcome of a request. Exactly one of Body and Err
// is meaningful.
type Response struct {
	URL  string
	Body any
	Err  error
}

// Cancel aborts an in-flight request. Calling it after delivery, or twice,
// does nothing.
type Cancel func()

// Fetcher issues asynchronous requests.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cb func(Response)) Cancel
}

// Poster hands a callback to the scheduling loop.
type Poster interface {
	Post(f func()) sched.Handle
}

// delivery guarantees a request reports at most once, whether it completes,
// fails or is aborted first.
type delivery struct {
	once sync.Once
	cb   func(Response)
}

func (d *delivery) send(r Response) bool {
	sent := false
	d.once.Do(func() {
		sent = true
		if d.cb != nil {
			d.cb(r)
		}
	})
	return sent
}
