package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// Route is the scripted behaviour of a simulated endpoint.
type Route struct {
	Latency time.Duration
	Body    any
	Err     error
	Status  int
}

// Resolver picks the route for a URL. ok=false means "not found".
type Resolver func(url string) (Route, bool)

// Sim is a Fetcher whose responses arrive after scripted latencies on a
// scheduler, so tests and simulated runs stay deterministic.
type Sim struct {
	s *sched.Scheduler

	mu       sync.Mutex
	routes   map[string]Route
	prefixes []prefixRoute
	resolver Resolver
	calls    []string
	aborted  int
}

type prefixRoute struct {
	prefix string
	route  Route
}

// NewSim returns a simulated fetcher driven by s.
func NewSim(s *sched.Scheduler) *Sim {
	return &Sim{s: s, routes: make(map[string]Route)}
}

// Handle scripts the response for an exact URL.
func (f *Sim) Handle(url string, r Route) *Sim {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = r
	return f
}

// HandlePrefix scripts the response for every URL starting with prefix.
// Exact routes win over prefixes; earlier prefixes win over later ones.
func (f *Sim) HandlePrefix(prefix string, r Route) *Sim {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefixRoute{prefix: prefix, route: r})
	return f
}

// Resolve installs a fallback resolver consulted after exact and prefix routes.
func (f *Sim) Resolve(fn Resolver) *Sim {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolver = fn
	return f
}

// Calls returns the URLs requested so far.
func (f *Sim) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Aborted returns how many requests were cancelled before delivery.
func (f *Sim) Aborted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func (f *Sim) lookup(url string) (Route, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if r, ok := f.routes[url]; ok {
		return r, true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(url, p.prefix) {
			return p.route, true
		}
	}
	if f.resolver != nil {
		return f.resolver(url)
	}
	return Route{}, false
}

// Fetch implements Fetcher. Cancelling the returned func, or ctx, delivers
// ErrAborted on the next scheduler pass instead of the scripted response.
func (f *Sim) Fetch(ctx context.Context, url string, cb func(Response)) Cancel {
	d := &delivery{cb: cb}

	route, ok := f.lookup(url)
	if !ok {
		route = Route{Status: 404}
	}

	timer := f.s.Schedule(route.Latency, func() {
		switch {
		case route.Err != nil || route.Status >= 400:
			d.send(Response{URL: url, Err: &TransportError{URL: url, Status: route.Status, Err: route.Err}})
		default:
			d.send(Response{URL: url, Body: route.Body})
		}
	})

	var once sync.Once
	abort := func() {
		once.Do(func() {
			if !f.s.Cancel(timer) {
				return
			}
			f.mu.Lock()
			f.aborted++
			f.mu.Unlock()
			f.s.Post(func() { d.send(Response{URL: url, Err: ErrAborted}) })
		})
	}

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, abort)
		inner := abort
		abort = func() {
			stop()
			inner()
		}
	}
	return Cancel(abort)
}
