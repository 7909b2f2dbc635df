package labs

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// transcript renders a finished machine as plain text for golden comparison.
func transcript(m *scenario.Machine) []byte {
	snap := m.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "lab: %s\n", snap.Lab)
	fmt.Fprintf(&b, "state: %s\n", snap.State)
	if snap.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", snap.Error)
	}
	for _, r := range snap.Results {
		fmt.Fprintf(&b, "result: %s\n", r)
	}
	b.WriteString("log:\n")
	for _, e := range snap.Log {
		fmt.Fprintf(&b, "%s [%s] %s\n", e.Timestamp, e.Kind, e.Message)
	}
	return []byte(b.String())
}

// runWithGolden runs def to completion on a simulated clock and compares the
// transcript against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/labs -update
func runWithGolden(t *testing.T, s *sched.Scheduler, def scenario.Definition) {
	t.Helper()
	m := startOn(t, s, def)
	s.Advance(time.Minute)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, def.Name(), transcript(m))
}

func TestGolden(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		def  func(s *sched.Scheduler) scenario.Definition
	}{
		{name: "event-loop", def: func(*sched.Scheduler) scenario.Definition { return NewEventLoop() }},
		{name: "race", def: func(*sched.Scheduler) scenario.Definition { return NewRace(cfg.Race) }},
		{name: "retry", def: func(*sched.Scheduler) scenario.Definition { return NewRetry(cfg.Retry) }},
		{name: "all-settled", def: func(*sched.Scheduler) scenario.Definition { return NewAllSettled(cfg.AllSettled) }},
		{name: "interval", def: func(*sched.Scheduler) scenario.Definition {
			return NewInterval(IntervalConfig{Period: time.Second, Take: 3})
		}},
		{name: "search", def: func(s *sched.Scheduler) scenario.Definition {
			f := fetch.NewSim(s).HandlePrefix(postsURL+"/posts", fetch.Route{Latency: 500 * time.Millisecond, Body: samplePosts()})
			sc := cfg.Search
			sc.Script = []Input{
				{At: 0, Value: "s"},
				{At: 100 * time.Millisecond, Value: "su"},
				{At: 200 * time.Millisecond, Value: "sunt"},
				{At: 600 * time.Millisecond, Value: "qui"},
				{At: 1100 * time.Millisecond, Value: "qui"},
			}
			return NewSearch(sc, f, postsURL)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sched.NewSimulated(epoch)
			runWithGolden(t, s, tt.def(s))
		})
	}
}
