package labs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/reactive-labs/internal/fetch"
	"github.com/signalsfoundry/reactive-labs/internal/logsink"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

const postsURL = "https://posts.test"

func start(t *testing.T, def scenario.Definition) (*scenario.Machine, *sched.Scheduler) {
	t.Helper()
	s := sched.NewSimulated(epoch)
	return startOn(t, s, def), s
}

func startOn(t *testing.T, s *sched.Scheduler, def scenario.Definition) *scenario.Machine {
	t.Helper()
	m := scenario.NewMachine(def, s)
	t.Cleanup(m.Close)
	started, err := m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, started)
	return m
}

func texts(m *scenario.Machine) []string {
	return m.Snapshot().Results
}

func countPrefix(m *scenario.Machine, prefix string) int {
	n := 0
	for _, msg := range m.Sink().Messages() {
		if strings.HasPrefix(msg, prefix) {
			n++
		}
	}
	return n
}

func sequence(values ...int) func() int {
	i := 0
	return func() int {
		v := values[i%len(values)]
		i++
		return v
	}
}

func samplePosts() []any {
	return []any{
		map[string]any{"id": 1.0, "title": "sunt aut facere repellat provident occaecati excepturi optio reprehenderit"},
		map[string]any{"id": 2.0, "title": "qui est esse"},
		map[string]any{"id": 3.0, "title": "ea molestias quasi exercitationem repellat qui ipsa sit aut"},
		map[string]any{"id": 4.0, "title": "eum et est occaecati"},
	}
}

func TestDelay_EmitsOnceAfterDelay(t *testing.T) {
	m, s := start(t, NewDelay(DefaultConfig().Delay))

	s.Advance(999 * time.Millisecond)
	assert.Zero(t, m.Sink().Count(logsink.KindEmission))

	s.Advance(time.Millisecond)
	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Equal(t, 1, m.Sink().Count(logsink.KindEmission))
	assert.Contains(t, m.Sink().Messages(), "emitted 42")
	assert.Equal(t, []string{"42"}, texts(m))
}

func TestPromiseAll_Resolves(t *testing.T) {
	m, s := start(t, NewPromiseAll(DefaultConfig().PromiseAll))

	s.Advance(1200 * time.Millisecond)
	assert.Equal(t, scenario.Running, m.State())
	assert.Empty(t, texts(m))

	s.Advance(300 * time.Millisecond)
	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Equal(t, []string{
		`{"data":"User API data","timestamp":"2024-01-01T12:00:01.000Z"}`,
		`{"data":"Roles API data","timestamp":"2024-01-01T12:00:01.500Z"}`,
	}, texts(m))
}

func TestPromiseAll_FailsFast(t *testing.T) {
	calls := []Call{
		{Name: "User API", Delay: 1000 * time.Millisecond, Fail: true},
		{Name: "Roles API", Delay: 1500 * time.Millisecond},
	}
	m, s := start(t, NewPromiseAll(calls))

	s.Advance(time.Second)
	assert.Equal(t, scenario.Failed, m.State())
	var ce *CallError
	require.ErrorAs(t, m.Err(), &ce)
	assert.Equal(t, "User API failed after 1000ms", ce.Error())
	assert.Zero(t, s.Pending())

	s.Advance(time.Second)
	assert.Empty(t, texts(m))
	assert.NotContains(t, m.Sink().Messages(), "Roles API resolved")
}

func TestRace_FetchWins(t *testing.T) {
	cfg := RaceConfig{Call: Call{Name: "Fast API", Delay: time.Second}, Timeout: 2 * time.Second}
	m, s := start(t, NewRace(cfg))

	s.Advance(5 * time.Second)
	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Contains(t, m.Sink().Messages(), "Timeout cancelled: Fast API won the race")
	assert.Equal(t, []string{`Success: {"data":"Fast API data","timestamp":"2024-01-01T12:00:01.000Z"}`}, texts(m))
}

func TestRace_TimeoutWins(t *testing.T) {
	m, s := start(t, NewRace(DefaultConfig().Race))

	s.Advance(10 * time.Second)
	assert.Equal(t, scenario.Failed, m.State())
	var te *TimeoutError
	require.ErrorAs(t, m.Err(), &te)
	assert.Equal(t, 2*time.Second, te.After)
	assert.Contains(t, m.Sink().Messages(), "Slow API cancelled: lost the race to the timeout")
	assert.Empty(t, texts(m))
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failTimes int
		want      scenario.State
		attempts  int
	}{
		{name: "first try", failTimes: 0, want: scenario.Succeeded, attempts: 1},
		{name: "succeeds on last attempt", failTimes: 2, want: scenario.Succeeded, attempts: 3},
		{name: "gives up", failTimes: 3, want: scenario.Failed, attempts: 3},
		{name: "gives up early", failTimes: 10, want: scenario.Failed, attempts: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().Retry
			cfg.FailTimes = tt.failTimes
			m, s := start(t, NewRetry(cfg))
			s.Advance(10 * time.Second)

			assert.Equal(t, tt.want, m.State())
			assert.Equal(t, tt.attempts, m.Counter("attempts"))
			assert.Equal(t, min(tt.failTimes, cfg.MaxAttempts), countPrefix(m, "Failed on attempt"))
			if tt.want == scenario.Failed {
				var me *MaxAttemptsError
				require.ErrorAs(t, m.Err(), &me)
				var ce *CallError
				assert.ErrorAs(t, m.Err(), &ce)
				assert.Contains(t, m.Sink().Messages(), "Max attempts reached. Giving up.")
				assert.Empty(t, texts(m))
			} else {
				assert.Len(t, texts(m), 1)
			}
		})
	}
}

func TestOperators_MapFilter(t *testing.T) {
	m, s := start(t, NewOperators(DefaultConfig().Operators))
	s.Advance(10 * time.Second)

	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Equal(t, []string{"0", "6", "12", "18"}, texts(m))
	assert.Contains(t, m.Sink().Messages(), "Operator demonstration completed")
}

func TestInterval_CancelStopsTicks(t *testing.T) {
	m, s := start(t, NewInterval(DefaultConfig().Interval))

	s.Advance(3500 * time.Millisecond)
	require.True(t, m.Cancel())
	s.Advance(time.Minute)

	assert.Equal(t, scenario.Cancelled, m.State())
	assert.Equal(t, []string{"Tick 1", "Tick 2", "Tick 3"}, texts(m))
	assert.Equal(t, 3, m.Counter("counter"))
	msgs := m.Sink().Messages()
	assert.Equal(t, []string{"Scenario cancelled", "Interval completed", "Interval cancelled manually"}, msgs[len(msgs)-3:])
}

func TestMultiValue(t *testing.T) {
	t.Run("completes before unsubscribe", func(t *testing.T) {
		m, s := start(t, NewMultiValue(DefaultConfig().MultiValue))
		s.Advance(2500 * time.Millisecond)
		assert.Equal(t, scenario.Running, m.State())
		assert.Contains(t, m.Sink().Messages(), "Observable completed after 5 emissions")

		s.Advance(500 * time.Millisecond)
		assert.Equal(t, scenario.Succeeded, m.State())
		assert.Equal(t, []string{"0", "1", "2", "3", "4"}, texts(m))
	})
	t.Run("unsubscribed early", func(t *testing.T) {
		cfg := DefaultConfig().MultiValue
		cfg.UnsubscribeAfter = 1200 * time.Millisecond
		m, s := start(t, NewMultiValue(cfg))
		s.Advance(10 * time.Second)

		assert.Equal(t, scenario.Succeeded, m.State())
		assert.Equal(t, []string{"0", "1"}, texts(m))
		assert.Contains(t, m.Sink().Messages(), "Unsubscribed before the observable completed")
	})
}

func TestSingleValue(t *testing.T) {
	m, s := start(t, NewSingleValue(DefaultConfig().SingleValue))
	s.Advance(time.Second)
	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Contains(t, m.Sink().Messages(), "Promise is DONE - cannot emit more values")
}

func TestLazyObservable(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		m, s := start(t, NewLazyObservable(DefaultConfig().Lazy))
		s.Advance(2 * time.Second)
		assert.Equal(t, scenario.Succeeded, m.State())
		assert.Equal(t, []string{"100"}, texts(m))
	})
	t.Run("cancel clears the timer", func(t *testing.T) {
		m, s := start(t, NewLazyObservable(DefaultConfig().Lazy))
		s.Advance(time.Second)
		m.Cancel()
		s.Advance(5 * time.Second)

		assert.Equal(t, scenario.Cancelled, m.State())
		assert.Empty(t, texts(m))
		assert.NotContains(t, m.Sink().Messages(), "Emitting value: 100")
		assert.Contains(t, m.Sink().Messages(), "Observable cleanup: timeout cleared")
		assert.Zero(t, s.Pending())
	})
}

func TestEagerPromise_CannotBeCancelled(t *testing.T) {
	m, s := start(t, NewEagerPromise(DefaultConfig().Eager))
	s.Advance(time.Second)
	m.Cancel()
	assert.Contains(t, m.Sink().Messages(), "ERROR: Promises cannot be cancelled natively!")

	s.Advance(time.Second)
	assert.Equal(t, scenario.Cancelled, m.State())
	assert.Contains(t, m.Sink().Messages(), "Promise resolved with value: 42")
	assert.Empty(t, texts(m))
}

func TestEagerPromise_Resolves(t *testing.T) {
	m, s := start(t, NewEagerPromise(DefaultConfig().Eager))
	s.Advance(2 * time.Second)
	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Equal(t, []string{"42"}, texts(m))
}

func TestTakeUntil(t *testing.T) {
	t.Run("notifier after deadline", func(t *testing.T) {
		m, s := start(t, NewTakeUntil(DefaultConfig().TakeUntil))
		s.Advance(10 * time.Second)
		assert.Equal(t, scenario.Succeeded, m.State())
		assert.Equal(t, 5, m.Counter("emissions"))
		assert.Contains(t, m.Sink().Messages(), "Manual subscription cancelled via takeUntil")
	})
	t.Run("cancel command", func(t *testing.T) {
		cfg := DefaultConfig().TakeUntil
		cfg.StopAfter = 0
		m, s := start(t, NewTakeUntil(cfg))
		s.Advance(1100 * time.Millisecond)
		require.NoError(t, m.Command("cancel", ""))

		assert.Equal(t, scenario.Succeeded, m.State())
		assert.Equal(t, 2, m.Counter("emissions"))
		s.Advance(10 * time.Second)
		assert.Equal(t, 2, m.Counter("emissions"))
	})
}

func TestCombineLatest(t *testing.T) {
	m, s := start(t, NewCombineLatest(DefaultConfig().CombineLatest))
	s.Advance(10 * time.Second)

	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Equal(t, 3, countPrefix(m, "Combined: "))
	assert.Equal(t, []string{
		`{"apiData":{"message":"Mock API response","timestamp":"2024-01-01T12:00:01.000Z"},"preference":"compact"}`,
	}, texts(m))
}

func TestCombineLatest_Interactive(t *testing.T) {
	cfg := DefaultConfig().CombineLatest
	cfg.Script = nil
	m, s := start(t, NewCombineLatest(cfg))

	require.NoError(t, m.Command("preference", "dark"))
	assert.Zero(t, countPrefix(m, "Combined: "))

	s.Advance(time.Second)
	assert.Equal(t, 1, countPrefix(m, "Combined: dark"))
	assert.Equal(t, scenario.Running, m.State())

	require.NoError(t, m.Command("complete", ""))
	assert.Equal(t, scenario.Succeeded, m.State())
}

func TestSubjectLabs(t *testing.T) {
	late := func(m *scenario.Machine) []string {
		var out []string
		for _, e := range m.Log() {
			if e.Kind == logsink.KindSubscription {
				out = append(out, e.Message)
			}
		}
		return out
	}
	run := func(t *testing.T, def scenario.Definition, cmds ...string) *scenario.Machine {
		m, _ := start(t, def)
		for _, c := range cmds {
			require.NoError(t, m.Command(c, ""))
		}
		return m
	}

	t.Run("subject", func(t *testing.T) {
		m := run(t, NewSubjectLab(sequence(10, 20, 30)), "emit", "subscribe", "emit", "complete")
		assert.Equal(t, []string{"Late subscriber received: 20"}, late(m))
		assert.Equal(t, []string{"10", "20"}, texts(m))
		assert.Equal(t, scenario.Succeeded, m.State())
		assert.Contains(t, m.Sink().Messages(), "Subject completed")
	})
	t.Run("behavior", func(t *testing.T) {
		m := run(t, NewBehaviorSubjectLab(0, sequence(10, 20)), "emit", "subscribe")
		assert.Equal(t, []string{"Late subscriber received: 10"}, late(m))
		assert.Equal(t, []string{"0", "10"}, texts(m))
		assert.Equal(t, scenario.Running, m.State())
	})
	t.Run("replay", func(t *testing.T) {
		m := run(t, NewReplaySubjectLab(2, sequence(10, 20, 30)), "emit", "emit", "emit", "subscribe")
		assert.Equal(t, []string{"Late subscriber received: 20", "Late subscriber received: 30"}, late(m))
		assert.Equal(t, 1, m.Counter("subscribers"))
	})
	t.Run("async", func(t *testing.T) {
		m := run(t, NewAsyncSubjectLab(sequence(10, 20)), "emit", "emit", "subscribe")
		assert.Empty(t, texts(m))
		assert.Empty(t, late(m))

		require.NoError(t, m.Command("complete", ""))
		assert.Equal(t, []string{"20"}, texts(m))
		assert.Equal(t, []string{"Late subscriber received: 20"}, late(m))
		assert.Equal(t, scenario.Succeeded, m.State())
		assert.ErrorIs(t, m.Command("emit", ""), scenario.ErrNotRunning)
	})
}

func TestSearch_FailsOnTransportError(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := fetch.NewSim(s).HandlePrefix(postsURL+"/posts", fetch.Route{Latency: 100 * time.Millisecond, Status: 500})
	cfg := DefaultConfig().Search
	cfg.Script = []Input{{At: 0, Value: "boom"}}
	m := startOn(t, s, NewSearch(cfg, f, postsURL))
	s.Advance(time.Second)

	assert.Equal(t, scenario.Failed, m.State())
	var se *SearchError
	require.ErrorAs(t, m.Err(), &se)
	assert.Equal(t, "boom", se.Term)
	var te *fetch.TransportError
	require.ErrorAs(t, m.Err(), &te)
	assert.Equal(t, 500, te.Status)
	assert.Equal(t, []string{postsURL + "/posts?q=boom"}, f.Calls())
}

func TestSearch_InteractiveDistinct(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := fetch.NewSim(s).HandlePrefix(postsURL+"/posts", fetch.Route{Latency: 100 * time.Millisecond, Body: samplePosts()})
	m := startOn(t, s, NewSearch(DefaultConfig().Search, f, postsURL))

	require.NoError(t, m.Command("input", "qui"))
	s.Advance(time.Second)
	require.NoError(t, m.Command("input", "qui"))
	s.Advance(time.Second)
	require.NoError(t, m.Command("input", "  "))
	s.Advance(time.Second)

	assert.Len(t, f.Calls(), 1)
	assert.Empty(t, texts(m))
	assert.Contains(t, m.Sink().Messages(), "Found 0 results")
	assert.Equal(t, scenario.Running, m.State())

	require.NoError(t, m.Command("complete", ""))
	assert.Equal(t, scenario.Succeeded, m.State())
}

func TestSearch_CancelAbortsRequest(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := fetch.NewSim(s).HandlePrefix(postsURL+"/posts", fetch.Route{Latency: 5 * time.Second, Body: samplePosts()})
	cfg := DefaultConfig().Search
	cfg.Script = []Input{{At: 0, Value: "qui"}}
	m := startOn(t, s, NewSearch(cfg, f, postsURL))

	s.Advance(time.Second)
	require.True(t, m.Cancel())
	s.Advance(10 * time.Second)

	assert.Equal(t, 1, f.Aborted())
	assert.Empty(t, texts(m))
}

func TestRegistry(t *testing.T) {
	reg := Default(Deps{Config: DefaultConfig()})
	names := reg.Names()
	assert.Len(t, names, 19)
	assert.IsNonDecreasing(t, names)

	for _, name := range names {
		def, err := reg.New(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, def.Name())
		assert.NotEmpty(t, def.Description())
	}

	_, err := reg.New("nope")
	assert.ErrorIs(t, err, ErrUnknownLab)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Delay.Delay = -time.Second
	cfg.Interval.Period = 0
	cfg.Retry.MaxAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delay.delay")
	assert.Contains(t, err.Error(), "interval.period")
	assert.Contains(t, err.Error(), "retry.maxAttempts")
}

func TestCallError(t *testing.T) {
	_, err := Call{Name: "Service B", Delay: 1200 * time.Millisecond, Fail: true}.settle(epoch)
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "Service B failed after 1200ms", err.Error())
}
