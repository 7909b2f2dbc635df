package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/reactive-labs/internal/config"
	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	for _, name := range []string{"delay", "race", "retry", "search", "subject", "take-until"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "[emit subscribe complete]")
}

func TestRunSimulatedDelay(t *testing.T) {
	out, err := execute(t, "run", "delay", "--simulated")
	require.NoError(t, err)
	assert.Contains(t, out, "state: succeeded")
	assert.Contains(t, out, "result: 42")
	assert.Contains(t, out, "[emission] emitted 42")
}

func TestRunSimulatedRaceFails(t *testing.T) {
	out, err := execute(t, "run", "race", "--simulated")
	require.NoError(t, err, "a failed scenario is still a successful command")
	assert.Contains(t, out, "state: failed")
	assert.Contains(t, out, "error: Timeout: Request timed out after 2 seconds")
}

func TestRunSimulatedStopsAtDeadline(t *testing.T) {
	out, err := execute(t, "run", "take-until", "--simulated", "--for", "1500ms", "-o", "json")
	require.NoError(t, err)

	var snap scenario.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, scenario.Running, snap.State)
}

func TestRunCommands(t *testing.T) {
	out, err := execute(t, "run", "subject", "--simulated",
		"--command", "emit",
		"--command", "subscribe",
		"--command", "emit",
		"--command", "complete",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "state: succeeded")
	assert.Contains(t, out, "[subscription] Late subscriber received")
	assert.Contains(t, out, "[completion] Subject completed")
}

func TestRunSearchWithInput(t *testing.T) {
	out, err := execute(t, "run", "search", "--simulated", "--command", "input:qui", "--command", "complete")
	require.NoError(t, err)
	assert.Contains(t, out, `Searching for: "qui"`)
	assert.Contains(t, out, "Found 3 results")
	assert.Contains(t, out, "result: Post 1: ")
}

func TestRunYAMLOutput(t *testing.T) {
	out, err := execute(t, "run", "event-loop", "--simulated", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "lab: event-loop")
	assert.Contains(t, out, "state: succeeded")
	assert.Contains(t, out, "Macrotask (setTimeout) executed")
}

func TestRunErrors(t *testing.T) {
	_, err := execute(t, "run", "nope", "--simulated")
	assert.ErrorIs(t, err, labs.ErrUnknownLab)

	_, err = execute(t, "run", "subject", "--simulated", "--command", "explode")
	assert.ErrorIs(t, err, scenario.ErrUnknownCommand)

	_, err = execute(t, "run", "delay", "--simulated", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = execute(t, "run")
	assert.Error(t, err)
}

func TestNewAppServesLabs(t *testing.T) {
	cfg := config.Default()
	reg := prometheus.NewRegistry()
	a, err := newApp(cfg, logging.Noop(), reg)
	require.NoError(t, err)
	defer a.Close()

	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/labs", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"delay"`)

	rr = httptest.NewRecorder()
	a.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/labs/event-loop/start", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)

	// one tick of the clock drains the zero-delay stages
	a.clock.SetTime(a.clock.Now().Add(time.Millisecond))
	a.sched.RunDue()
	a.schedMet.Sample(a.sched)

	m, err := a.catalog.Machine("event-loop")
	require.NoError(t, err)
	assert.Equal(t, scenario.Succeeded, m.State())
	assert.Zero(t, testutil.ToFloat64(a.schedMet.TimersPending))
}
