package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newCollector(t *testing.T) (*LabCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewLabCollector(reg)
	if err != nil {
		t.Fatalf("NewLabCollector: %v", err)
	}
	return c, reg
}

func TestLabCollectorRecordsRunLifecycle(t *testing.T) {
	c, reg := newCollector(t)
	s := sched.NewSimulated(epoch)

	def := scenario.Def{ID: "delay", PlanF: func(r *scenario.Run) error {
		r.Info("waiting")
		r.After(time.Second, func(r *scenario.Run) (any, error) {
			r.Emit("emitted 42", 42)
			return 42, nil
		})
		return nil
	}}
	m := scenario.NewMachine(def, s, scenario.WithRecorder(c))
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := testutil.ToFloat64(c.ActiveRuns.WithLabelValues("delay")); got != 1 {
		t.Fatalf("lab_runs_active = %v, want 1", got)
	}

	s.Advance(time.Second)

	if got := testutil.ToFloat64(c.RunsStarted.WithLabelValues("delay")); got != 1 {
		t.Fatalf("lab_runs_started_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RunsFinished.WithLabelValues("delay", "succeeded")); got != 1 {
		t.Fatalf("lab_runs_finished_total{succeeded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ActiveRuns.WithLabelValues("delay")); got != 0 {
		t.Fatalf("lab_runs_active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.StagesFired.WithLabelValues("delay")); got != 1 {
		t.Fatalf("lab_stages_fired_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.LogEntries.WithLabelValues("delay", "emission")); got != 1 {
		t.Fatalf("lab_log_entries_total{emission} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.LogEntries.WithLabelValues("delay", "info")); got != 1 {
		t.Fatalf("lab_log_entries_total{info} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "lab_run_duration_seconds", map[string]string{"lab": "delay"}); count != 1 {
		t.Fatalf("lab_run_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestLabCollectorCountsStageErrors(t *testing.T) {
	c, _ := newCollector(t)
	s := sched.NewSimulated(epoch)

	def := scenario.Def{ID: "boom", PlanF: func(r *scenario.Run) error {
		r.After(10*time.Millisecond, func(*scenario.Run) (any, error) {
			return nil, errors.New("boom")
		})
		return nil
	}}
	m := scenario.NewMachine(def, s, scenario.WithRecorder(c))
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Advance(10 * time.Millisecond)

	if got := testutil.ToFloat64(c.StageErrors.WithLabelValues("boom")); got != 1 {
		t.Fatalf("lab_stage_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RunsFinished.WithLabelValues("boom", "failed")); got != 1 {
		t.Fatalf("lab_runs_finished_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.LogEntries.WithLabelValues("boom", "error")); got != 1 {
		t.Fatalf("lab_log_entries_total{error} = %v, want 1", got)
	}
}

func TestMiddlewareRecordsRouteAndStatus(t *testing.T) {
	c, reg := newCollector(t)

	h := c.Middleware(func(*http.Request) string { return "/labs/{name}" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/labs/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/labs/delay", "/labs/missing"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/labs/{name}", "GET", "200")); got != 1 {
		t.Fatalf("http_requests_total{200} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/labs/{name}", "GET", "404")); got != 1 {
		t.Fatalf("http_requests_total{404} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "http_request_duration_seconds", map[string]string{
		"route":  "/labs/{name}",
		"method": "GET",
	}); count != 2 {
		t.Fatalf("http_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestNewLabCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewLabCollector(reg)
	if err != nil {
		t.Fatalf("NewLabCollector: %v", err)
	}
	second, err := NewLabCollector(reg)
	if err != nil {
		t.Fatalf("second NewLabCollector: %v", err)
	}
	first.RunStarted("delay")
	if got := testutil.ToFloat64(second.RunsStarted.WithLabelValues("delay")); got != 1 {
		t.Fatalf("shared lab_runs_started_total = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesLabMetrics(t *testing.T) {
	c, _ := newCollector(t)
	c.RunStarted("race")
	c.RunFinished("race", "failed", 2*time.Second)
	c.LogEntry("race", "error")

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		`lab_runs_started_total{lab="race"} 1`,
		`lab_runs_finished_total{lab="race",state="failed"} 1`,
		`lab_log_entries_total{kind="error",lab="race"} 1`,
		"lab_run_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSchedulerCollectorSamplesQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSchedulerCollector(reg)
	if err != nil {
		t.Fatalf("NewSchedulerCollector: %v", err)
	}
	s := sched.NewSimulated(epoch)
	s.Schedule(1500*time.Millisecond, func() {})
	s.Schedule(3*time.Second, func() {})

	c.ObserveDrain(time.Millisecond, s)

	if got := testutil.ToFloat64(c.TimersPending); got != 2 {
		t.Fatalf("scheduler_timers_pending = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.NextDueIn); got != 1.5 {
		t.Fatalf("scheduler_next_due_seconds = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(c.Drains); got != 1 {
		t.Fatalf("scheduler_drains_total = %v, want 1", got)
	}

	s.Advance(5 * time.Second)
	c.Sample(s)
	if got := testutil.ToFloat64(c.TimersPending); got != 0 {
		t.Fatalf("scheduler_timers_pending after drain = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.NextDueIn); got != 0 {
		t.Fatalf("scheduler_next_due_seconds when idle = %v, want 0", got)
	}
}

func TestStartTracingOffByDefault(t *testing.T) {
	tr, err := StartTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("StartTracing: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Fatalf("tracer provider = %T, want noop", otel.GetTracerProvider())
	}
	tr.Shutdown(context.Background())

	var nilTracing *Tracing
	nilTracing.Shutdown(context.Background())
}

func TestStartTracingStdoutExportsRunSpans(t *testing.T) {
	var buf bytes.Buffer
	tr, err := StartTracing(context.Background(), TracingConfig{
		Exporter:    "STDOUT",
		SampleRatio: 1,
		Output:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("StartTracing: %v", err)
	}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, span := otel.Tracer("test").Start(context.Background(), "scenario.run")
	span.End()
	tr.Shutdown(context.Background())

	if !strings.Contains(buf.String(), `"Name":"scenario.run"`) {
		t.Fatalf("stdout exporter output missing span: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "reactive-labs") {
		t.Fatalf("stdout exporter output missing service name: %s", buf.String())
	}
}

func TestStartTracingRejectsUnknownExporter(t *testing.T) {
	_, err := StartTracing(context.Background(), TracingConfig{Exporter: "zipkin"}, nil)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("StartTracing error = %v, want ErrUnknownExporter", err)
	}
}

func TestSamplerClampsRatio(t *testing.T) {
	if got := sampler(2).Description(); got != "AlwaysOnSampler" {
		t.Fatalf("sampler(2) = %s", got)
	}
	if got := sampler(-1).Description(); got != "AlwaysOffSampler" {
		t.Fatalf("sampler(-1) = %s", got)
	}
	if got := sampler(0.5).Description(); !strings.HasPrefix(got, "ParentBased") {
		t.Fatalf("sampler(0.5) = %s", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
