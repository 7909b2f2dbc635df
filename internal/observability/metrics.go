package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LabCollector bundles Prometheus metrics for scenario runs and the HTTP
// surface. It satisfies scenario.Recorder.
type LabCollector struct {
	gatherer prometheus.Gatherer

	RunsStarted  *prometheus.CounterVec
	RunsFinished *prometheus.CounterVec
	RunDurations *prometheus.HistogramVec
	ActiveRuns   *prometheus.GaugeVec
	StagesFired  *prometheus.CounterVec
	StageErrors  *prometheus.CounterVec
	LogEntries   *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewLabCollector registers lab metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewLabCollector(reg prometheus.Registerer) (*LabCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	started, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_runs_started_total",
		Help: "Scenario runs started, labeled by lab.",
	}, []string{"lab"}), "lab_runs_started_total")
	if err != nil {
		return nil, err
	}
	finished, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_runs_finished_total",
		Help: "Scenario runs that reached a terminal state, labeled by lab and state.",
	}, []string{"lab", "state"}), "lab_runs_finished_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lab_run_duration_seconds",
		Help:    "Simulated time from start to terminal state.",
		Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30, 60},
	}, []string{"lab"}), "lab_run_duration_seconds")
	if err != nil {
		return nil, err
	}
	active, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lab_runs_active",
		Help: "Runs currently in the running state.",
	}, []string{"lab"}), "lab_runs_active")
	if err != nil {
		return nil, err
	}
	fired, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_stages_fired_total",
		Help: "Stage callbacks executed for live runs.",
	}, []string{"lab"}), "lab_stages_fired_total")
	if err != nil {
		return nil, err
	}
	stageErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_stage_errors_total",
		Help: "Stages that failed their run.",
	}, []string{"lab"}), "lab_stage_errors_total")
	if err != nil {
		return nil, err
	}
	entries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_log_entries_total",
		Help: "Log entries appended, labeled by lab and kind.",
	}, []string{"lab", "kind"}), "lab_log_entries_total")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled HTTP requests, labeled by route, method and status code.",
	}, []string{"route", "method", "code"}), "http_requests_total")
	if err != nil {
		return nil, err
	}
	latency, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &LabCollector{
		gatherer:      gatherer,
		RunsStarted:   started,
		RunsFinished:  finished,
		RunDurations:  durations,
		ActiveRuns:    active,
		StagesFired:   fired,
		StageErrors:   stageErrors,
		LogEntries:    entries,
		HTTPRequests:  requests,
		HTTPDurations: latency,
	}, nil
}

func (c *LabCollector) RunStarted(lab string) {
	if c == nil {
		return
	}
	c.RunsStarted.WithLabelValues(lab).Inc()
	c.ActiveRuns.WithLabelValues(lab).Inc()
}

func (c *LabCollector) RunFinished(lab, state string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RunsFinished.WithLabelValues(lab, state).Inc()
	c.RunDurations.WithLabelValues(lab).Observe(elapsed.Seconds())
	c.ActiveRuns.WithLabelValues(lab).Dec()
}

func (c *LabCollector) StageFired(lab string) {
	if c == nil {
		return
	}
	c.StagesFired.WithLabelValues(lab).Inc()
}

func (c *LabCollector) StageFailed(lab string) {
	if c == nil {
		return
	}
	c.StageErrors.WithLabelValues(lab).Inc()
}

func (c *LabCollector) LogEntry(lab, kind string) {
	if c == nil {
		return
	}
	c.LogEntries.WithLabelValues(lab, kind).Inc()
}

// Middleware records request counts and durations. route is called after the
// handler so routers can report the matched pattern.
func (c *LabCollector) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if c == nil {
				return
			}
			name := "unknown"
			if route != nil {
				if rt := route(r); rt != "" {
					name = rt
				}
			}
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			c.HTTPRequests.WithLabelValues(name, r.Method, strconv.Itoa(code)).Inc()
			c.HTTPDurations.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LabCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LabCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
