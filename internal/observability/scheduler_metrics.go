package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TimerQueue is the part of the scheduler the collector samples.
type TimerQueue interface {
	Pending() int
	NextDeadline() (time.Time, bool)
	Now() time.Time
}

// SchedulerCollector exposes metrics about the timer loop that drives every lab.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	DrainDuration prometheus.Histogram
	Drains        prometheus.Counter
	TimersPending prometheus.Gauge
	NextDueIn     prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	drain := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_drain_duration_seconds",
		Help:    "Wall time spent running due timers in one loop pass.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	})
	drain, err := registerHistogram(reg, drain, "scheduler_drain_duration_seconds")
	if err != nil {
		return nil, err
	}

	drains := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_drains_total",
		Help: "Loop passes that ran due timers.",
	})
	drains, err = registerCounter(reg, drains, "scheduler_drains_total")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_timers_pending",
		Help: "Timers armed and not yet fired or cancelled.",
	}), "scheduler_timers_pending")
	if err != nil {
		return nil, err
	}

	nextDue, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_next_due_seconds",
		Help: "Simulated seconds until the earliest pending timer; zero when idle or overdue.",
	}), "scheduler_next_due_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:      gatherer,
		DrainDuration: drain,
		Drains:        drains,
		TimersPending: pending,
		NextDueIn:     nextDue,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveDrain records one loop pass that took d, then samples q.
func (c *SchedulerCollector) ObserveDrain(d time.Duration, q TimerQueue) {
	if c == nil {
		return
	}
	c.DrainDuration.Observe(d.Seconds())
	c.Drains.Inc()
	c.Sample(q)
}

// Sample updates the queue gauges from q.
func (c *SchedulerCollector) Sample(q TimerQueue) {
	if c == nil || q == nil {
		return
	}
	c.TimersPending.Set(float64(q.Pending()))
	next, ok := q.NextDeadline()
	if !ok {
		c.NextDueIn.Set(0)
		return
	}
	c.NextDueIn.Set(max(0, next.Sub(q.Now()).Seconds()))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
