// Package metrics exposes simulation progress as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvandessel/poseidon/internal/schedule"
)

const namespace = "poseidon"

// Collector counts scheduler and adaptation events. It implements
// schedule.Observer.
type Collector struct {
	registry  *prometheus.Registry
	ticks     prometheus.Counter
	step      prometheus.Gauge
	fired     *prometheus.CounterVec
	decisions *prometheus.CounterVec
	runs      *prometheus.CounterVec
}

var _ schedule.Observer = (*Collector)(nil)

// NewCollector registers the poseidon metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks completed.",
		}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step",
			Help:      "Current simulated step.",
		}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_fired_total",
			Help:      "Scheduled actions invoked, by phase.",
		}, []string{"phase"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Adaptation decisions, by attribute and status.",
		}, []string{"attribute", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Simulation runs, by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(c.ticks, c.step, c.fired, c.decisions, c.runs)
	return c
}

// ActionFired counts one invoked action.
func (c *Collector) ActionFired(p schedule.Phase) {
	c.fired.WithLabelValues(p.String()).Inc()
}

// TickCompleted counts one tick.
func (c *Collector) TickCompleted(step int) {
	c.ticks.Inc()
	c.step.Set(float64(step))
}

// Decision counts one adaptation decision.
func (c *Collector) Decision(attribute, status string) {
	c.decisions.WithLabelValues(attribute, status).Inc()
}

// RunFinished counts a completed or failed run.
func (c *Collector) RunFinished(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.runs.WithLabelValues(outcome).Inc()
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
