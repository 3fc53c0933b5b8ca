package node

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duelctl/internal/events"
)

// Collectors groups the node's Prometheus instrumentation. A private
// registry keeps the endpoint free of default process noise collisions
// when tests run several servers in one process.
type Collectors struct {
	registry *prometheus.Registry

	JobsStarted   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	ActiveJobs    prometheus.Gauge
	Utilization   prometheus.Gauge
}

// NewCollectors builds and registers the node metric set. The hub's drop
// counter is exported as a counter func so it needs no extra bookkeeping.
func NewCollectors(hub *events.Hub) *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		registry: reg,
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duelctl_jobs_started_total",
			Help: "Jobs admitted and started on this node.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duelctl_jobs_completed_total",
			Help: "Jobs that reached Completed.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duelctl_jobs_failed_total",
			Help: "Jobs that reached Error, including cancellations.",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duelctl_active_jobs",
			Help: "Whether a job is currently running (0 or 1).",
		}),
		Utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duelctl_utilization_percent",
			Help: "Last sampled utilization of the active compute resource.",
		}),
	}

	reg.MustRegister(c.JobsStarted, c.JobsCompleted, c.JobsFailed, c.ActiveJobs, c.Utilization)
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "duelctl_events_dropped_total",
		Help: "Events dropped to slow event-stream subscribers.",
	}, func() float64 {
		return float64(hub.Dropped())
	}))

	return c
}

// Handler serves the /metrics endpoint.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
