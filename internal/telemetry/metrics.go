package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for evaluation passes.
type Metrics struct {
	Passes       *prometheus.CounterVec
	Tasks        *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	PassDuration *prometheus.HistogramVec
	ActiveTasks  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered (useful in tests).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cvgraph_passes_total",
			Help: "Number of completed chain passes.",
		}, []string{"chain"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cvgraph_tasks_total",
			Help: "Number of tasks evaluated.",
		}, []string{"chain"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cvgraph_pass_failures_total",
			Help: "Number of passes aborted by an invariant violation.",
		}, []string{"chain"}),
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cvgraph_pass_duration_seconds",
			Help:    "Wall time of one chain pass.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"chain"}),
		ActiveTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cvgraph_active_tasks",
			Help: "Size of the task list of the last pass.",
		}, []string{"chain"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Passes, m.Tasks, m.Failures, m.PassDuration, m.ActiveTasks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObservePass records a finished pass.
func (m *Metrics) ObservePass(chain string, tasks int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ActiveTasks.WithLabelValues(chain).Set(float64(tasks))
	m.PassDuration.WithLabelValues(chain).Observe(elapsed.Seconds())
	if err != nil {
		m.Failures.WithLabelValues(chain).Inc()
		return
	}
	m.Passes.WithLabelValues(chain).Inc()
	m.Tasks.WithLabelValues(chain).Add(float64(tasks))
}
