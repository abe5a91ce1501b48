package metrics

import "github.com/prometheus/client_golang/prometheus"

var registry = prometheus.NewRegistry()

func GetRegistry() *prometheus.Registry {
	return registry
}

var (
	// ExecutionsTotal counts coordinator executions by result:
	// completed, timeout, error.
	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadence",
		Name:      "executions_total",
		Help:      "Scheduled task executions by result.",
	}, []string{"result"})

	// QueueDepth tracks live admission-queue items across sessions.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cadence",
		Name:      "queue_depth",
		Help:      "Active plus pending admission queue items.",
	})

	// IdleWaitSeconds observes how long the coordinator waited for the
	// session to go idle.
	IdleWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cadence",
		Name:      "idle_wait_seconds",
		Help:      "Coordinator synchronous wait durations.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	registry.MustRegister(ExecutionsTotal, QueueDepth, IdleWaitSeconds)
}
