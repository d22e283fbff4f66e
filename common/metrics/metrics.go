package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsStarted   prometheus.Counter
	ExecutionsCompleted prometheus.Counter
	ExecutionsFailed    prometheus.Counter
	ExecutionsCancelled prometheus.Counter

	NodeDuration *prometheus.HistogramVec
	NodeRetries  prometheus.Counter

	ReadyQueueDepth   prometheus.Gauge
	WaitingTasks      prometheus.Gauge
	RunningTasks      prometheus.Gauge
	ActiveTasks       prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	CompensationsRun  prometheus.Counter
	StateTransitions  prometheus.Counter
}

// New creates a metrics set on a fresh registry
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ExecutionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Workflow executions started",
		}),
		ExecutionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_completed_total",
			Help:      "Workflow executions completed successfully",
		}),
		ExecutionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_failed_total",
			Help:      "Workflow executions that ended in failure",
		}),
		ExecutionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_cancelled_total",
			Help:      "Workflow executions cancelled by callers",
		}),

		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution wall-clock duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type", "status"}),
		NodeRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Node execution retry attempts",
		}),

		ReadyQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_ready_queue_depth",
			Help:      "Tasks waiting in the ready queue",
		}),
		WaitingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_waiting_tasks",
			Help:      "Tasks whose dependencies are not yet satisfied",
		}),
		RunningTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running_tasks",
			Help:      "Tasks currently dispatched to executors",
		}),
		ActiveTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_active_tasks",
			Help:      "Tasks holding resource-manager allocations",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Lifecycle events published, by topic",
		}, []string{"topic"}),
		CompensationsRun: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensation plans executed",
		}),
		StateTransitions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions executed",
		}),
	}
}
