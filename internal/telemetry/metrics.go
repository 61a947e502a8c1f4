package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики системы. Регистрируются в default registry и
// экспортируются через promhttp.Handler() на /metrics.
var (
	// CasesSubmitted — количество принятых кейсов по типам.
	CasesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tribunal",
		Name:      "cases_submitted_total",
		Help:      "Number of cases accepted for processing.",
	}, []string{"case_type"})

	// CasesFinished — количество завершённых кейсов по терминальному состоянию.
	CasesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tribunal",
		Name:      "cases_finished_total",
		Help:      "Number of cases that reached a terminal state.",
	}, []string{"case_type", "state"})

	// CaseDuration — время обработки кейса от submit до терминального состояния.
	CaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tribunal",
		Name:      "case_duration_seconds",
		Help:      "Case processing time from submit to terminal state.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"case_type"})

	// TasksEnqueued — количество задач, поставленных в очередь, по приоритету.
	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tribunal",
		Name:      "tasks_enqueued_total",
		Help:      "Number of tasks enqueued, by priority tier.",
	}, []string{"priority"})

	// TasksProcessed — количество обработанных воркером задач по исходу.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tribunal",
		Name:      "tasks_processed_total",
		Help:      "Number of tasks processed by workers, by outcome.",
	}, []string{"capability", "outcome"})

	// TaskDuration — время выполнения capability воркером.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tribunal",
		Name:      "task_duration_seconds",
		Help:      "Capability invocation time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"capability"})

	// TasksDeadLettered — количество задач, ушедших в dead-letter.
	TasksDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tribunal",
		Name:      "tasks_dead_lettered_total",
		Help:      "Number of tasks moved to the dead-letter queue.",
	}, []string{"capability"})

	// QueueDepth — текущая глубина очереди по приоритету.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tribunal",
		Name:      "queue_depth",
		Help:      "Current number of visible tasks per priority tier.",
	}, []string{"priority"})

	// LeasesReaped — количество задач, возвращённых в очередь после истечения lease.
	LeasesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tribunal",
		Name:      "leases_reaped_total",
		Help:      "Number of expired leases returned to the queue.",
	})
)
