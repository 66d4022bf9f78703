package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики всех процессов. Регистрируются в default registry;
// экспортируются через promhttp на /metrics каждого бинаря.
var (
	// OrderTransitions — переходы статусов заказов.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_order_transitions_total",
		Help: "Order status transitions by target status.",
	}, []string{"status"})

	// LockAcquires — попытки взятия блокировок.
	LockAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_lock_acquires_total",
		Help: "Lock acquire attempts by kind and result (ok|conflict|error).",
	}, []string{"kind", "result"})

	// SweepReclaimed — заказы, возвращённые sweep-процессом.
	SweepReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweep_reclaimed_total",
		Help: "Orders reclaimed by the lease cleanup sweep.",
	})

	// SolverPollDuration — длительность ожидания решения солвера.
	SolverPollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_solver_poll_seconds",
		Help:    "Time from problem submission to final solution.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"mode"})

	// TasksExecuted — выполненные worker-задачи.
	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_tasks_executed_total",
		Help: "Worker task executions by command and status.",
	}, []string{"command", "status"})

	// BatchesSealed — запечатанные same-day batch'и.
	BatchesSealed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_batches_sealed_total",
		Help: "Same-day batches sealed by trigger (size|age).",
	}, []string{"trigger"})
)
