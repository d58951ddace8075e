// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счётчики движка сессий
var (
	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_sweeps_total",
		Help: "Число завершённых проходов планировщика",
	})

	SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_sweeps_skipped_total",
		Help: "Число пропущенных проходов (предыдущий ещё выполнялся)",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_sweep_duration_seconds",
		Help:    "Длительность одного прохода планировщика",
		Buckets: prometheus.DefBuckets,
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_sessions",
		Help: "Число активных сессий на последнем проходе",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_transitions_total",
		Help: "Число завершённых переходов state machine",
	}, []string{"to"})

	WarningsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_warnings_total",
		Help: "Число отправленных предупреждений о порогах",
	}, []string{"kind", "bucket"})

	JobAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_job_attempts_total",
		Help: "Число попыток выполнения фоновых задач",
	}, []string{"type"})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_job_retries_total",
		Help: "Число повторов фоновых задач",
	}, []string{"type"})

	JobDeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_job_dead_letters_total",
		Help: "Число задач, исчерпавших лимит повторов",
	}, []string{"type"})
)
