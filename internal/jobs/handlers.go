// internal/jobs/handlers.go
package jobs

import (
	"context"
	"fmt"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/events"
	"abcom-trader/pkg/logger"
)

// SessionControl - операции менеджера сессий, нужные обработчикам задач.
// Повторная проверка завершённой сессии - безопасный no-op, поэтому
// обработчики expire и loss_check идемпотентны по построению.
type SessionControl interface {
	CheckSession(ctx context.Context, sessionID string) error
}

// MaintenanceStore - операции обслуживания хранилища
type MaintenanceStore interface {
	// PurgeBefore удаляет завершённые сессии, их историю и отработанные
	// задачи старше cutoff. Возвращает число удалённых сессий.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// AggregatePerformance записывает итоговую сводку сессии (upsert)
	AggregatePerformance(ctx context.Context, sessionID string) error
}

// RegisterHandlers привязывает все обработчики жизненного цикла к исполнителю
func RegisterHandlers(e *Executor, ctrl SessionControl, store MaintenanceStore, clock session.Clock, retention time.Duration) {
	e.Register(TypeExpire, func(ctx context.Context, job Job) error {
		return ctrl.CheckSession(ctx, job.SessionID)
	})

	e.Register(TypeLossCheck, func(ctx context.Context, job Job) error {
		return ctrl.CheckSession(ctx, job.SessionID)
	})

	e.Register(TypeCleanup, func(ctx context.Context, job Job) error {
		cutoff := clock.Now().Add(-retention)
		n, err := store.PurgeBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("🧹 Cleanup: удалено %d завершённых сессий старше %s",
				n, cutoff.Format("2006-01-02"))
		}
		return nil
	})

	e.Register(TypeAggregatePerformance, func(ctx context.Context, job Job) error {
		if job.SessionID == "" {
			return fmt.Errorf("jobs: aggregate_performance без sessionId")
		}
		return store.AggregatePerformance(ctx, job.SessionID)
	})
}

// FailedJobStore - хранилище dead-letter задач
type FailedJobStore interface {
	RecordFailedJob(ctx context.Context, job Job) error
}

// DeadLetterSink - эскалация исчерпавших повторы задач: лог, запись в
// хранилище для разбора оператором и событие во внешний транспорт.
type DeadLetterSink struct {
	store       FailedJobStore
	broadcaster *events.Broadcaster
}

// NewDeadLetterSink создаёт приёмник dead-letter. store и broadcaster могут быть nil.
func NewDeadLetterSink(store FailedJobStore, broadcaster *events.Broadcaster) *DeadLetterSink {
	return &DeadLetterSink{store: store, broadcaster: broadcaster}
}

func (s *DeadLetterSink) JobFailed(job Job, err error) {
	logger.Error("🚨 DEAD-LETTER: задача %s (%s, session=%s) исчерпала %d повторов: %v",
		job.ID, job.Type, job.SessionID, job.MaxRetries, err)

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if storeErr := s.store.RecordFailedJob(ctx, job); storeErr != nil {
			logger.Error("❌ DeadLetterSink: не удалось сохранить задачу %s: %v", job.ID, storeErr)
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(events.Event{
			Type:      events.TypeJobDeadLetter,
			SessionID: job.SessionID,
			Payload: map[string]interface{}{
				"job_id":   job.ID,
				"job_type": string(job.Type),
				"error":    err.Error(),
			},
		})
	}
}
