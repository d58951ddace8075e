// internal/infrastructure/persistence/postgres/repository/session/interface.go
package session_repo

import (
	"context"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/jobs"
)

// SessionRepository - полный контракт хранилища сессий: чтение и CAS-запись
// для движка, обслуживание (очистка, сводки) для фоновых задач и
// dead-letter архив для исполнителя.
type SessionRepository interface {
	// Create вставляет новую сессию в статусе pending
	Create(ctx context.Context, s *session.Session) error
	// GetByID возвращает сессию или session.ErrNotFound
	GetByID(ctx context.Context, id string) (*session.Session, error)
	// FindAllActive возвращает все сессии в статусе active
	FindAllActive(ctx context.Context) ([]*session.Session, error)
	// CompareAndSwap сохраняет сессию, только если версия в БД совпадает
	// с версией снапшота; иначе session.ErrVersionConflict
	CompareAndSwap(ctx context.Context, s *session.Session) error
	// AppendAudit дописывает запись в журнал переходов
	AppendAudit(ctx context.Context, entry session.AuditEntry) error

	// PurgeBefore удаляет завершённые сессии и dead-letter задачи старше cutoff
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// AggregatePerformance записывает итоговую сводку сессии (upsert)
	AggregatePerformance(ctx context.Context, sessionID string) error

	// RecordFailedJob сохраняет задачу в dead-letter архив
	RecordFailedJob(ctx context.Context, job jobs.Job) error
}
