// internal/engine/ports.go
package engine

import (
	"context"

	"abcom-trader/internal/core/domain/session"
)

// SessionRepository - порт хранилища сессий. Движок его потребляет,
// реализация живёт в infrastructure/persistence.
type SessionRepository interface {
	// GetByID возвращает сессию или session.ErrNotFound
	GetByID(ctx context.Context, id string) (*session.Session, error)
	// FindAllActive возвращает все сессии в статусе active
	FindAllActive(ctx context.Context) ([]*session.Session, error)
	// CompareAndSwap сохраняет сессию, если её версия в хранилище не менялась.
	// При проигранной гонке возвращает session.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, s *session.Session) error
	// AppendAudit дописывает запись истории
	AppendAudit(ctx context.Context, entry session.AuditEntry) error
}
