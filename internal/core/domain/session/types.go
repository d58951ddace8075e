// internal/core/domain/session/types.go
package session

import (
	"errors"
	"time"
)

// Status - статус торговой сессии
type Status string

const (
	StatusPending          Status = "pending"
	StatusActive           Status = "active"
	StatusStopped          Status = "stopped"
	StatusExpired          Status = "expired"
	StatusLossLimitReached Status = "loss_limit_reached"
	StatusCompleted        Status = "completed"
)

// IsValid проверяет, известен ли статус
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusStopped,
		StatusExpired, StatusLossLimitReached, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal сообщает, является ли статус конечным.
// Из конечного статуса переходов нет.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusExpired, StatusLossLimitReached, StatusCompleted:
		return true
	}
	return false
}

// TerminationReason - причина завершения сессии.
// Устанавливается ровно один раз, только при переходе в конечный статус.
type TerminationReason string

const (
	ReasonManualStop        TerminationReason = "manual_stop"
	ReasonTimeExpired       TerminationReason = "time_expired"
	ReasonLossLimitReached  TerminationReason = "loss_limit_reached"
	ReasonNaturalCompletion TerminationReason = "natural_completion"
)

// Session - торговая сессия пользователя.
// Поля мутирует только state machine (Apply), прямая запись запрещена.
type Session struct {
	ID     string
	UserID int
	Status Status

	DurationMinutes int
	LossLimitAmount float64

	// Устанавливаются только при активации
	StartTime *time.Time
	EndTime   *time.Time

	// Обновляются внешним торговым контуром, движок их только читает
	RealizedPnl float64
	TotalTrades int

	TerminationReason TerminationReason

	// Версия для optimistic locking (compare-and-swap в репозитории)
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ошибки домена
var (
	// ErrInvalidTransition - переход из статуса, который его не разрешает
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrNotFound - сессия не найдена
	ErrNotFound = errors.New("session: not found")
	// ErrVersionConflict - compare-and-swap проиграл гонку
	ErrVersionConflict = errors.New("session: version conflict")
)

// Validate проверяет инварианты сессии при создании
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session: пустой id")
	}
	if !s.Status.IsValid() {
		return errors.New("session: неизвестный статус")
	}
	if s.DurationMinutes <= 0 {
		return errors.New("session: durationMinutes должен быть положительным")
	}
	if s.LossLimitAmount <= 0 {
		return errors.New("session: lossLimitAmount должен быть положительным")
	}
	// terminationReason присутствует тогда и только тогда, когда статус конечный
	if s.Status.IsTerminal() != (s.TerminationReason != "") {
		return errors.New("session: terminationReason не согласован со статусом")
	}
	if s.EndTime != nil && s.StartTime == nil {
		return errors.New("session: endTime без startTime")
	}
	return nil
}

// AuditEntry - запись истории изменений сессии
type AuditEntry struct {
	SessionID  string
	Event      string
	FromStatus Status
	ToStatus   Status
	Detail     string
	CreatedAt  time.Time
}
