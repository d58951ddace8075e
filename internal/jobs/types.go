// internal/jobs/types.go
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Type - тип фоновой задачи жизненного цикла
type Type string

const (
	TypeExpire               Type = "expire"
	TypeLossCheck            Type = "loss_check"
	TypeCleanup              Type = "cleanup"
	TypeAggregatePerformance Type = "aggregate_performance"
)

// Status - статус задачи
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job - единица отложенной или повторяемой работы.
// Инвариант: RetryCount <= MaxRetries; из completed и failed задача
// обратно в pending не возвращается.
type Job struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	// Пустой для cleanup: очистка не привязана к конкретной сессии
	SessionID string `json:"session_id,omitempty"`

	ScheduledAt time.Time `json:"scheduled_at"`
	ExecuteAt   time.Time `json:"execute_at"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`
}

// New создаёт задачу с запуском через delay от now
func New(t Type, sessionID string, delay time.Duration, maxRetries int, now time.Time) Job {
	return Job{
		ID:          uuid.New().String(),
		Type:        t,
		SessionID:   sessionID,
		ScheduledAt: now,
		ExecuteAt:   now.Add(delay),
		Status:      StatusPending,
		MaxRetries:  maxRetries,
	}
}
