// internal/events/events.go
package events

import (
	"time"
)

// Type - тип события жизненного цикла
type Type string

const (
	TypeSessionActivated Type = "session_activated"
	TypeSessionWarning   Type = "session_warning"
	TypeSessionClosed    Type = "session_closed"
	TypeJobDeadLetter    Type = "job_dead_letter"
)

// Event - событие, рассылаемое подписчикам и внешнему транспорту
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	SessionID string                 `json:"session_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher - порт внешнего транспорта уведомлений.
// Ответственность движка заканчивается передачей события транспорту:
// гарантии доставки и переподключение - забота реализации.
type Publisher interface {
	Publish(channel string, event Event) error
}

// SessionChannel возвращает имя канала для событий одной сессии
func SessionChannel(sessionID string) string {
	return "sessions:" + sessionID
}
