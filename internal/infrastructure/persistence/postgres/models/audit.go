// internal/infrastructure/persistence/postgres/models/audit.go
package models

import (
	"time"

	"abcom-trader/internal/core/domain/session"
)

// AuditRecord - строка таблицы session_audit: один переход или
// предупреждение в истории сессии
type AuditRecord struct {
	ID         int64     `db:"id"          json:"id"`
	SessionID  string    `db:"session_id"  json:"session_id"`
	Event      string    `db:"event"       json:"event"`
	FromStatus string    `db:"from_status" json:"from_status"`
	ToStatus   string    `db:"to_status"   json:"to_status"`
	Detail     string    `db:"detail"      json:"detail,omitempty"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

// AuditFromDomain конвертирует доменную запись аудита в строку БД
func AuditFromDomain(e session.AuditEntry) *AuditRecord {
	return &AuditRecord{
		SessionID:  e.SessionID,
		Event:      e.Event,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		Detail:     e.Detail,
		CreatedAt:  e.CreatedAt,
	}
}
