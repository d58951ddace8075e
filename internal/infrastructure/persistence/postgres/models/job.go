// internal/infrastructure/persistence/postgres/models/job.go
package models

import (
	"database/sql"
	"time"
)

// SessionJob - строка таблицы session_jobs: dead-letter архив задач,
// исчерпавших лимит повторов. Живая очередь здесь не хранится - таблица
// нужна оператору для разбора сбоев.
type SessionJob struct {
	ID         string         `db:"id"          json:"id"`
	Type       string         `db:"type"        json:"type"`
	SessionID  sql.NullString `db:"session_id"  json:"session_id,omitempty"`
	Status     string         `db:"status"      json:"status"`
	RetryCount int            `db:"retry_count" json:"retry_count"`
	MaxRetries int            `db:"max_retries" json:"max_retries"`
	LastError  string         `db:"last_error"  json:"last_error,omitempty"`
	FailedAt   time.Time      `db:"failed_at"   json:"failed_at"`
}
