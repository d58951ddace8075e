// internal/infrastructure/persistence/postgres/models/performance.go
package models

import (
	"database/sql"
	"time"
)

// SessionPerformance - итоговая сводка завершённой сессии (таблица
// session_performance). Заполняется aggregate-задачей после терминального
// перехода, одна строка на сессию (upsert по session_id).
type SessionPerformance struct {
	SessionID         string         `db:"session_id"         json:"session_id"`
	UserID            int            `db:"user_id"            json:"user_id"`
	FinalStatus       string         `db:"final_status"       json:"final_status"`
	TerminationReason sql.NullString `db:"termination_reason" json:"termination_reason,omitempty"`
	RealizedPnl       float64        `db:"realized_pnl"       json:"realized_pnl"`
	TotalTrades       int            `db:"total_trades"       json:"total_trades"`
	DurationMinutes   int            `db:"duration_minutes"   json:"duration_minutes"`
	// Фактическая длительность может быть короче плановой при ранней остановке
	ActualMinutes float64   `db:"actual_minutes" json:"actual_minutes"`
	AggregatedAt  time.Time `db:"aggregated_at"  json:"aggregated_at"`
}
