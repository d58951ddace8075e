// internal/infrastructure/persistence/postgres/models/session.go
package models

import (
	"database/sql"
	"time"

	"abcom-trader/internal/core/domain/session"
)

// Session - строка таблицы sessions.
// Колонка version обеспечивает оптимистичную блокировку: каждое успешное
// обновление инкрементирует её, конкурентный писатель со старой версией
// получает конфликт вместо тихой перезаписи.
type Session struct {
	ID                string         `db:"id"                 json:"id"`
	UserID            int            `db:"user_id"            json:"user_id"`
	Status            string         `db:"status"             json:"status"`
	DurationMinutes   int            `db:"duration_minutes"   json:"duration_minutes"`
	LossLimitAmount   float64        `db:"loss_limit_amount"  json:"loss_limit_amount"`
	StartTime         *time.Time     `db:"start_time"         json:"start_time,omitempty"`
	EndTime           *time.Time     `db:"end_time"           json:"end_time,omitempty"`
	RealizedPnl       float64        `db:"realized_pnl"       json:"realized_pnl"`
	TotalTrades       int            `db:"total_trades"       json:"total_trades"`
	TerminationReason sql.NullString `db:"termination_reason" json:"termination_reason,omitempty"`
	Version           int            `db:"version"            json:"version"`
	CreatedAt         time.Time      `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"         json:"updated_at"`
}

// ToDomain конвертирует строку БД в доменную сессию
func (m *Session) ToDomain() *session.Session {
	s := &session.Session{
		ID:              m.ID,
		UserID:          m.UserID,
		Status:          session.Status(m.Status),
		DurationMinutes: m.DurationMinutes,
		LossLimitAmount: m.LossLimitAmount,
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		RealizedPnl:     m.RealizedPnl,
		TotalTrades:     m.TotalTrades,
		Version:         m.Version,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.TerminationReason.Valid {
		s.TerminationReason = session.TerminationReason(m.TerminationReason.String)
	}
	return s
}

// SessionFromDomain конвертирует доменную сессию в строку БД
func SessionFromDomain(s *session.Session) *Session {
	m := &Session{
		ID:              s.ID,
		UserID:          s.UserID,
		Status:          string(s.Status),
		DurationMinutes: s.DurationMinutes,
		LossLimitAmount: s.LossLimitAmount,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		RealizedPnl:     s.RealizedPnl,
		TotalTrades:     s.TotalTrades,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.TerminationReason != "" {
		m.TerminationReason = sql.NullString{String: string(s.TerminationReason), Valid: true}
	}
	return m
}
