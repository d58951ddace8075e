// internal/infrastructure/persistence/postgres/repository/session/repository.go
package session_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/infrastructure/persistence/postgres/models"
	"abcom-trader/internal/jobs"
	"abcom-trader/pkg/logger"

	"github.com/jmoiron/sqlx"
)

type sessionRepoImpl struct {
	db *sqlx.DB
}

// NewSessionRepository создаёт реализацию SessionRepository
func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepoImpl{db: db}
}

// Create вставляет новую сессию в статусе pending
func (r *sessionRepoImpl) Create(ctx context.Context, s *session.Session) error {
	m := models.SessionFromDomain(s)
	query := `
		INSERT INTO sessions (id, user_id, status, duration_minutes, loss_limit_amount,
		                      realized_pnl, total_trades, version)
		VALUES (:id, :user_id, :status, :duration_minutes, :loss_limit_amount,
		        :realized_pnl, :total_trades, 1)
	`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("SessionRepo.Create: %w", err)
	}

	logger.Info("💾 Сессия создана: id=%s, user=%d, лимит=%.2f, окно=%d мин",
		s.ID, s.UserID, s.LossLimitAmount, s.DurationMinutes)
	return nil
}

// GetByID возвращает сессию по идентификатору
func (r *sessionRepoImpl) GetByID(ctx context.Context, id string) (*session.Session, error) {
	query := `
		SELECT id, user_id, status, duration_minutes, loss_limit_amount,
		       start_time, end_time, realized_pnl, total_trades,
		       termination_reason, version, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	var m models.Session
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("SessionRepo.GetByID %s: %w", id, session.ErrNotFound)
		}
		return nil, fmt.Errorf("SessionRepo.GetByID: %w", err)
	}
	return m.ToDomain(), nil
}

// FindAllActive возвращает все сессии в статусе active
func (r *sessionRepoImpl) FindAllActive(ctx context.Context) ([]*session.Session, error) {
	query := `
		SELECT id, user_id, status, duration_minutes, loss_limit_amount,
		       start_time, end_time, realized_pnl, total_trades,
		       termination_reason, version, created_at, updated_at
		FROM sessions
		WHERE status = 'active'
	`
	var rows []*models.Session
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("SessionRepo.FindAllActive: %w", err)
	}

	sessions := make([]*session.Session, 0, len(rows))
	for _, m := range rows {
		sessions = append(sessions, m.ToDomain())
	}
	return sessions, nil
}

// CompareAndSwap сохраняет сессию с проверкой версии.
// WHERE version = $N делает запись атомарной: если версия в БД ушла вперёд,
// строка не обновляется и вызывающий получает ErrVersionConflict.
func (r *sessionRepoImpl) CompareAndSwap(ctx context.Context, s *session.Session) error {
	m := models.SessionFromDomain(s)
	query := `
		UPDATE sessions
		SET status = $1, start_time = $2, end_time = $3,
		    realized_pnl = $4, total_trades = $5, termination_reason = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8
	`
	res, err := r.db.ExecContext(ctx, query,
		m.Status, m.StartTime, m.EndTime,
		m.RealizedPnl, m.TotalTrades, m.TerminationReason,
		m.ID, m.Version,
	)
	if err != nil {
		return fmt.Errorf("SessionRepo.CompareAndSwap: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SessionRepo.CompareAndSwap: %w", err)
	}
	if affected == 0 {
		// Либо сессии нет, либо версия устарела - различаем отдельным чтением
		var exists bool
		checkErr := r.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, s.ID)
		if checkErr == nil && !exists {
			return fmt.Errorf("SessionRepo.CompareAndSwap %s: %w", s.ID, session.ErrNotFound)
		}
		return fmt.Errorf("SessionRepo.CompareAndSwap %s (version %d): %w",
			s.ID, s.Version, session.ErrVersionConflict)
	}

	s.Version++
	return nil
}

// AppendAudit дописывает запись в журнал переходов
func (r *sessionRepoImpl) AppendAudit(ctx context.Context, entry session.AuditEntry) error {
	m := models.AuditFromDomain(entry)
	query := `
		INSERT INTO session_audit (session_id, event, from_status, to_status, detail, created_at)
		VALUES (:session_id, :event, :from_status, :to_status, :detail, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("SessionRepo.AppendAudit: %w", err)
	}
	return nil
}

// PurgeBefore удаляет завершённые сессии старше cutoff вместе с историей
// (каскад по FK) и отработанные dead-letter задачи
func (r *sessionRepoImpl) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE status IN ('stopped', 'expired', 'loss_limit_reached', 'completed')
		  AND updated_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("SessionRepo.PurgeBefore: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("SessionRepo.PurgeBefore: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM session_jobs WHERE failed_at < $1`, cutoff); err != nil {
		return purged, fmt.Errorf("SessionRepo.PurgeBefore (session_jobs): %w", err)
	}
	return purged, nil
}

// AggregatePerformance записывает итоговую сводку завершённой сессии.
// INSERT ... ON CONFLICT делает операцию идемпотентной: повторная доставка
// aggregate-задачи перезаписывает строку теми же значениями.
func (r *sessionRepoImpl) AggregatePerformance(ctx context.Context, sessionID string) error {
	query := `
		INSERT INTO session_performance (session_id, user_id, final_status, termination_reason,
		                                 realized_pnl, total_trades, duration_minutes,
		                                 actual_minutes, aggregated_at)
		SELECT id, user_id, status, termination_reason,
		       realized_pnl, total_trades, duration_minutes,
		       COALESCE(EXTRACT(EPOCH FROM (updated_at - start_time)) / 60.0, 0),
		       NOW()
		FROM sessions
		WHERE id = $1
		  AND status IN ('stopped', 'expired', 'loss_limit_reached', 'completed')
		ON CONFLICT (session_id) DO UPDATE SET
			final_status       = EXCLUDED.final_status,
			termination_reason = EXCLUDED.termination_reason,
			realized_pnl       = EXCLUDED.realized_pnl,
			total_trades       = EXCLUDED.total_trades,
			actual_minutes     = EXCLUDED.actual_minutes,
			aggregated_at      = EXCLUDED.aggregated_at
	`
	res, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("SessionRepo.AggregatePerformance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SessionRepo.AggregatePerformance: %w", err)
	}
	if affected == 0 {
		// Сессию уже удалила очистка или она ещё не завершена - повторная
		// доставка задачи безопасна, поэтому не ошибка
		logger.Debug("⏭ AggregatePerformance: сессия %s не найдена или не завершена", sessionID)
		return nil
	}

	logger.Info("💾 Сводка сессии %s сохранена", sessionID)
	return nil
}

// RecordFailedJob сохраняет задачу в dead-letter архив
func (r *sessionRepoImpl) RecordFailedJob(ctx context.Context, job jobs.Job) error {
	m := &models.SessionJob{
		ID:         job.ID,
		Type:       string(job.Type),
		Status:     string(job.Status),
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		LastError:  job.LastError,
		FailedAt:   time.Now().UTC(),
	}
	if job.SessionID != "" {
		m.SessionID = sql.NullString{String: job.SessionID, Valid: true}
	}

	query := `
		INSERT INTO session_jobs (id, type, session_id, status, retry_count,
		                          max_retries, last_error, failed_at)
		VALUES (:id, :type, :session_id, :status, :retry_count,
		        :max_retries, :last_error, :failed_at)
		ON CONFLICT (id) DO UPDATE SET
			status      = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_error  = EXCLUDED.last_error,
			failed_at   = EXCLUDED.failed_at
	`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("SessionRepo.RecordFailedJob: %w", err)
	}
	return nil
}
