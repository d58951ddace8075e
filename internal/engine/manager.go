// internal/engine/manager.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/events"
	"abcom-trader/internal/jobs"
	"abcom-trader/internal/metrics"
	"abcom-trader/pkg/logger"
)

// ManagerConfig - настройки менеджера сессий
type ManagerConfig struct {
	// Задержка cleanup-задачи после завершения сессии
	RetentionWindow time.Duration
	// Лимит повторов для ставящихся задач
	MaxJobRetries int
}

// Manager применяет переходы state machine к сессиям: загрузка, оценка,
// переход, сохранение и исполнение эффектов - всё под per-session блокировкой.
// Зависимости (репозиторий, очередь, рассыльщик) инжектируются явно.
type Manager struct {
	repo        SessionRepository
	queue       jobs.Queue
	broadcaster *events.Broadcaster
	warnings    *session.WarningCache
	clock       session.Clock
	locks       *lockRegistry
	config      ManagerConfig
}

// NewManager создаёт менеджер сессий
func NewManager(repo SessionRepository, queue jobs.Queue, broadcaster *events.Broadcaster,
	warnings *session.WarningCache, clock session.Clock, config ManagerConfig) *Manager {
	return &Manager{
		repo:        repo,
		queue:       queue,
		broadcaster: broadcaster,
		warnings:    warnings,
		clock:       clock,
		locks:       newLockRegistry(),
		config:      config,
	}
}

// Activate переводит pending-сессию в active и фиксирует её окно
func (m *Manager) Activate(ctx context.Context, sessionID string) error {
	release := m.locks.Acquire(sessionID)
	defer release()

	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	return m.transitionLocked(ctx, s, session.EventActivate)
}

// RequestManualStop останавливает сессию по запросу пользователя.
// Запрос для уже завершённой сессии возвращает успех идемпотентно:
// намерение "останови" уже выполнено.
func (m *Manager) RequestManualStop(ctx context.Context, sessionID string) error {
	release := m.locks.Acquire(sessionID)
	defer release()

	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	return m.transitionLocked(ctx, s, session.EventManualStop)
}

// CheckSession перечитывает сессию и применяет назревший переход.
// Используется обработчиками expire и loss_check; для завершённой
// сессии это no-op, что делает задачи идемпотентными.
func (m *Manager) CheckSession(ctx context.Context, sessionID string) error {
	release := m.locks.Acquire(sessionID)
	defer release()

	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil // сессию уже удалил cleanup
		}
		return err
	}
	return m.evaluateLocked(ctx, s)
}

// ProcessActive обрабатывает одну активную сессию внутри прохода планировщика.
// Блокировка захватывается без ожидания: занятую сессию подхватит
// следующий проход (eventual consistency).
func (m *Manager) ProcessActive(ctx context.Context, s *session.Session) error {
	release, ok := m.locks.TryAcquire(s.ID)
	if !ok {
		logger.Debug("⏭ Сессия %s занята, пропуск до следующего прохода", s.ID)
		return nil
	}
	defer release()

	return m.evaluateLocked(ctx, s)
}

// evaluateLocked оценивает пороги, шлёт предупреждения и применяет переход.
// Вызывается только под lock'ом сессии.
func (m *Manager) evaluateLocked(ctx context.Context, s *session.Session) error {
	now := m.clock.Now()
	readings, verdict := session.Evaluate(*s, now)

	for _, w := range m.warnings.Pending(s.ID, readings) {
		m.fireWarning(ctx, s, w)
	}

	ev, due := verdict.TransitionFor()
	if !due {
		return nil
	}
	return m.transitionLocked(ctx, s, ev)
}

// transitionLocked применяет событие state machine и исполняет эффекты
func (m *Manager) transitionLocked(ctx context.Context, s *session.Session, ev session.TransitionEvent) error {
	now := m.clock.Now()
	next, effects, err := session.Apply(*s, ev, now)
	if err != nil {
		return err
	}
	if len(effects) == 0 {
		return nil // сессия уже в конечном статусе - идемпотентный no-op
	}

	if err := m.runEffects(ctx, &next, ev, effects); err != nil {
		if errors.Is(err, errLostRace) {
			return nil
		}
		return err
	}

	*s = next
	return nil
}

// errLostRace - конкурирующий переход зафиксировался первым; наш стал no-op
var errLostRace = errors.New("engine: переход проиграл гонку")

// runEffects исполняет эффекты перехода в порядке выдачи state machine
func (m *Manager) runEffects(ctx context.Context, s *session.Session, ev session.TransitionEvent, effects []session.Effect) error {
	for _, eff := range effects {
		switch eff.Kind {
		case session.EffectPersist:
			if err := m.persist(ctx, s, ev); err != nil {
				return err
			}

		case session.EffectAppendAudit:
			if err := m.repo.AppendAudit(ctx, eff.Audit); err != nil {
				// Переход уже сохранён; потеря записи истории не
				// откатывает его, только логируется
				logger.Error("❌ Manager: ошибка записи аудита сессии %s: %v", s.ID, err)
			}

		case session.EffectPublishOpened:
			m.broadcaster.Publish(events.Event{
				Type:      events.TypeSessionActivated,
				SessionID: s.ID,
				Payload: map[string]interface{}{
					"end_time":         s.EndTime,
					"duration_minutes": s.DurationMinutes,
					"loss_limit":       s.LossLimitAmount,
				},
			})

		case session.EffectPublishClosed:
			metrics.Transitions.WithLabelValues(string(s.Status)).Inc()
			m.warnings.Drop(s.ID)
			m.broadcaster.Publish(events.Event{
				Type:      events.TypeSessionClosed,
				SessionID: s.ID,
				Payload: map[string]interface{}{
					"status":       string(s.Status),
					"reason":       string(s.TerminationReason),
					"realized_pnl": s.RealizedPnl,
					"total_trades": s.TotalTrades,
				},
			})
			logger.Info("🏁 Сессия %s завершена: %s (pnl=%.2f, сделок=%d)",
				s.ID, s.TerminationReason, s.RealizedPnl, s.TotalTrades)

		case session.EffectEnqueueAggregate:
			job := jobs.New(jobs.TypeAggregatePerformance, s.ID, 0, m.config.MaxJobRetries, m.clock.Now())
			if err := m.queue.Enqueue(ctx, job); err != nil {
				logger.Error("❌ Manager: не удалось поставить aggregate-задачу для %s: %v", s.ID, err)
			}

		case session.EffectEnqueueCleanup:
			job := jobs.New(jobs.TypeCleanup, "", m.config.RetentionWindow, m.config.MaxJobRetries, m.clock.Now())
			if err := m.queue.Enqueue(ctx, job); err != nil {
				logger.Error("❌ Manager: не удалось поставить cleanup-задачу: %v", err)
			}
		}
	}
	return nil
}

// persist сохраняет сессию через compare-and-swap. Блокировка делает конфликт
// редким (его может вызвать только внешнее обновление pnl), поэтому конфликт
// разрешается одним немедленным повтором поверх свежей версии; повторный
// конфликт - аномалия.
func (m *Manager) persist(ctx context.Context, s *session.Session, ev session.TransitionEvent) error {
	err := m.repo.CompareAndSwap(ctx, s)
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrVersionConflict) {
		return fmt.Errorf("engine: persist сессии %s: %w", s.ID, err)
	}

	fresh, getErr := m.repo.GetByID(ctx, s.ID)
	if getErr != nil {
		return fmt.Errorf("engine: reload после конфликта %s: %w", s.ID, getErr)
	}
	if fresh.Status.IsTerminal() {
		// Конкурирующий переход победил - наш становится no-op
		logger.Info("🤝 Сессия %s уже завершена конкурирующим переходом (%s)",
			s.ID, fresh.TerminationReason)
		return errLostRace
	}

	// Повторяем переход поверх свежего снапшота (новый pnl, новая версия)
	next, effects, applyErr := session.Apply(*fresh, ev, m.clock.Now())
	if applyErr != nil || len(effects) == 0 {
		return errLostRace
	}
	if err := m.repo.CompareAndSwap(ctx, &next); err != nil {
		logger.Error("🔥 Manager: повторный конфликт версий сессии %s - аномалия: %v", s.ID, err)
		return fmt.Errorf("engine: повторный конфликт версий %s: %w", s.ID, err)
	}
	*s = next
	return nil
}

// fireWarning шлёт предупреждение о приближении к порогу и пишет его в историю
func (m *Manager) fireWarning(ctx context.Context, s *session.Session, w session.Warning) {
	metrics.WarningsFired.WithLabelValues(string(w.Kind), strconv.Itoa(w.Bucket)).Inc()

	m.broadcaster.Publish(events.Event{
		Type:      events.TypeSessionWarning,
		SessionID: s.ID,
		Payload: map[string]interface{}{
			"kind":   string(w.Kind),
			"bucket": w.Bucket,
			"pct":    w.Pct,
		},
	})

	entry := session.AuditEntry{
		SessionID:  s.ID,
		Event:      "warning",
		FromStatus: s.Status,
		ToStatus:   s.Status,
		Detail:     fmt.Sprintf("%s %d%% (факт %.1f%%)", w.Kind, w.Bucket, w.Pct),
		CreatedAt:  m.clock.Now(),
	}
	if err := m.repo.AppendAudit(ctx, entry); err != nil {
		logger.Warn("⚠️ Manager: не удалось записать warning в аудит %s: %v", s.ID, err)
	}

	logger.Warn("⚠️ Сессия %s: порог %s достиг %d%% (%.1f%%)", s.ID, w.Kind, w.Bucket, w.Pct)
}
