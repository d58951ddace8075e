// internal/core/domain/session/machine.go
package session

import (
	"fmt"
	"time"
)

// TransitionEvent - событие state machine
type TransitionEvent string

const (
	EventActivate     TransitionEvent = "activate"
	EventManualStop   TransitionEvent = "manual_stop"
	EventTimeExceeded TransitionEvent = "time_exceeded"
	EventLossBreach   TransitionEvent = "loss_breach"
)

// EffectKind - тип побочного эффекта перехода
type EffectKind string

const (
	// EffectPersist - сохранить сессию через compare-and-swap
	EffectPersist EffectKind = "persist"
	// EffectAppendAudit - дописать запись в историю
	EffectAppendAudit EffectKind = "append_audit"
	// EffectPublishOpened - разослать событие об активации
	EffectPublishOpened EffectKind = "publish_opened"
	// EffectPublishClosed - разослать событие о завершении
	EffectPublishClosed EffectKind = "publish_closed"
	// EffectEnqueueCleanup - поставить отложенную cleanup-задачу
	EffectEnqueueCleanup EffectKind = "enqueue_cleanup"
	// EffectEnqueueAggregate - поставить задачу агрегации результатов
	EffectEnqueueAggregate EffectKind = "enqueue_aggregate"
)

// Effect - побочный эффект, который должен выполнить вызывающий код.
// Сама state machine эффектов не исполняет.
type Effect struct {
	Kind  EffectKind
	Audit AuditEntry
}

// Apply - чистая функция перехода: (состояние, событие) -> (состояние, эффекты).
// Сессия передаётся по значению, мутаций исходного объекта нет.
//
// Повторное событие для уже завершённой сессии - безопасный no-op:
// победитель гонки определяется per-session блокировкой снаружи,
// проигравший видит конечный статус и возвращает успех идемпотентно.
func Apply(s Session, ev TransitionEvent, now time.Time) (Session, []Effect, error) {
	switch ev {
	case EventActivate:
		return applyActivate(s, now)
	case EventManualStop:
		if s.Status.IsTerminal() {
			return s, nil, nil
		}
		return applyTerminal(s, ev, StatusStopped, ReasonManualStop, now)
	case EventTimeExceeded:
		if s.Status.IsTerminal() {
			return s, nil, nil
		}
		// Политика: время вышло в плюсе или в нуле - completed,
		// в минусе - expired
		if s.RealizedPnl >= 0 {
			return applyTerminal(s, ev, StatusCompleted, ReasonNaturalCompletion, now)
		}
		return applyTerminal(s, ev, StatusExpired, ReasonTimeExpired, now)
	case EventLossBreach:
		if s.Status.IsTerminal() {
			return s, nil, nil
		}
		return applyTerminal(s, ev, StatusLossLimitReached, ReasonLossLimitReached, now)
	default:
		return s, nil, fmt.Errorf("%w: неизвестное событие %q", ErrInvalidTransition, ev)
	}
}

// applyActivate переводит pending -> active и фиксирует окно сессии
func applyActivate(s Session, now time.Time) (Session, []Effect, error) {
	if s.Status != StatusPending {
		return s, nil, fmt.Errorf("%w: activate из статуса %q", ErrInvalidTransition, s.Status)
	}

	start := now
	end := now.Add(time.Duration(s.DurationMinutes) * time.Minute)

	s.Status = StatusActive
	s.StartTime = &start
	s.EndTime = &end
	s.UpdatedAt = now

	effects := []Effect{
		{Kind: EffectPersist},
		{Kind: EffectAppendAudit, Audit: AuditEntry{
			SessionID:  s.ID,
			Event:      string(EventActivate),
			FromStatus: StatusPending,
			ToStatus:   StatusActive,
			Detail:     fmt.Sprintf("окно %d мин, лимит убытка %.2f", s.DurationMinutes, s.LossLimitAmount),
			CreatedAt:  now,
		}},
		{Kind: EffectPublishOpened},
	}
	return s, effects, nil
}

// applyTerminal переводит active в один из конечных статусов
func applyTerminal(s Session, ev TransitionEvent, to Status, reason TerminationReason, now time.Time) (Session, []Effect, error) {
	if s.Status != StatusActive {
		return s, nil, fmt.Errorf("%w: %s из статуса %q", ErrInvalidTransition, ev, s.Status)
	}

	from := s.Status
	s.Status = to
	s.TerminationReason = reason
	s.UpdatedAt = now

	effects := []Effect{
		{Kind: EffectPersist},
		{Kind: EffectAppendAudit, Audit: AuditEntry{
			SessionID:  s.ID,
			Event:      string(ev),
			FromStatus: from,
			ToStatus:   to,
			Detail:     fmt.Sprintf("pnl=%.2f, сделок=%d, причина=%s", s.RealizedPnl, s.TotalTrades, reason),
			CreatedAt:  now,
		}},
		{Kind: EffectPublishClosed},
		{Kind: EffectEnqueueAggregate},
		{Kind: EffectEnqueueCleanup},
	}
	return s, effects, nil
}
