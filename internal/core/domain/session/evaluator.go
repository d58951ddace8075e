// internal/core/domain/session/evaluator.go
package session

import (
	"math"
	"time"
)

// Kind - вид порога
type Kind string

const (
	KindTime Kind = "time"
	KindLoss Kind = "loss"
)

// Verdict - терминальный вердикт оценки
type Verdict string

const (
	VerdictNone       Verdict = "none"
	VerdictExpired    Verdict = "expired"
	VerdictLossBreach Verdict = "loss_breach"
)

// Reading - показание порога в процентах
type Reading struct {
	Kind Kind
	Pct  float64
}

// Evaluate - чистая функция: снапшот сессии + текущее время -> показания и вердикт.
// Побочных эффектов нет, результат полностью детерминирован.
//
// Убыток проверяется после времени: при одновременном достижении обоих
// порогов побеждает loss_breach - защита от убытка сильнее гарантии времени.
func Evaluate(s Session, now time.Time) ([]Reading, Verdict) {
	if s.Status != StatusActive || s.StartTime == nil || s.EndTime == nil {
		return nil, VerdictNone
	}

	timePct := clampPct(float64(now.Sub(*s.StartTime)) / float64(s.EndTime.Sub(*s.StartTime)) * 100)
	lossPct := clampPct(lossAmount(s.RealizedPnl) / s.LossLimitAmount * 100)

	readings := []Reading{
		{Kind: KindTime, Pct: timePct},
		{Kind: KindLoss, Pct: lossPct},
	}

	verdict := VerdictNone
	if timePct >= 100 {
		verdict = VerdictExpired
	}
	if lossPct >= 100 {
		verdict = VerdictLossBreach
	}
	return readings, verdict
}

// TransitionFor сопоставляет вердикт событию state machine
func (v Verdict) TransitionFor() (TransitionEvent, bool) {
	switch v {
	case VerdictExpired:
		return EventTimeExceeded, true
	case VerdictLossBreach:
		return EventLossBreach, true
	}
	return "", false
}

// lossAmount возвращает абсолютную величину убытка (прибыль = 0)
func lossAmount(pnl float64) float64 {
	return math.Abs(math.Min(0, pnl))
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
