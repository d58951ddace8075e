// internal/core/domain/session/clock.go
package session

import "time"

// Clock - источник текущего времени. Инжектируется для детерминированных тестов.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock возвращает часы реального времени (UTC)
func SystemClock() Clock { return systemClock{} }
