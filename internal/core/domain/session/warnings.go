// internal/core/domain/session/warnings.go
package session

import (
	"sort"
	"sync"
)

// Warning - предупреждение о приближении к порогу
type Warning struct {
	SessionID string
	Kind      Kind
	Bucket    int
	Pct       float64
}

// WarningCache - дедупликация предупреждений по (sessionId, kind, bucket).
//
// Пороги монотонны: после срабатывания 90 порог 80 считается отработанным,
// поэтому при задержке прохода не возникает шквала устаревших уведомлений.
// Состояние живёт только в памяти и сбрасывается, когда сессия покидает active.
type WarningCache struct {
	mu      sync.Mutex
	buckets []int
	// sessionID -> kind -> максимальный сработавший порог
	fired map[string]map[Kind]int
}

// NewWarningCache создаёт кэш с заданными порогами (в процентах, по возрастанию)
func NewWarningCache(buckets []int) *WarningCache {
	sorted := make([]int, len(buckets))
	copy(sorted, buckets)
	sort.Ints(sorted)
	return &WarningCache{
		buckets: sorted,
		fired:   make(map[string]map[Kind]int),
	}
}

// Pending возвращает предупреждения, которые нужно отправить по данным
// показаниям, и сразу помечает их отправленными. Для каждого вида срабатывает
// только старший достигнутый порог.
func (c *WarningCache) Pending(sessionID string, readings []Reading) []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Warning
	for _, r := range readings {
		bucket, ok := c.highestReached(r.Pct)
		if !ok {
			continue
		}

		kinds := c.fired[sessionID]
		if kinds == nil {
			kinds = make(map[Kind]int)
			c.fired[sessionID] = kinds
		}
		if bucket <= kinds[r.Kind] {
			continue // уже отправляли этот или более высокий порог
		}
		kinds[r.Kind] = bucket

		out = append(out, Warning{
			SessionID: sessionID,
			Kind:      r.Kind,
			Bucket:    bucket,
			Pct:       r.Pct,
		})
	}
	return out
}

// Drop освобождает состояние сессии (вызывается при выходе из active)
func (c *WarningCache) Drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fired, sessionID)
}

// highestReached возвращает старший порог, не превышающий pct
func (c *WarningCache) highestReached(pct float64) (int, bool) {
	best := 0
	for _, b := range c.buckets {
		if pct >= float64(b) && pct < 100 {
			best = b
		}
	}
	return best, best > 0
}
