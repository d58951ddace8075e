// internal/engine/locks.go
package engine

import "sync"

// lockRegistry - per-session взаимное исключение для single-node развёртывания.
// Область блокировки покрывает "оценка -> переход -> сохранение", поэтому при
// конкурирующих триггерах фиксируется не более одного выигравшего перехода.
// В multi-node развёртывании её место занимает распределённая блокировка
// или партиционирование по sessionId - это решение деплоя, не ядра.
type lockRegistry struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{entries: make(map[string]*lockEntry)}
}

func (r *lockRegistry) get(id string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	if e == nil {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		r.entries[id] = e
	}
	e.refs++
	return e
}

func (r *lockRegistry) put(id string, e *lockEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, id)
	}
}

// Acquire блокирующе захватывает lock сессии; возвращает функцию освобождения
func (r *lockRegistry) Acquire(id string) func() {
	e := r.get(id)
	e.ch <- struct{}{}
	return func() {
		<-e.ch
		r.put(id, e)
	}
}

// TryAcquire захватывает lock без ожидания. Используется проходом планировщика:
// занятая сессия пропускается до следующего прохода.
func (r *lockRegistry) TryAcquire(id string) (func(), bool) {
	e := r.get(id)
	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			r.put(id, e)
		}, true
	default:
		r.put(id, e)
		return nil, false
	}
}
