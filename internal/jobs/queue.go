// internal/jobs/queue.go
package jobs

import (
	"context"
	"sync"
	"time"

	"abcom-trader/internal/core/domain/session"
)

// Queue - порт очереди задач.
// Семантика multiple-producer/multiple-consumer, доставка at-least-once:
// корректность обеспечивают идемпотентные обработчики.
type Queue interface {
	// Enqueue помещает задачу в очередь
	Enqueue(ctx context.Context, job Job) error
	// Dequeue забирает готовую к выполнению задачу (nil, nil если пусто).
	// Может блокироваться до внутреннего таймаута опроса.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack подтверждает окончательную обработку задачи
	Ack(ctx context.Context, jobID string) error
	// Nack возвращает задачу в очередь с повтором в retryAt
	Nack(ctx context.Context, job Job, retryAt time.Time) error
}

// MemoryQueue - очередь в памяти процесса для single-node развёртываний и тестов
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Job
	inflight map[string]Job
	clock    session.Clock
}

// NewMemoryQueue создаёт очередь в памяти
func NewMemoryQueue(clock session.Clock) *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]Job),
		clock:    clock,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = StatusPending
	q.pending = append(q.pending, job)
	return nil
}

// Dequeue возвращает задачу с самым ранним наступившим ExecuteAt
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	best := -1
	for i, j := range q.pending {
		if j.ExecuteAt.After(now) {
			continue
		}
		if best == -1 || j.ExecuteAt.Before(q.pending[best].ExecuteAt) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil
	}

	job := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	job.Status = StatusProcessing
	q.inflight[job.ID] = job
	return &job, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, jobID)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, job Job, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, job.ID)
	job.Status = StatusPending
	job.ExecuteAt = retryAt
	q.pending = append(q.pending, job)
	return nil
}

// Depth возвращает число ожидающих задач
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
