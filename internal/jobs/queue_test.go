// internal/jobs/queue_test.go
package jobs

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stepClock - управляемые часы для проверки отложенных задач
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryQueue_DelayedJobNotVisibleEarly(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	queue := NewMemoryQueue(clock)
	ctx := context.Background()

	queue.Enqueue(ctx, New(TypeExpire, "s-1", 10*time.Minute, 3, clock.Now()))

	if job, _ := queue.Dequeue(ctx); job != nil {
		t.Fatalf("задача выдана до срока: %+v", job)
	}

	clock.advance(10 * time.Minute)
	job, err := queue.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("задача не выдана после наступления срока")
	}
	if job.Status != StatusProcessing {
		t.Errorf("status = %q, want processing", job.Status)
	}
}

func TestMemoryQueue_DequeueOrderByExecuteAt(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	queue := NewMemoryQueue(clock)
	ctx := context.Background()

	late := New(TypeExpire, "s-late", 0, 3, clock.Now())
	early := New(TypeExpire, "s-early", 0, 3, clock.Now().Add(-time.Minute))
	queue.Enqueue(ctx, late)
	queue.Enqueue(ctx, early)

	job, _ := queue.Dequeue(ctx)
	if job == nil || job.SessionID != "s-early" {
		t.Errorf("первой должна выдаваться самая ранняя задача, got %+v", job)
	}
}

func TestMemoryQueue_NackRedelivers(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	queue := NewMemoryQueue(clock)
	ctx := context.Background()

	queue.Enqueue(ctx, New(TypeLossCheck, "s-1", 0, 3, clock.Now()))
	job, _ := queue.Dequeue(ctx)
	if job == nil {
		t.Fatal("задача не выдана")
	}

	queue.Nack(ctx, *job, clock.Now().Add(5*time.Second))

	if redelivered, _ := queue.Dequeue(ctx); redelivered != nil {
		t.Fatal("задача выдана повторно до retryAt")
	}
	clock.advance(5 * time.Second)
	redelivered, _ := queue.Dequeue(ctx)
	if redelivered == nil {
		t.Fatal("задача не выдана повторно после retryAt")
	}
	if redelivered.ID != job.ID {
		t.Errorf("выдана другая задача: %s != %s", redelivered.ID, job.ID)
	}
}

func TestMemoryQueue_AckRemoves(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	queue := NewMemoryQueue(clock)
	ctx := context.Background()

	queue.Enqueue(ctx, New(TypeCleanup, "", 0, 0, clock.Now()))
	job, _ := queue.Dequeue(ctx)
	queue.Ack(ctx, job.ID)

	if queue.Depth() != 0 {
		t.Errorf("depth = %d, want 0", queue.Depth())
	}
	if again, _ := queue.Dequeue(ctx); again != nil {
		t.Errorf("подтверждённая задача выдана повторно: %+v", again)
	}
}

// fakeMaintenance фиксирует вызовы обслуживания хранилища
type fakeMaintenance struct {
	mu         sync.Mutex
	purgeCut   time.Time
	aggregated []string
}

func (f *fakeMaintenance) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCut = cutoff
	return 2, nil
}

func (f *fakeMaintenance) AggregatePerformance(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggregated = append(f.aggregated, sessionID)
	return nil
}

type fakeControl struct {
	mu      sync.Mutex
	checked []string
}

func (f *fakeControl) CheckSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, sessionID)
	return nil
}

func TestRegisterHandlers(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ctrl := &fakeControl{}
	store := &fakeMaintenance{}
	exec := NewExecutor(NewMemoryQueue(clock), LogAlertSink{}, clock)
	RegisterHandlers(exec, ctrl, store, clock, 24*time.Hour)

	ctx := context.Background()

	if err := exec.handlers[TypeExpire](ctx, Job{SessionID: "s-1"}); err != nil {
		t.Fatal(err)
	}
	if err := exec.handlers[TypeLossCheck](ctx, Job{SessionID: "s-2"}); err != nil {
		t.Fatal(err)
	}
	if len(ctrl.checked) != 2 {
		t.Errorf("проверено сессий = %d, want 2", len(ctrl.checked))
	}

	if err := exec.handlers[TypeCleanup](ctx, Job{}); err != nil {
		t.Fatal(err)
	}
	wantCut := clock.Now().Add(-24 * time.Hour)
	if !store.purgeCut.Equal(wantCut) {
		t.Errorf("cutoff = %v, want %v", store.purgeCut, wantCut)
	}

	if err := exec.handlers[TypeAggregatePerformance](ctx, Job{SessionID: "s-1"}); err != nil {
		t.Fatal(err)
	}
	if err := exec.handlers[TypeAggregatePerformance](ctx, Job{}); err == nil {
		t.Error("aggregate без sessionId должен возвращать ошибку")
	}
}
