// internal/jobs/executor_test.go
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"abcom-trader/internal/core/domain/session"
)

// countingAlert считает эскалации dead-letter
type countingAlert struct {
	mu   sync.Mutex
	jobs []Job
	errs []error
}

func (a *countingAlert) JobFailed(job Job, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	a.errs = append(a.errs, err)
}

func (a *countingAlert) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func fastConfig() ExecutorConfig {
	return ExecutorConfig{
		WorkerCount: 1,
		JobTimeout:  time.Second,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		IdleDelay:   time.Millisecond,
	}
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("условие не выполнилось за отведённое время")
}

// Вечно падающий обработчик: ровно maxRetries+1 попыток, затем ровно один алерт
func TestExecutor_RetryBoundAndSingleAlert(t *testing.T) {
	queue := NewMemoryQueue(session.SystemClock())
	alert := &countingAlert{}
	exec := NewExecutor(queue, alert, session.SystemClock(), fastConfig())

	var attempts int32
	exec.Register(TypeLossCheck, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("всегда падаю")
	})

	job := New(TypeLossCheck, "s-1", 0, 3, time.Now().UTC())
	if err := queue.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	exec.Start()
	defer exec.Stop()

	waitForCond(t, func() bool { return alert.count() == 1 })
	time.Sleep(50 * time.Millisecond) // убеждаемся, что повторов больше нет

	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Errorf("попыток = %d, want maxRetries+1 = 4", got)
	}
	if alert.count() != 1 {
		t.Errorf("алертов = %d, want ровно 1", alert.count())
	}
	failed := alert.jobs[0]
	if failed.Status != StatusFailed {
		t.Errorf("status = %q, want failed", failed.Status)
	}
	if failed.RetryCount != failed.MaxRetries {
		t.Errorf("retryCount = %d, want == maxRetries = %d", failed.RetryCount, failed.MaxRetries)
	}
	if failed.LastError == "" {
		t.Error("lastError пуст")
	}
	if queue.Depth() != 0 {
		t.Errorf("в очереди осталось %d задач", queue.Depth())
	}
}

func TestExecutor_SuccessIsTerminal(t *testing.T) {
	queue := NewMemoryQueue(session.SystemClock())
	alert := &countingAlert{}
	exec := NewExecutor(queue, alert, session.SystemClock(), fastConfig())

	var attempts int32
	exec.Register(TypeExpire, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return nil
	})

	queue.Enqueue(context.Background(), New(TypeExpire, "s-1", 0, 3, time.Now().UTC()))
	exec.Start()
	defer exec.Stop()

	waitForCond(t, func() bool { return atomic.LoadInt32(&attempts) == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("попыток = %d, want 1", got)
	}
	if alert.count() != 0 {
		t.Errorf("алертов = %d, want 0", alert.count())
	}
}

// Паника обработчика засчитывается как провал попытки и не роняет пул
func TestExecutor_PanicRecovered(t *testing.T) {
	queue := NewMemoryQueue(session.SystemClock())
	alert := &countingAlert{}
	exec := NewExecutor(queue, alert, session.SystemClock(), fastConfig())

	exec.Register(TypeCleanup, func(ctx context.Context, job Job) error {
		panic("boom")
	})
	var ok int32
	exec.Register(TypeExpire, func(ctx context.Context, job Job) error {
		atomic.AddInt32(&ok, 1)
		return nil
	})

	queue.Enqueue(context.Background(), New(TypeCleanup, "", 0, 1, time.Now().UTC()))
	exec.Start()
	defer exec.Stop()

	waitForCond(t, func() bool { return alert.count() == 1 })

	// Пул жив и обрабатывает следующие задачи
	queue.Enqueue(context.Background(), New(TypeExpire, "s-1", 0, 1, time.Now().UTC()))
	waitForCond(t, func() bool { return atomic.LoadInt32(&ok) == 1 })
}

// Зависший обработчик отсекается таймаутом и уходит на повтор
func TestExecutor_HungHandlerTimesOut(t *testing.T) {
	queue := NewMemoryQueue(session.SystemClock())
	alert := &countingAlert{}
	cfg := fastConfig()
	cfg.JobTimeout = 10 * time.Millisecond
	exec := NewExecutor(queue, alert, session.SystemClock(), cfg)

	exec.Register(TypeLossCheck, func(ctx context.Context, job Job) error {
		<-ctx.Done() // висим до отмены
		return ctx.Err()
	})

	queue.Enqueue(context.Background(), New(TypeLossCheck, "s-1", 0, 0, time.Now().UTC()))
	exec.Start()
	defer exec.Stop()

	waitForCond(t, func() bool { return alert.count() == 1 })
}

func TestExecutor_UnknownJobType(t *testing.T) {
	queue := NewMemoryQueue(session.SystemClock())
	alert := &countingAlert{}
	exec := NewExecutor(queue, alert, session.SystemClock(), fastConfig())

	queue.Enqueue(context.Background(), New(Type("мусор"), "", 0, 0, time.Now().UTC()))
	exec.Start()
	defer exec.Stop()

	waitForCond(t, func() bool { return alert.count() == 1 })
}

func TestExecutor_Backoff(t *testing.T) {
	exec := NewExecutor(nil, LogAlertSink{}, session.SystemClock(), ExecutorConfig{
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	})

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // упирается в потолок
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := exec.backoff(tt.retry); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
