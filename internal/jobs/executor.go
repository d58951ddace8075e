// internal/jobs/executor.go
package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/metrics"
	"abcom-trader/pkg/logger"
)

// Handler - обработчик одного типа задач. Обязан быть идемпотентным:
// доставка at-least-once означает, что завершённая задача может прийти повторно.
type Handler func(ctx context.Context, job Job) error

// AlertSink - приёмник алертов о задачах, исчерпавших лимит повторов.
// Это единственный путь, по которому сбой жизненного цикла виден человеку.
type AlertSink interface {
	JobFailed(job Job, err error)
}

// LogAlertSink пишет алерт в лог
type LogAlertSink struct{}

func (LogAlertSink) JobFailed(job Job, err error) {
	logger.Error("🚨 DEAD-LETTER: задача %s (%s, session=%s) исчерпала %d повторов: %v",
		job.ID, job.Type, job.SessionID, job.MaxRetries, err)
}

// ExecutorConfig - конфигурация исполнителя
type ExecutorConfig struct {
	WorkerCount int
	JobTimeout  time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Пауза между опросами пустой очереди
	IdleDelay time.Duration
}

// DefaultExecutorConfig - конфигурация по умолчанию
var DefaultExecutorConfig = ExecutorConfig{
	WorkerCount: 4,
	JobTimeout:  30 * time.Second,
	BaseDelay:   5 * time.Second,
	MaxDelay:    5 * time.Minute,
	IdleDelay:   500 * time.Millisecond,
}

// Executor - пул воркеров, исполняющих задачи жизненного цикла.
// Каждый воркер обрабатывает одну задачу до завершения или провала.
type Executor struct {
	queue    Queue
	handlers map[Type]Handler
	alert    AlertSink
	clock    session.Clock
	config   ExecutorConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor создаёт исполнитель задач
func NewExecutor(queue Queue, alert AlertSink, clock session.Clock, config ...ExecutorConfig) *Executor {
	cfg := DefaultExecutorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		queue:    queue,
		handlers: make(map[Type]Handler),
		alert:    alert,
		clock:    clock,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register привязывает обработчик к типу задачи. Вызывается до Start().
func (e *Executor) Register(t Type, h Handler) {
	e.handlers[t] = h
}

// Start запускает пул воркеров
func (e *Executor) Start() {
	for i := 0; i < e.config.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	logger.Info("✅ JobExecutor запущен (%d воркеров, таймаут задачи %v)",
		e.config.WorkerCount, e.config.JobTimeout)
}

// Stop останавливает воркеров и дожидается текущих задач
func (e *Executor) Stop() {
	e.cancel()
	e.wg.Wait()
	logger.Info("🛑 JobExecutor остановлен")
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		job, err := e.queue.Dequeue(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			logger.Error("❌ JobExecutor[%d]: ошибка очереди: %v", id, err)
			e.sleep(e.config.IdleDelay)
			continue
		}
		if job == nil {
			e.sleep(e.config.IdleDelay)
			continue
		}

		e.process(*job)
	}
}

// process выполняет задачу и решает её судьбу: ack, повтор или dead-letter
func (e *Executor) process(job Job) {
	metrics.JobAttempts.WithLabelValues(string(job.Type)).Inc()

	err := e.runHandler(job)
	ctx, cancelAck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelAck()

	if err == nil {
		if ackErr := e.queue.Ack(ctx, job.ID); ackErr != nil {
			logger.Error("❌ JobExecutor: ошибка ack задачи %s: %v", job.ID, ackErr)
		}
		return
	}

	job.LastError = err.Error()

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		retryAt := e.clock.Now().Add(e.backoff(job.RetryCount))
		metrics.JobRetries.WithLabelValues(string(job.Type)).Inc()
		logger.Warn("⚠️ JobExecutor: задача %s (%s) упала, повтор %d/%d в %s: %v",
			job.ID, job.Type, job.RetryCount, job.MaxRetries,
			retryAt.Format("15:04:05"), err)
		if nackErr := e.queue.Nack(ctx, job, retryAt); nackErr != nil {
			logger.Error("❌ JobExecutor: ошибка nack задачи %s: %v", job.ID, nackErr)
		}
		return
	}

	// Лимит повторов исчерпан: помечаем failed и эскалируем ровно один раз
	job.Status = StatusFailed
	metrics.JobDeadLetters.WithLabelValues(string(job.Type)).Inc()
	e.alert.JobFailed(job, err)
	if ackErr := e.queue.Ack(ctx, job.ID); ackErr != nil {
		logger.Error("❌ JobExecutor: ошибка ack провальной задачи %s: %v", job.ID, ackErr)
	}
}

// runHandler выполняет обработчик с таймаутом и перехватом паники.
// Паника обработчика засчитывается как обычный провал попытки
// и никогда не роняет пул воркеров.
func (e *Executor) runHandler(job Job) (err error) {
	handler, ok := e.handlers[job.Type]
	if !ok {
		return fmt.Errorf("jobs: нет обработчика для типа %q", job.Type)
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.config.JobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("❌ JobExecutor: паника в обработчике %s: %v\n%s",
					job.Type, r, debug.Stack())
				done <- fmt.Errorf("jobs: panic в обработчике %s: %v", job.Type, r)
			}
		}()
		done <- handler(ctx, job)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		// Зависший обработчик считается провалившимся и уходит на повтор
		return fmt.Errorf("jobs: таймаут выполнения %s (%v)", job.Type, e.config.JobTimeout)
	}
}

// backoff - экспоненциальная задержка с верхней границей
func (e *Executor) backoff(retry int) time.Duration {
	d := e.config.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= e.config.MaxDelay {
			return e.config.MaxDelay
		}
	}
	if d > e.config.MaxDelay {
		return e.config.MaxDelay
	}
	return d
}

func (e *Executor) sleep(d time.Duration) {
	select {
	case <-e.ctx.Done():
	case <-time.After(d):
	}
}
