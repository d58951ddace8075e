// internal/engine/scheduler.go
package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/jobs"
	"abcom-trader/internal/metrics"
	"abcom-trader/pkg/logger"
)

const listTimeout = 30 * time.Second

// SchedulerConfig - настройки планировщика
type SchedulerConfig struct {
	// Интервал между проходами
	SweepInterval time.Duration
	// Таймаут обработки одной сессии внутри прохода
	SessionTimeout time.Duration
	// Интервал регулярной постановки cleanup-задачи
	CleanupInterval time.Duration
	// Лимит повторов для задач, ставящихся при ошибках прохода
	MaxJobRetries int
}

// Scheduler - активный компонент движка: с фиксированным интервалом
// обходит все активные сессии, оценивает пороги и применяет переходы.
//
// Один логический поток управления: проходы не перекрываются - если
// предыдущий ещё идёт, очередной пропускается. Ошибка обработки одной
// сессии изолируется и не прерывает проход для остальных.
type Scheduler struct {
	manager *Manager
	repo    SessionRepository
	queue   jobs.Queue
	clock   session.Clock
	config  SchedulerConfig

	sweeping int32
	stopChan chan struct{}
	wg       sync.WaitGroup

	cleanupMu   sync.Mutex
	nextCleanup time.Time
}

// NewScheduler создаёт планировщик
func NewScheduler(manager *Manager, repo SessionRepository, queue jobs.Queue,
	clock session.Clock, config SchedulerConfig) *Scheduler {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 24 * time.Hour
	}
	return &Scheduler{
		manager:  manager,
		repo:     repo,
		queue:    queue,
		clock:    clock,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Start запускает цикл проходов в фоновой горутине.
// Первый проход выполняется сразу: сессии, чей срок истёк пока процесс
// был остановлен, завершаются немедленно.
func (s *Scheduler) Start() {
	s.cleanupMu.Lock()
	s.nextCleanup = s.clock.Now().Add(s.config.CleanupInterval)
	s.cleanupMu.Unlock()

	s.wg.Add(1)
	go s.loop()
	logger.Info("✅ Scheduler запущен (интервал %v)", s.config.SweepInterval)
}

// Stop останавливает планировщик и ждёт завершения текущего прохода
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	logger.Info("🛑 Scheduler остановлен")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.Sweep()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
			s.maybeEnqueueCleanup()
		case <-s.stopChan:
			return
		}
	}
}

// Sweep выполняет один проход по всем активным сессиям.
// Если предыдущий проход ещё выполняется, очередной пропускается -
// два прохода никогда не идут параллельно.
func (s *Scheduler) Sweep() {
	if !atomic.CompareAndSwapInt32(&s.sweeping, 0, 1) {
		metrics.SweepsSkipped.Inc()
		logger.Warn("⚠️ Scheduler: предыдущий проход ещё идёт, пропуск")
		return
	}
	defer atomic.StoreInt32(&s.sweeping, 0)

	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	sessions, err := s.repo.FindAllActive(ctx)
	cancel()
	if err != nil {
		logger.Error("❌ Scheduler: не удалось загрузить активные сессии: %v", err)
		return
	}

	metrics.ActiveSessions.Set(float64(len(sessions)))
	if len(sessions) == 0 {
		metrics.SweepsTotal.Inc()
		return
	}

	// Сессии обрабатываются независимо: медленное сохранение одной
	// не блокирует остальные внутри прохода
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			s.processOne(sess)
		}(sess)
	}
	wg.Wait()

	elapsed := time.Since(start)
	metrics.SweepsTotal.Inc()
	metrics.SweepDuration.Observe(elapsed.Seconds())
	logger.Debug("🔄 Проход завершён: %d сессий за %v", len(sessions), elapsed)
}

// processOne обрабатывает одну сессию с таймаутом и изоляцией ошибок
func (s *Scheduler) processOne(sess *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ Scheduler: паника при обработке сессии %s: %v\n%s",
				sess.ID, r, debug.Stack())
			s.enqueueRecheck(sess.ID)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.SessionTimeout)
	defer cancel()

	if err := s.manager.ProcessActive(ctx, sess); err != nil {
		// Ошибка изолируется: логируем и ставим повторную проверку
		// через retry-механизм исполнителя задач
		logger.Error("❌ Scheduler: ошибка обработки сессии %s: %v", sess.ID, err)
		s.enqueueRecheck(sess.ID)
	}
}

// enqueueRecheck ставит задачу повторной проверки порогов сессии
func (s *Scheduler) enqueueRecheck(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job := jobs.New(jobs.TypeLossCheck, sessionID, 0, s.config.MaxJobRetries, s.clock.Now())
	if err := s.queue.Enqueue(ctx, job); err != nil {
		logger.Error("❌ Scheduler: не удалось поставить recheck-задачу для %s: %v", sessionID, err)
	}
}

// maybeEnqueueCleanup раз в CleanupInterval ставит регулярную cleanup-задачу
// независимо от завершений сессий
func (s *Scheduler) maybeEnqueueCleanup() {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	now := s.clock.Now()
	if now.Before(s.nextCleanup) {
		return
	}
	s.nextCleanup = now.Add(s.config.CleanupInterval)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job := jobs.New(jobs.TypeCleanup, "", 0, s.config.MaxJobRetries, now)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		logger.Error("❌ Scheduler: не удалось поставить регулярную cleanup-задачу: %v", err)
		return
	}
	logger.Info("📋 Scheduler: поставлена регулярная cleanup-задача, следующая в %s",
		s.nextCleanup.Format("2006-01-02 15:04:05"))
}
