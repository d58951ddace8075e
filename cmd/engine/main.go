package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abcom-trader/internal/core/domain/session"
	"abcom-trader/internal/engine"
	"abcom-trader/internal/events"
	"abcom-trader/internal/infrastructure/config"
	"abcom-trader/internal/infrastructure/persistence/postgres"
	session_repo "abcom-trader/internal/infrastructure/persistence/postgres/repository/session"
	"abcom-trader/internal/jobs"
	"abcom-trader/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}

	if err := logger.InitGlobal(cfg.LogPath, cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}

	printHeader("ДВИЖОК ТОРГОВЫХ СЕССИЙ")
	fmt.Printf("🔧 Конфигурация:\n")
	fmt.Printf("   Окружение: %s\n", cfg.Environment)
	fmt.Printf("   Интервал проходов: %v\n", cfg.Engine.SweepInterval)
	fmt.Printf("   Пороги предупреждений: %v%%\n", cfg.Engine.WarningBuckets)
	fmt.Printf("   Очередь задач: %s (%d воркеров, до %d повторов)\n",
		cfg.Engine.QueueBackend, cfg.Engine.WorkerCount, cfg.Engine.MaxJobRetries)
	fmt.Printf("   Хранение завершённых сессий: %d дней\n", cfg.Engine.RetentionDays)
	fmt.Println()

	clock := session.SystemClock()

	// База данных
	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("❌ PostgreSQL недоступен: %v", err)
	}
	defer db.Close()

	repo := session_repo.NewSessionRepository(db)

	// Redis нужен очереди задач и трансляции событий
	var redisClient *redis.Client
	if cfg.Engine.QueueBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("❌ Redis недоступен: %v", err)
		}
		defer redisClient.Close()
		logger.Info("✅ Подключение к Redis установлено: %s", cfg.Redis.Addr())
	}

	// Очередь задач
	var queue jobs.Queue
	if redisClient != nil {
		redisQueue := jobs.NewRedisQueue(redisClient)
		// Задачи, зависшие в processing после падения процесса, возвращаются в очередь
		recoverCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = redisQueue.Recover(recoverCtx)
		cancel()
		if err != nil {
			logger.Warn("⚠️ Не удалось восстановить зависшие задачи: %v", err)
		}
		queue = redisQueue
	} else {
		logger.Warn("⚠️ Очередь задач в памяти: задачи не переживут рестарт процесса")
		queue = jobs.NewMemoryQueue(clock)
	}

	// Трансляция событий подписчикам и во внешний транспорт
	var transport events.Publisher
	if redisClient != nil {
		transport = events.NewRedisPublisher(redisClient)
	}
	broadcaster := events.NewBroadcaster(transport)
	broadcaster.Start()
	defer broadcaster.Stop()

	// Движок сессий
	manager := engine.NewManager(repo, queue, broadcaster,
		session.NewWarningCache(cfg.Engine.WarningBuckets), clock,
		engine.ManagerConfig{
			RetentionWindow: cfg.Engine.RetentionWindow,
			MaxJobRetries:   cfg.Engine.MaxJobRetries,
		})

	// Исполнитель фоновых задач
	executor := jobs.NewExecutor(queue, jobs.NewDeadLetterSink(repo, broadcaster), clock,
		jobs.ExecutorConfig{
			WorkerCount: cfg.Engine.WorkerCount,
			JobTimeout:  cfg.Engine.JobTimeout,
			BaseDelay:   cfg.Engine.JobRetryBaseDelay,
			MaxDelay:    cfg.Engine.JobRetryMaxDelay,
			IdleDelay:   500 * time.Millisecond,
		})
	retention := time.Duration(cfg.Engine.RetentionDays) * 24 * time.Hour
	jobs.RegisterHandlers(executor, manager, repo, clock, retention)
	executor.Start()
	defer executor.Stop()

	// Планировщик: первый проход при старте завершает сессии,
	// истёкшие пока процесс был остановлен
	scheduler := engine.NewScheduler(manager, repo, queue, clock, engine.SchedulerConfig{
		SweepInterval:  cfg.Engine.SweepInterval,
		SessionTimeout: cfg.Engine.SessionTimeout,
		MaxJobRetries:  cfg.Engine.MaxJobRetries,
	})
	scheduler.Start()
	defer scheduler.Stop()

	// Prometheus-метрики
	if cfg.Engine.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("✅ Метрики доступны на %s/metrics", cfg.Engine.MetricsAddr)
			if err := http.ListenAndServe(cfg.Engine.MetricsAddr, mux); err != nil {
				logger.Error("❌ Сервер метрик остановился: %v", err)
			}
		}()
	}

	logger.Info("✅ Движок сессий запущен")

	// Ожидание сигнала завершения
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("🏁 Получен сигнал %v, останавливаемся...", sig)
}

func printHeader(title string) {
	fmt.Println("============================================================")
	fmt.Printf("   %s\n", title)
	fmt.Println("============================================================")
}
