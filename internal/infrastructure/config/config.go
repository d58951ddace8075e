// /internal/infrastructure/config/config.go
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ============================================
// КОНФИГУРАЦИЯ БАЗЫ ДАННЫХ
// ============================================

// DatabaseConfig - конфигурация базы данных
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	// Настройки пула соединений
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Настройки миграций
	MigrationsPath    string
	EnableAutoMigrate bool
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Настройки пула соединений
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr возвращает адрес Redis в формате host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ============================================
// КОНФИГУРАЦИЯ ДВИЖКА СЕССИЙ
// ============================================

// EngineConfig - настройки жизненного цикла торговых сессий
type EngineConfig struct {
	// Интервал между проходами планировщика по активным сессиям
	SweepInterval time.Duration
	// Пороги предупреждений в процентах (строго возрастающие)
	WarningBuckets []int
	// Максимальное число повторов фоновой задачи до dead-letter
	MaxJobRetries int
	// Таймаут выполнения одной фоновой задачи
	JobTimeout time.Duration
	// Базовая задержка экспоненциального backoff
	JobRetryBaseDelay time.Duration
	// Верхняя граница задержки backoff
	JobRetryMaxDelay time.Duration
	// Число воркеров исполнителя задач
	WorkerCount int
	// Таймаут обработки одной сессии внутри прохода
	SessionTimeout time.Duration
	// Задержка постановки cleanup-задачи после завершения сессии
	RetentionWindow time.Duration
	// Возраст завершённых сессий и задач, после которого их удаляет cleanup
	RetentionDays int
	// Бэкенд очереди задач: redis или memory
	QueueBackend string
	// Адрес HTTP-эндпоинта /metrics (пустой = отключено)
	MetricsAddr string
}

// ============================================
// ОСНОВНАЯ КОНФИГУРАЦИЯ ПРИЛОЖЕНИЯ
// ============================================

// Config - основная структура конфигурации
type Config struct {
	Environment string
	LogPath     string
	LogLevel    string
	Debug       bool

	Engine   EngineConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// LoadConfig загружает конфигурацию из .env файла и переменных окружения
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		fmt.Printf("⚠️  Config file not found, using environment variables\n")
	}

	cfg := &Config{}

	// ======================
	// ОСНОВНЫЕ НАСТРОЙКИ
	// ======================
	cfg.Environment = getEnv("ENVIRONMENT", "production")
	cfg.LogPath = getEnv("LOG_PATH", "logs/engine.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.Debug = getEnvBool("DEBUG", false)

	// ======================
	// ДВИЖОК СЕССИЙ
	// ======================
	cfg.Engine.SweepInterval = time.Duration(getEnvInt("ENGINE_SWEEP_INTERVAL_SECONDS", 30)) * time.Second
	cfg.Engine.WarningBuckets = parseIntList(getEnv("ENGINE_WARNING_BUCKETS", "80,90,95"))
	cfg.Engine.MaxJobRetries = getEnvInt("ENGINE_MAX_JOB_RETRIES", 3)
	cfg.Engine.JobTimeout = time.Duration(getEnvInt("ENGINE_JOB_TIMEOUT_SECONDS", 30)) * time.Second
	cfg.Engine.JobRetryBaseDelay = getEnvDuration("ENGINE_JOB_RETRY_BASE_DELAY", 5*time.Second)
	cfg.Engine.JobRetryMaxDelay = getEnvDuration("ENGINE_JOB_RETRY_MAX_DELAY", 5*time.Minute)
	cfg.Engine.WorkerCount = getEnvInt("ENGINE_WORKER_COUNT", 4)
	cfg.Engine.SessionTimeout = getEnvDuration("ENGINE_SESSION_TIMEOUT", 10*time.Second)
	cfg.Engine.RetentionWindow = getEnvDuration("ENGINE_RETENTION_WINDOW", 24*time.Hour)
	cfg.Engine.RetentionDays = getEnvInt("ENGINE_RETENTION_DAYS", 30)
	cfg.Engine.QueueBackend = getEnv("ENGINE_QUEUE_BACKEND", "redis")
	cfg.Engine.MetricsAddr = getEnv("ENGINE_METRICS_ADDR", "")

	// ======================
	// БАЗА ДАННЫХ
	// ======================
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "")
	cfg.Database.Password = getEnv("DB_PASSWORD", "")
	cfg.Database.Name = getEnv("DB_NAME", "")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 10)
	cfg.Database.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)
	cfg.Database.MaxConnIdleTime = getEnvDuration("DB_MAX_CONN_IDLE_TIME", 10*time.Minute)
	cfg.Database.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "internal/infrastructure/persistence/postgres/migrations")
	cfg.Database.EnableAutoMigrate = getEnvBool("DB_ENABLE_AUTO_MIGRATE", true)

	// ======================
	// REDIS
	// ======================
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnvInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 10)
	cfg.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", 5)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)
	cfg.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("config: ENGINE_SWEEP_INTERVAL_SECONDS должен быть положительным")
	}
	if c.Engine.MaxJobRetries < 0 {
		return fmt.Errorf("config: ENGINE_MAX_JOB_RETRIES не может быть отрицательным")
	}
	if c.Engine.WorkerCount <= 0 {
		return fmt.Errorf("config: ENGINE_WORKER_COUNT должен быть положительным")
	}
	if len(c.Engine.WarningBuckets) == 0 {
		return fmt.Errorf("config: ENGINE_WARNING_BUCKETS не может быть пустым")
	}
	if !sort.IntsAreSorted(c.Engine.WarningBuckets) {
		return fmt.Errorf("config: ENGINE_WARNING_BUCKETS должны строго возрастать")
	}
	for i, b := range c.Engine.WarningBuckets {
		if b <= 0 || b >= 100 {
			return fmt.Errorf("config: порог предупреждения %d вне диапазона (0, 100)", b)
		}
		if i > 0 && b == c.Engine.WarningBuckets[i-1] {
			return fmt.Errorf("config: ENGINE_WARNING_BUCKETS содержат дубликат %d", b)
		}
	}
	switch c.Engine.QueueBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: неизвестный ENGINE_QUEUE_BACKEND %q", c.Engine.QueueBackend)
	}
	return nil
}

// ============================================
// ХЕЛПЕРЫ ЧТЕНИЯ ОКРУЖЕНИЯ
// ============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func parseIntList(value string) []int {
	var result []int
	if value == "" {
		return result
	}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			result = append(result, n)
		}
	}
	return result
}
