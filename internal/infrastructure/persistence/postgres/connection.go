// internal/infrastructure/persistence/postgres/connection.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"abcom-trader/internal/infrastructure/config"
	"abcom-trader/pkg/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect открывает пул соединений с PostgreSQL и проверяет доступность.
// Если в конфигурации включены автомиграции, применяет их до возврата:
// движок не должен стартовать на неполной схеме.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: не удалось открыть соединение: %w", err)
	}

	// Настройки пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping не прошёл: %w", err)
	}

	logger.Info("✅ Подключение к PostgreSQL установлено: %s:%d/%s", cfg.Host, cfg.Port, cfg.Name)

	if cfg.EnableAutoMigrate {
		migrator := NewMigrator(db)
		if err := migrator.LoadMigrations(cfg.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := migrator.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
	}

	return db, nil
}
