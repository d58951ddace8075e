// internal/infrastructure/persistence/postgres/migrator.go
package postgres

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"abcom-trader/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// Migrator применяет SQL-миграции схемы движка сессий.
// Файлы именуются 001_create_sessions.sql и применяются строго по порядку;
// применённые версии фиксируются в таблице migrations с контрольной суммой.
type Migrator struct {
	db         *sqlx.DB
	migrations map[int]*Migration
}

// Migration - одна миграция схемы
type Migration struct {
	ID       int
	Name     string
	SQL      string
	Checksum string
}

// NewMigrator создаёт мигратор
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: make(map[int]*Migration),
	}
}

// LoadMigrations загружает все *.sql файлы из директории
func (m *Migrator) LoadMigrations(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("не удалось прочитать директорию миграций %s: %w", dir, err)
	}

	var names []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".sql") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		id, title, err := parseMigrationFilename(name)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("не удалось прочитать миграцию %s: %w", name, err)
		}
		m.migrations[id] = &Migration{
			ID:       id,
			Name:     title,
			SQL:      string(content),
			Checksum: checksum(string(content)),
		}
	}

	// ID обязаны идти подряд с единицы, иначе порядок применения неоднозначен
	for id := 1; id <= len(m.migrations); id++ {
		if _, ok := m.migrations[id]; !ok {
			return fmt.Errorf("пропущена миграция с ID %d", id)
		}
	}

	logger.Info("📋 Загружено %d миграций из %s", len(m.migrations), dir)
	return nil
}

// Migrate применяет все неприменённые миграции по порядку.
// Изменённая задним числом миграция (несовпадение контрольной суммы) - ошибка.
func (m *Migrator) Migrate() error {
	if err := m.ensureTable(); err != nil {
		return err
	}

	applied, err := m.appliedChecksums()
	if err != nil {
		return err
	}

	var count int
	for id := 1; id <= len(m.migrations); id++ {
		migration := m.migrations[id]

		if sum, ok := applied[id]; ok {
			if sum != migration.Checksum {
				return fmt.Errorf("миграция %d (%s) изменена после применения", id, migration.Name)
			}
			continue
		}

		if err := m.apply(migration); err != nil {
			return fmt.Errorf("миграция %d (%s): %w", id, migration.Name, err)
		}
		count++
	}

	if count > 0 {
		logger.Info("✅ Применено %d новых миграций", count)
	} else {
		logger.Info("✅ Схема базы актуальна")
	}
	return nil
}

func (m *Migrator) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		checksum VARCHAR(64) NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("не удалось создать таблицу migrations: %w", err)
	}
	return nil
}

func (m *Migrator) appliedChecksums() (map[int]string, error) {
	rows, err := m.db.Query(`SELECT id, checksum FROM migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить применённые миграции: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var id int
		var sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		applied[id] = sum
	}
	return applied, rows.Err()
}

// apply выполняет SQL миграции и запись о ней в одной транзакции
func (m *Migrator) apply(migration *Migration) error {
	tx, err := m.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO migrations (id, name, checksum) VALUES ($1, $2, $3)`,
		migration.ID, migration.Name, migration.Checksum,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info("📤 Применена миграция: %s", migration.Name)
	return nil
}

// parseMigrationFilename разбирает имя вида 001_create_sessions.sql
func parseMigrationFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("неверный формат имени миграции: %s (ожидается 001_name.sql)", filename)
	}
	var id int
	if _, err := fmt.Sscanf(parts[0], "%d", &id); err != nil {
		return 0, "", fmt.Errorf("неверный ID в имени миграции: %s", filename)
	}
	return id, strings.ReplaceAll(parts[1], "_", " "), nil
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
