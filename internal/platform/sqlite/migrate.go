package sqlite

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// BuildMigrateURL строит корректный URL для golang-migrate с учётом особенностей ОС.
// На Windows для путей вида "C:\..." создаёт "sqlite:///C:/...",
// на Unix для "/..." создаёт "sqlite:///...".
func BuildMigrateURL(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	urlPath := filepath.ToSlash(absPath)
	if runtime.GOOS == "windows" && len(urlPath) >= 2 && urlPath[1] == ':' {
		urlPath = "/" + urlPath
	}
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}

	return "sqlite://" + urlPath, nil
}

// newMigrate создает экземпляр migrate для встроенных миграций из fsys/dir.
func newMigrate(dbPath string, fsys fs.FS, dir string) (*migrate.Migrate, error) {
	if dbPath == ":memory:" {
		return nil, errors.New("in-memory databases cannot be migrated")
	}
	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build database URL: %w", err)
	}
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// ApplyMigrations применяет все доступные миграции к SQLite базе данных.
// Повторный вызов безопасен: migrate.ErrNoChange не считается ошибкой.
func ApplyMigrations(dbPath string, fsys fs.FS, dir string) error {
	m, err := newMigrate(dbPath, fsys, dir)
	if err != nil {
		return err
	}
	defer func() {
		// golang-migrate держит отдельное соединение, закрываем его
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion возвращает текущую версию примененных миграций.
// Если миграции ещё не применялись, возвращает 0 без ошибки.
func MigrationVersion(dbPath string, fsys fs.FS, dir string) (uint, bool, error) {
	m, err := newMigrate(dbPath, fsys, dir)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		_, _ = m.Close()
	}()

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}
