package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// DBOptions содержит настройки для SQLite базы данных.
type DBOptions struct {
	// ConnMaxLifetime - максимальное время жизни соединения
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime - максимальное время простоя соединения
	ConnMaxIdleTime time.Duration
	// MaxOpenConns - максимальное количество открытых соединений
	MaxOpenConns int
	// MaxIdleConns - максимальное количество idle соединений
	MaxIdleConns int
	// PingTimeout - таймаут для проверки соединения при создании БД
	PingTimeout time.Duration
	// WALMode - использовать ли WAL режим
	WALMode bool
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// BusyTimeout - таймаут ожидания при SQLITE_BUSY
	BusyTimeout time.Duration
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode
}

// DefaultDBOptions возвращает настройки по умолчанию для журнала доставок.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		MaxOpenConns:    4, // один писатель, несколько читателей
		MaxIdleConns:    1,
		PingTimeout:     5 * time.Second,
		WALMode:         true,
		ForeignKeys:     true,
		BusyTimeout:     5 * time.Second,
		AccessMode:      AccessModeReadWrite,
	}
}

// NewDB создает подключение к SQLite базе данных с настройками по умолчанию.
func NewDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	return NewDBWithOptions(ctx, dbPath, DefaultDBOptions())
}

// NewInMemoryDB создает in-memory SQLite базу данных для тестов.
// Пул ограничен одним соединением, иначе каждое соединение видит свою БД.
func NewInMemoryDB(ctx context.Context) (*sql.DB, error) {
	opts := DefaultDBOptions()
	opts.WALMode = false // WAL не поддерживается для in-memory БД
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return NewDBWithOptions(ctx, ":memory:", opts)
}

// NewDBWithOptions создает новое подключение к SQLite с заданными параметрами.
func NewDBWithOptions(ctx context.Context, dbPath string, opts DBOptions) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(dbPath, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := applyPragmaSettings(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	return db, nil
}

// buildDSN строит DSN строку для SQLite с минимальными параметрами.
// Остальные настройки применяются через PRAGMA после открытия.
func buildDSN(dbPath string, opts DBOptions) string {
	params := []string{}

	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, fmt.Sprintf("mode=%s", opts.AccessMode))
	}
	if opts.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", opts.BusyTimeout.Milliseconds()))
	}

	if len(params) > 0 {
		return dbPath + "?" + strings.Join(params, "&")
	}
	return dbPath
}

// applyPragmaSettings применяет PRAGMA настройки к открытому соединению.
func applyPragmaSettings(ctx context.Context, db *sql.DB, opts DBOptions) error {
	pragmas := make([]string, 0, 4)

	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	if opts.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
