// Package sqlite предоставляет инфраструктурные компоненты для работы с SQLite
// (драйвер modernc.org/sqlite, без cgo).
//
// Основные возможности:
// - Инициализация БД с оптимизированными настройками (WAL, busy timeout)
// - Миграции golang-migrate из встроенной файловой системы (embed.FS)
// - Режимы доступа (read-only, read-write-create)
//
// # Быстрый старт
//
//	ctx := context.Background()
//	db, err := sqlite.NewDB(ctx, "data/fcmrelay.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// # Миграции
//
// Миграции хранятся рядом с кодом репозитория и встраиваются через embed:
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	err := sqlite.ApplyMigrations("data/fcmrelay.db", migrations, "migrations")
//
// golang-migrate открывает собственное соединение по пути к файлу, поэтому
// in-memory базы мигрировать нельзя; для тестов используйте файл в t.TempDir().
package sqlite
