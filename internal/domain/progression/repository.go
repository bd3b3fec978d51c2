package progression

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Store определяет контракт хранилища прогресса.
// Реализации находятся в infrastructure слое (файл, SQLite, PostgreSQL, Redis).
//
// Хранилище работает только с полным снапшотом таблицы: построчного API нет.
type Store interface {
	// LoadAll загружает полный снапшот.
	// Отсутствующее хранилище - пустая таблица без ошибки.
	LoadAll(ctx context.Context) (Table, error)

	// SaveAll атомарно заменяет сохранённый снапшот.
	// При ошибке предыдущий снапшот остаётся нетронутым.
	SaveAll(ctx context.Context, table Table) error
}

// Pinger - опциональная проверка доступности хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}
