package ledger

import "context"

// Store — хранилище счетов и журнала.
// Журнал только дописывается: методов изменения или удаления записей нет.
//
// Реализации:
//   - Repository: PostgreSQL (pgx), боевой режим
//   - MemoryStore: в памяти, для тестов и локальной разработки
type Store interface {
	// WithTx выполняет fn в одной транзакции.
	// fn вернула ошибку — откат; nil — фиксация.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetOrCreateAccount возвращает счёт без блокировки, создавая пустой при отсутствии.
	GetOrCreateAccount(ctx context.Context, ownerID string) (*Account, error)

	// GetAccount возвращает счёт без блокировки и без создания.
	// Нет счёта — common.ErrAccountNotFound.
	GetAccount(ctx context.Context, ownerID string) (*Account, error)

	// ListEntries — последние записи владельца, новые первыми.
	ListEntries(ctx context.Context, ownerID string, limit int) ([]*Entry, error)

	// SumEntries — сумма записей владельца без корректировок сверки.
	SumEntries(ctx context.Context, ownerID string) (int64, error)

	// ListAccounts — страница счетов с owner_id > after, по возрастанию owner_id.
	ListAccounts(ctx context.Context, after string, limit int) ([]*Account, error)

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// Tx — операции внутри транзакции. Блокировки держатся до её конца.
type Tx interface {
	// LockAccount берёт эксклюзивную блокировку строки счёта.
	// Нет счёта — common.ErrAccountNotFound.
	LockAccount(ctx context.Context, ownerID string) (*Account, error)

	// LockOrCreateAccount создаёт счёт с нулевым балансом при отсутствии и блокирует его.
	LockOrCreateAccount(ctx context.Context, ownerID string) (*Account, error)

	// SetBalance записывает новый баланс заблокированного счёта.
	SetBalance(ctx context.Context, ownerID string, balance int64) error

	// FindEntry ищет запись по паре (owner_id, reference_id). Нет — nil, nil.
	FindEntry(ctx context.Context, ownerID, referenceID string) (*Entry, error)

	// InsertEntry дописывает запись и проставляет ей ID.
	// Занятая пара (owner_id, reference_id) — common.ErrDuplicateReference.
	InsertEntry(ctx context.Context, e *Entry) error

	// SumEntries — как Store.SumEntries, но видит записи текущей транзакции.
	SumEntries(ctx context.Context, ownerID string) (int64, error)
}
