// repository.go выполняет операции с таблицами credit_accounts и credit_entries.
// Все изменения баланса идут внутри транзакции с блокировкой строки счёта.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Имя UNIQUE-ограничения (owner_id, reference_id) из миграции.
const uniqueReferenceConstraint = "uq_credit_entries_owner_reference"

const accountColumns = `owner_id, balance, created_at, updated_at`

const entryColumns = `id, owner_id, amount, kind, reason, reference_id,
	counterparty_id, integrity_hash, is_adjustment, metadata, created_at`

// Repository — хранилище реестра в PostgreSQL.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт новый репозиторий реестра.
// Принимает *pgxpool.Pool (или pgxmock в тестах).
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// storageErr помечает сбой драйвера как ErrStorageUnavailable, сохраняя исходную ошибку.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, common.ErrStorageUnavailable, err)
}

// WithTx открывает транзакцию и выполняет в ней fn.
// Любая ошибка fn или сбой фиксации — откат, ни одна запись не сохраняется.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storageErr("ошибка начала транзакции", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("ошибка фиксации транзакции", err)
	}
	return nil
}

// GetOrCreateAccount возвращает счёт, создавая его с нулевым балансом.
func (r *Repository) GetOrCreateAccount(ctx context.Context, ownerID string) (*Account, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO credit_accounts (owner_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID)
	if err != nil {
		return nil, storageErr("ошибка создания счёта", err)
	}

	acc, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE owner_id = $1`, ownerID))
	if err != nil {
		return nil, storageErr("ошибка получения счёта", err)
	}
	return acc, nil
}

// GetAccount читает счёт, не создавая его.
func (r *Repository) GetAccount(ctx context.Context, ownerID string) (*Account, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE owner_id = $1`, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrAccountNotFound, ownerID)
	}
	if err != nil {
		return nil, storageErr("ошибка получения счёта", err)
	}
	return acc, nil
}

// ListEntries возвращает последние записи владельца (новые первыми).
func (r *Repository) ListEntries(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM credit_entries
		WHERE owner_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, storageErr("ошибка получения истории", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("ошибка чтения записи", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ошибка чтения истории", err)
	}
	return entries, nil
}

// SumEntries считает сумму записей владельца без корректировок сверки.
func (r *Repository) SumEntries(ctx context.Context, ownerID string) (int64, error) {
	return sumEntries(ctx, r.db, ownerID)
}

// ListAccounts возвращает страницу счетов после after (постранично по owner_id).
func (r *Repository) ListAccounts(ctx context.Context, after string, limit int) ([]*Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM credit_accounts
		WHERE owner_id > $1
		ORDER BY owner_id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, storageErr("ошибка получения списка счетов", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, storageErr("ошибка чтения счёта", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("ошибка чтения списка счетов", err)
	}
	return accounts, nil
}

// Ping проверяет соединение с базой.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return storageErr("база данных недоступна", err)
	}
	return nil
}

// pgTx — реализация Tx поверх pgx.Tx.
type pgTx struct {
	tx pgx.Tx
}

// LockAccount блокирует строку счёта (SELECT ... FOR UPDATE).
func (t *pgTx) LockAccount(ctx context.Context, ownerID string) (*Account, error) {
	acc, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE owner_id = $1 FOR UPDATE`, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrAccountNotFound, ownerID)
	}
	if err != nil {
		return nil, storageErr("ошибка блокировки счёта", err)
	}
	return acc, nil
}

// LockOrCreateAccount создаёт счёт при отсутствии и блокирует его.
func (t *pgTx) LockOrCreateAccount(ctx context.Context, ownerID string) (*Account, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO credit_accounts (owner_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID)
	if err != nil {
		return nil, storageErr("ошибка создания счёта", err)
	}
	return t.LockAccount(ctx, ownerID)
}

// SetBalance записывает новый баланс.
// CHECK (balance >= 0) в схеме — последний рубеж, сервис проверяет раньше.
func (t *pgTx) SetBalance(ctx context.Context, ownerID string, balance int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE credit_accounts
		SET balance = $2, updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID, balance)
	if postgres.IsCheckViolation(err) {
		return fmt.Errorf("%w: баланс %d", common.ErrIntegrityViolation, balance)
	}
	if err != nil {
		return storageErr("ошибка обновления баланса", err)
	}
	return nil
}

// FindEntry ищет запись по (owner_id, reference_id).
func (t *pgTx) FindEntry(ctx context.Context, ownerID, referenceID string) (*Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM credit_entries
		WHERE owner_id = $1 AND reference_id = $2
	`, ownerID, referenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("ошибка поиска записи", err)
	}
	return e, nil
}

// InsertEntry дописывает запись в журнал и проставляет ей ID.
// created_at пишется явно: по нему же посчитан integrity_hash.
func (t *pgTx) InsertEntry(ctx context.Context, e *Entry) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO credit_entries (owner_id, amount, kind, reason, reference_id,
			counterparty_id, integrity_hash, is_adjustment, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, e.OwnerID, e.Amount, string(e.Kind), e.Reason, e.ReferenceID,
		e.CounterpartyID, e.IntegrityHash, e.Adjustment, meta, e.CreatedAt,
	).Scan(&e.ID)
	if postgres.IsUniqueViolation(err, uniqueReferenceConstraint) {
		return &DuplicateReferenceError{OwnerID: e.OwnerID, ReferenceID: e.ReferenceID}
	}
	if err != nil {
		return storageErr("ошибка записи в журнал", err)
	}
	return nil
}

// SumEntries видит записи текущей транзакции.
func (t *pgTx) SumEntries(ctx context.Context, ownerID string) (int64, error) {
	return sumEntries(ctx, t.tx, ownerID)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumEntries(ctx context.Context, q rowQuerier, ownerID string) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT
		FROM credit_entries
		WHERE owner_id = $1 AND NOT is_adjustment
	`, ownerID).Scan(&sum)
	if err != nil {
		return 0, storageErr("ошибка пересчёта баланса", err)
	}
	return sum, nil
}

// scanner — общее у pgx.Row и pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*Account, error) {
	var acc Account
	if err := row.Scan(&acc.OwnerID, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e    Entry
		kind string
		meta []byte
	)
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Amount, &kind, &e.Reason, &e.ReferenceID,
		&e.CounterpartyID, &e.IntegrityHash, &e.Adjustment, &meta, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("ошибка разбора metadata записи %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

func marshalMetadata(m Metadata) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata не сериализуется в JSON: %w", err)
	}
	return data, nil
}
