package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/common"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestRepository_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE credit_accounts").WithArgs("A", int64(40)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.SetBalance(ctx, "A", 40)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is storage unavailable", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error { return nil })
		assert.ErrorIs(t, err, common.ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_LockAccount(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("locks existing row", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM credit_accounts WHERE owner_id = .+ FOR UPDATE").WithArgs("A").
			WillReturnRows(pgxmock.NewRows([]string{"owner_id", "balance", "created_at", "updated_at"}).
				AddRow("A", int64(100), now, now))
		mock.ExpectCommit()

		var got *Account
		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			got, err = tx.LockAccount(ctx, "A")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(100), got.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is account not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("ghost").WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.LockAccount(ctx, "ghost")
			return err
		})
		assert.ErrorIs(t, err, common.ErrAccountNotFound)
		assert.NotErrorIs(t, err, common.ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock or create inserts first", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO credit_accounts").WithArgs("B").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery("FOR UPDATE").WithArgs("B").
			WillReturnRows(pgxmock.NewRows([]string{"owner_id", "balance", "created_at", "updated_at"}).
				AddRow("B", int64(0), now, now))
		mock.ExpectCommit()

		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.LockOrCreateAccount(ctx, "B")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_InsertEntry(t *testing.T) {
	ctx := context.Background()
	entry := func() *Entry {
		e := &Entry{
			OwnerID:     "A",
			Amount:      10,
			Kind:        KindCredit,
			Reason:      "seed",
			ReferenceID: "X",
			Metadata:    Metadata{"source": "test"},
			CreatedAt:   entryTimestamp(time.Now()),
		}
		e.IntegrityHash = ComputeHash(e)
		return e
	}

	t.Run("returns id", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO credit_entries").WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
		mock.ExpectCommit()

		e := entry()
		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertEntry(ctx, e)
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), e.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is duplicate reference", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO credit_entries").WithArgs(anyArgs(10)...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: uniqueReferenceConstraint})
		mock.ExpectRollback()

		err := repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertEntry(ctx, entry())
		})
		assert.ErrorIs(t, err, common.ErrDuplicateReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_GetAccount(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("reads without creating", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT owner_id, balance, created_at, updated_at FROM credit_accounts WHERE owner_id = ").
			WithArgs("A").
			WillReturnRows(pgxmock.NewRows([]string{"owner_id", "balance", "created_at", "updated_at"}).
				AddRow("A", int64(40), now, now))

		acc, err := repo.GetAccount(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, int64(40), acc.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("FROM credit_accounts WHERE owner_id = ").WithArgs("ghost").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, common.ErrAccountNotFound)
		assert.NotErrorIs(t, err, common.ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_SumEntries(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)").WithArgs("A").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(int64(70)))

	sum, err := repo.SumEntries(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, int64(70), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListEntries(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	bob := "B"

	cols := []string{"id", "owner_id", "amount", "kind", "reason", "reference_id",
		"counterparty_id", "integrity_hash", "is_adjustment", "metadata", "created_at"}
	mock.ExpectQuery("FROM credit_entries").WithArgs("A", 10).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "A", int64(-60), "transfer_out", "pay", "r2", &bob, "h2", false, []byte(`{"k":"v"}`), now).
			AddRow(int64(1), "A", int64(100), "credit", "seed", "r1", (*string)(nil), "h1", false, []byte(nil), now))

	entries, err := repo.ListEntries(context.Background(), "A", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindTransferOut, entries[0].Kind)
	require.NotNil(t, entries[0].CounterpartyID)
	assert.Equal(t, "B", *entries[0].CounterpartyID)
	assert.Equal(t, "v", entries[0].Metadata["k"])
	assert.Nil(t, entries[1].CounterpartyID)
	assert.Nil(t, entries[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewRepository(mock)
	mock.ExpectPing().WillReturnError(errors.New("down"))

	err = repo.Ping(context.Background())
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
