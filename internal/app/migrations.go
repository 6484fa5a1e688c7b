package app

// SQL-миграции встроены в код для упрощения деплоя.
// Порядок важен: записи журнала ссылаются на счета.

var migration001Accounts = `
CREATE TABLE IF NOT EXISTS credit_accounts (
    id BIGSERIAL PRIMARY KEY,
    owner_id VARCHAR(255) UNIQUE NOT NULL,
    balance BIGINT NOT NULL DEFAULT 0 CONSTRAINT ck_credit_accounts_balance CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration002Entries = `
CREATE TABLE IF NOT EXISTS credit_entries (
    id BIGSERIAL PRIMARY KEY,
    owner_id VARCHAR(255) NOT NULL REFERENCES credit_accounts(owner_id),
    amount BIGINT NOT NULL CONSTRAINT ck_credit_entries_amount CHECK (amount <> 0),
    kind VARCHAR(20) NOT NULL
        CONSTRAINT ck_credit_entries_kind CHECK (kind IN ('credit', 'debit', 'transfer_out', 'transfer_in')),
    reason VARCHAR(255) NOT NULL,
    reference_id VARCHAR(255) NOT NULL,
    counterparty_id VARCHAR(255),
    integrity_hash CHAR(64) NOT NULL,
    is_adjustment BOOLEAN NOT NULL DEFAULT FALSE,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_credit_entries_owner_reference UNIQUE (owner_id, reference_id)
);
CREATE INDEX IF NOT EXISTS idx_credit_entries_owner_id ON credit_entries(owner_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_credit_entries_kind ON credit_entries(kind);
CREATE INDEX IF NOT EXISTS idx_credit_entries_created_at ON credit_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_credit_entries_integrity_hash ON credit_entries(integrity_hash);
`

// Журнал только дописывается: правка или удаление записи — ошибка.
var migration003EntriesImmutable = `
CREATE OR REPLACE FUNCTION credit_entries_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'credit_entries is append-only (% on id %)', TG_OP, OLD.id;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_credit_entries_immutable ON credit_entries;
CREATE TRIGGER trg_credit_entries_immutable
    BEFORE UPDATE OR DELETE ON credit_entries
    FOR EACH ROW EXECUTE FUNCTION credit_entries_immutable();
`

var migration004Rules = `
CREATE TABLE IF NOT EXISTS credit_rules (
    id BIGSERIAL PRIMARY KEY,
    event VARCHAR(64) UNIQUE NOT NULL,
    amount BIGINT NOT NULL CONSTRAINT ck_credit_rules_amount CHECK (amount <> 0),
    description TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, migration001Accounts},
	{2, migration002Entries},
	{3, migration003EntriesImmutable},
	{4, migration004Rules},
}
