package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied on startup. Transfer and commission rows are
// insert-only; nothing in the engine updates or deletes them.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
    id BIGSERIAL PRIMARY KEY,
    account_number CHAR(10) NOT NULL UNIQUE,
    balance DECIMAL(10,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    referred_by BIGINT REFERENCES accounts(id),
    owner_user_id BIGINT NOT NULL REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS transfers (
    id UUID PRIMARY KEY,
    amount DECIMAL(10,2) NOT NULL,
    commission DECIMAL(10,2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    origin_account_id BIGINT NOT NULL REFERENCES accounts(id),
    destination_account_id BIGINT NOT NULL REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS commissions (
    id UUID PRIMARY KEY,
    amount DECIMAL(10,2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    beneficiary_account_id BIGINT NOT NULL REFERENCES accounts(id),
    transfer_id UUID NOT NULL REFERENCES transfers(id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_transfers_origin ON transfers(origin_account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transfers_destination ON transfers(destination_account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_commissions_beneficiary ON commissions(beneficiary_account_id, created_at);
`

// Migrate creates the ledger relations if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
