package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL CHECK (kind IN ('user', 'merchant')),
    name          TEXT NOT NULL,
    ifsc          TEXT NOT NULL,
    balance       NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    password_hash BYTEA NOT NULL,
    pin_hash      BYTEA,
    mobile        TEXT,
    mmid          TEXT,
    created_at    TIMESTAMPTZ NOT NULL,
    CONSTRAINT accounts_mobile_key UNIQUE (mobile),
    CONSTRAINT accounts_mmid_key UNIQUE (mmid)
);

CREATE TABLE IF NOT EXISTS transactions (
    id         TEXT PRIMARY KEY,
    payer_id   TEXT NOT NULL REFERENCES accounts (id),
    payee_id   TEXT NOT NULL REFERENCES accounts (id),
    amount     NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS transactions_created_at_idx ON transactions (created_at);

CREATE TABLE IF NOT EXISTS blocks (
    height         BIGINT PRIMARY KEY,
    id             TEXT NOT NULL UNIQUE,
    transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions (id),
    prev_id        TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables the Postgres store relies on.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
