package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	tier TEXT NOT NULL DEFAULT 'standard',
	role TEXT NOT NULL DEFAULT 'user',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	account_id UUID NOT NULL REFERENCES accounts(id),
	counterparty_id UUID REFERENCES accounts(id) ON DELETE SET NULL,
	amount BIGINT NOT NULL CHECK (amount > 0),
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'completed',
	description TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT,
	balance_after BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS transactions_idempotency_key_idx
	ON transactions (idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS transactions_account_created_idx
	ON transactions (account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notification_jobs (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	url TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	attempts INT NOT NULL DEFAULT 0,
	next_run_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema at boot. Statements are idempotent so repeated
// startups are safe.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
