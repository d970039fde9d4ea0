package postgres

import (
	"context"
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ious (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
    counterparty TEXT NOT NULL,
    amount NUMERIC NOT NULL CHECK (amount > 0),
    note TEXT,
    due_date TIMESTAMPTZ,
    status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'paid', 'cancelled')),
    created_at TIMESTAMPTZ NOT NULL,
    accepted_at TIMESTAMPTZ,
    paid_at TIMESTAMPTZ,
    cancelled_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS settlement_attempts (
    id TEXT PRIMARY KEY,
    iou_id TEXT NOT NULL REFERENCES ious(id) ON DELETE CASCADE,
    provider_payment_id TEXT,
    phase TEXT NOT NULL CHECK (phase IN ('initiated', 'approved', 'completed', 'cancelled', 'errored')),
    amount NUMERIC NOT NULL,
    memo TEXT NOT NULL,
    initiated_by TEXT NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    seq BIGSERIAL
);

ALTER TABLE settlement_attempts ADD COLUMN IF NOT EXISTS seq BIGSERIAL;

CREATE TABLE IF NOT EXISTS callback_receipts (
    fingerprint TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    provider_payment_id TEXT NOT NULL DEFAULT '',
    iou_id TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMPTZ NOT NULL
);

DROP INDEX IF EXISTS idx_users_username;
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_unique
    ON users (lower(username)) WHERE username <> '';
CREATE INDEX IF NOT EXISTS idx_ious_owner_id ON ious (owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_single_flight
    ON settlement_attempts (iou_id) WHERE phase IN ('initiated', 'approved');
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_provider_payment
    ON settlement_attempts (provider_payment_id) WHERE provider_payment_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_attempts_iou_id ON settlement_attempts (iou_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_phase_created ON settlement_attempts (phase, created_at);
`

func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
