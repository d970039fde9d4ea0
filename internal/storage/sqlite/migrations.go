package sqlite

import "database/sql"

// schema sets up the database. Statements are idempotent and run on startup.
//
// idx_users_username_unique keeps a handle on at most one user;
// idx_attempts_single_flight enforces at most one non-terminal attempt per
// IOU; idx_attempts_provider_payment stops a provider payment ID from being
// bound to two attempts.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ious (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
    counterparty TEXT NOT NULL,
    amount TEXT NOT NULL,
    note TEXT,
    due_date INTEGER,
    status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'paid', 'cancelled')),
    created_at INTEGER NOT NULL,
    accepted_at INTEGER,
    paid_at INTEGER,
    cancelled_at INTEGER
);

CREATE TABLE IF NOT EXISTS settlement_attempts (
    id TEXT PRIMARY KEY,
    iou_id TEXT NOT NULL,
    provider_payment_id TEXT,
    phase TEXT NOT NULL CHECK (phase IN ('initiated', 'approved', 'completed', 'cancelled', 'errored')),
    amount TEXT NOT NULL,
    memo TEXT NOT NULL,
    initiated_by TEXT NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (iou_id) REFERENCES ious(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS callback_receipts (
    fingerprint TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    provider_payment_id TEXT NOT NULL DEFAULT '',
    iou_id TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT '',
    received_at INTEGER NOT NULL
);

DROP INDEX IF EXISTS idx_users_username;
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_unique
    ON users(username COLLATE NOCASE) WHERE username <> '';
CREATE INDEX IF NOT EXISTS idx_ious_owner_id ON ious(owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_single_flight
    ON settlement_attempts(iou_id) WHERE phase IN ('initiated', 'approved');
CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_provider_payment
    ON settlement_attempts(provider_payment_id) WHERE provider_payment_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_attempts_iou_id ON settlement_attempts(iou_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_phase_created ON settlement_attempts(phase, created_at);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
