package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    job_type        TEXT NOT NULL,
    payload         BLOB NOT NULL,
    state           TEXT NOT NULL DEFAULT 'pending',
    result          BLOB,
    failure_reason  TEXT,
    attempt_count   INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL,
    idempotency_key TEXT,
    version         INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL,
    claimed_at      DATETIME,
    updated_at      DATETIME NOT NULL,
    expires_at      DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency
    ON jobs(owner_id, idempotency_key) WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_jobs_state_created ON jobs(state, created_at);

CREATE TABLE IF NOT EXISTS entitlements (
    account_id    TEXT PRIMARY KEY,
    plan          TEXT NOT NULL DEFAULT 'free',
    expires_at    DATETIME NOT NULL,
    point_balance INTEGER NOT NULL DEFAULT 0 CHECK (point_balance >= 0),
    bonus_used    INTEGER NOT NULL DEFAULT 0,
    version       INTEGER NOT NULL DEFAULT 0,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_events (
    event_id    TEXT PRIMARY KEY,
    account_id  TEXT NOT NULL,
    effect      TEXT NOT NULL,
    points      INTEGER NOT NULL DEFAULT 0,
    plan        TEXT NOT NULL DEFAULT '',
    extend_days INTEGER NOT NULL DEFAULT 0,
    applied     INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL
);
`

// Open opens (creating if needed) the SQLite database backing the job store
// and the entitlement ledger.
func Open(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Concurrent workers share this handle; WAL plus a busy timeout on
	// every pooled connection keeps writer contention from surfacing as
	// SQLITE_BUSY.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// inTx runs fn in a transaction, rolling back on error.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
