// Package sqlite provides SQLite-based persistent storage for IndiCompute.
// Uses WAL mode for concurrent reads and BEGIN IMMEDIATE transactions so every
// multi-step ledger write is one serialized unit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/indicompute/indicompute/internal/domain"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn carries the read and single-row write repositories. Its methods run on
// the database directly when reached through *DB and inside the transaction
// when reached through *Tx.
type Conn struct {
	q queryer
}

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	Conn
	db *sql.DB
}

// Tx is an open transaction. Writes that must commit together with another
// write are only defined on *Tx.
type Tx struct {
	Conn
	tx *sql.Tx
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, a 5-second busy timeout and immediate
// transaction locking.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{Conn: Conn{q: db}, db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction. Any error from fn rolls the whole
// unit back. Domain errors pass through unchanged; storage failures and a
// failed begin or commit surface as domain.ErrConsistency.
//
// fn must only use tx: the pool holds a single connection, so touching d
// from inside fn blocks forever.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrConsistency, err)
	}

	tx := &Tx{Conn: Conn{q: sqlTx}, tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		if domain.IsDomainError(err) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrConsistency, err)
	}

	if err := sqlTx.Commit(); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("%w: commit: %w", domain.ErrConsistency, err)
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Node registry
		`CREATE TABLE IF NOT EXISTS nodes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id       INTEGER NOT NULL,
			location       TEXT NOT NULL,
			gpu_model      TEXT NOT NULL,
			gpu_count      INTEGER NOT NULL,
			node_key       TEXT NOT NULL,
			last_heartbeat INTEGER,
			created_at     INTEGER NOT NULL,
			deleted_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_owner ON nodes(owner_id)`,

		`CREATE TABLE IF NOT EXISTS node_pricing (
			node_id        INTEGER PRIMARY KEY REFERENCES nodes(id),
			price_per_hour INTEGER NOT NULL CHECK (price_per_hour > 0),
			currency       TEXT NOT NULL,
			updated_at     INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS node_activity (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id    INTEGER NOT NULL REFERENCES nodes(id),
			event_type TEXT NOT NULL,
			message    TEXT,
			timestamp  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_node ON node_activity(node_id)`,

		// Wallet ledger: balance is a cache of SUM(signed amount) per account
		`CREATE TABLE IF NOT EXISTS accounts (
			owner_id   INTEGER PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			currency   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			account_id    INTEGER NOT NULL REFERENCES accounts(owner_id),
			kind          TEXT NOT NULL CHECK (kind IN ('credit', 'debit')),
			amount        INTEGER NOT NULL CHECK (amount > 0),
			description   TEXT,
			balance_after INTEGER NOT NULL,
			job_id        INTEGER,
			timestamp     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallet_tx_account ON wallet_transactions(account_id, seq)`,

		// Jobs
		`CREATE TABLE IF NOT EXISTS jobs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       INTEGER NOT NULL,
			node_id       INTEGER NOT NULL REFERENCES nodes(id),
			command       TEXT NOT NULL,
			status        TEXT NOT NULL,
			cost_incurred INTEGER NOT NULL,
			currency      TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			start_time    INTEGER,
			end_time      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_node_status ON jobs(node_id, status)`,

		// One earning per job: the unique index backs exactly-once payout
		`CREATE TABLE IF NOT EXISTS node_earnings (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			node_id        INTEGER NOT NULL REFERENCES nodes(id),
			job_id         INTEGER UNIQUE REFERENCES jobs(id),
			amount         INTEGER NOT NULL,
			duration_hours REAL NOT NULL DEFAULT 0,
			currency       TEXT NOT NULL,
			timestamp      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_earnings_node ON node_earnings(node_id)`,

		`CREATE TABLE IF NOT EXISTS execution_logs (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id    INTEGER NOT NULL REFERENCES jobs(id),
			log_type  TEXT NOT NULL,
			details   TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exec_logs_job ON execution_logs(job_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0)
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
