package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	stmt    string
}

// migrations are append-only. Never edit an applied version.
var migrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS users (
	id           UUID PRIMARY KEY,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	trust_level  INTEGER NOT NULL DEFAULT 0,
	trust_status TEXT NOT NULL DEFAULT 'unverified',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{2, `
CREATE TABLE IF NOT EXISTS verification_documents (
	id            UUID PRIMARY KEY,
	user_id       UUID NOT NULL REFERENCES users (id),
	document_type TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'submitted',
	file_url      TEXT NOT NULL,
	applicant_ref TEXT,
	check_ref     TEXT UNIQUE,
	verified_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{3, `CREATE INDEX IF NOT EXISTS verification_documents_user_idx ON verification_documents (user_id, status)`},
	{4, `
CREATE TABLE IF NOT EXISTS token_records (
	id             TEXT PRIMARY KEY,
	issuer_address TEXT NOT NULL,
	status         TEXT NOT NULL,
	asset_id       TEXT,
	tx_hash        TEXT,
	engine_result  TEXT NOT NULL DEFAULT '',
	ledger_index   BIGINT NOT NULL DEFAULT 0,
	sequence       BIGINT NOT NULL DEFAULT 0,
	fee_drops      TEXT NOT NULL DEFAULT '',
	validated      BOOLEAN NOT NULL DEFAULT FALSE,
	metadata_hex   TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
	{5, `CREATE UNIQUE INDEX IF NOT EXISTS token_records_tx_hash_idx ON token_records (tx_hash) WHERE tx_hash IS NOT NULL`},
}

// Migrate applies pending migrations in order, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close migration rows: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		return fmt.Errorf("apply migration %d: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}
