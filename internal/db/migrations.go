package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create exchanges",
		sql: `
CREATE TABLE IF NOT EXISTS exchanges (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	construct_id TEXT NOT NULL,
	thread_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	response TEXT NOT NULL,
	route TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	metrics_json TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchanges_user_created ON exchanges(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_exchanges_thread ON exchanges(user_id, thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_exchanges_construct ON exchanges(construct_id);
`,
	},
	{
		version: 2,
		name:    "create persona violations",
		sql: `
CREATE TABLE IF NOT EXISTS persona_violations (
	id TEXT PRIMARY KEY,
	construct_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	pattern TEXT NOT NULL,
	excerpt TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_persona_violations_created ON persona_violations(created_at);
CREATE INDEX IF NOT EXISTS idx_persona_violations_construct ON persona_violations(construct_id);
`,
	},
}

func RunMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`); err != nil {
		return fmt.Errorf("failed to ensure _meta table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("failed to initialize schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	currentVersion, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed migration %03d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to set schema version %03d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	return nil
}
