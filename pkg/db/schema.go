package db

import "fmt"

// Schema is applied on startup; every statement must be idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS bot_configs (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	strategy TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	stop_loss_pct REAL NOT NULL DEFAULT 0,
	take_profits TEXT NOT NULL DEFAULT '[]',
	trailing_enabled INTEGER NOT NULL DEFAULT 0,
	trailing_pct REAL NOT NULL DEFAULT 0,
	size_value REAL NOT NULL DEFAULT 0,
	size_unit TEXT NOT NULL DEFAULT 'quote',
	paper INTEGER NOT NULL DEFAULT 1,
	api_key_enc TEXT NOT NULL DEFAULT '',
	api_secret_enc TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	qty REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL DEFAULT 0,
	pnl REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'OPEN',
	opened_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	closed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_bot_status ON trades(bot_id, status);

CREATE TABLE IF NOT EXISTS kill_switches (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations creates missing tables and indexes.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("apply migrations: database not initialized")
	}
	if _, err := d.DB.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
