package database

import "strings"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS luc_sessions (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	current_phase TEXT NOT NULL DEFAULT 'chat',
	phase_transition_at DATETIME,
	chat_input_tokens INTEGER NOT NULL DEFAULT 0,
	chat_output_tokens INTEGER NOT NULL DEFAULT 0,
	chat_cost_cents INTEGER NOT NULL DEFAULT 0,
	iteration_input_tokens INTEGER NOT NULL DEFAULT 0,
	iteration_output_tokens INTEGER NOT NULL DEFAULT 0,
	iteration_cost_cents INTEGER NOT NULL DEFAULT 0,
	refund_cents INTEGER,
	total_charge_cents INTEGER,
	finalized_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_luc_sessions_user ON luc_sessions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS luc_usage_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT 'unknown',
	model TEXT NOT NULL DEFAULT 'unknown',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_cents INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (session_id) REFERENCES luc_sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_luc_usage_events_session ON luc_usage_events(session_id, created_at);

CREATE TABLE IF NOT EXISTS luc_meter_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT 'unknown',
	refunded INTEGER NOT NULL DEFAULT 0,
	value_cents INTEGER NOT NULL DEFAULT 0,
	provider TEXT NOT NULL,
	provider_event_id TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_luc_meter_events_session ON luc_meter_events(session_id, created_at);

CREATE TABLE IF NOT EXISTS luc_receipts (
	receipt_id TEXT PRIMARY KEY,
	session_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	chat_tokens INTEGER NOT NULL DEFAULT 0,
	iteration_tokens INTEGER NOT NULL DEFAULT 0,
	chat_cost_cents INTEGER NOT NULL DEFAULT 0,
	iteration_cost_cents INTEGER NOT NULL DEFAULT 0,
	refund_cents INTEGER NOT NULL DEFAULT 0,
	total_charge_cents INTEGER NOT NULL DEFAULT 0,
	finalized_at DATETIME NOT NULL,
	FOREIGN KEY (session_id) REFERENCES luc_sessions(session_id)
);

CREATE TABLE IF NOT EXISTS luc_pricing (
	model TEXT PRIMARY KEY,
	input_cost_per_million_usd REAL,
	output_cost_per_million_usd REAL,
	source TEXT NOT NULL DEFAULT 'manual',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS luc_sessions (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	current_phase TEXT NOT NULL DEFAULT 'chat',
	phase_transition_at TIMESTAMPTZ,
	chat_input_tokens BIGINT NOT NULL DEFAULT 0,
	chat_output_tokens BIGINT NOT NULL DEFAULT 0,
	chat_cost_cents BIGINT NOT NULL DEFAULT 0,
	iteration_input_tokens BIGINT NOT NULL DEFAULT 0,
	iteration_output_tokens BIGINT NOT NULL DEFAULT 0,
	iteration_cost_cents BIGINT NOT NULL DEFAULT 0,
	refund_cents BIGINT,
	total_charge_cents BIGINT,
	finalized_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_luc_sessions_user ON luc_sessions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS luc_usage_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES luc_sessions(session_id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT 'unknown',
	model TEXT NOT NULL DEFAULT 'unknown',
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	total_tokens BIGINT NOT NULL DEFAULT 0,
	cost_cents BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_luc_usage_events_session ON luc_usage_events(session_id, created_at);

CREATE TABLE IF NOT EXISTS luc_meter_events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT 'unknown',
	refunded BOOLEAN NOT NULL DEFAULT FALSE,
	value_cents BIGINT NOT NULL DEFAULT 0,
	provider TEXT NOT NULL,
	provider_event_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_luc_meter_events_session ON luc_meter_events(session_id, created_at);

CREATE TABLE IF NOT EXISTS luc_receipts (
	receipt_id TEXT PRIMARY KEY,
	session_id TEXT UNIQUE NOT NULL REFERENCES luc_sessions(session_id),
	user_id TEXT NOT NULL,
	chat_tokens BIGINT NOT NULL DEFAULT 0,
	iteration_tokens BIGINT NOT NULL DEFAULT 0,
	chat_cost_cents BIGINT NOT NULL DEFAULT 0,
	iteration_cost_cents BIGINT NOT NULL DEFAULT 0,
	refund_cents BIGINT NOT NULL DEFAULT 0,
	total_charge_cents BIGINT NOT NULL DEFAULT 0,
	finalized_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS luc_pricing (
	model TEXT PRIMARY KEY,
	input_cost_per_million_usd DOUBLE PRECISION,
	output_cost_per_million_usd DOUBLE PRECISION,
	source TEXT NOT NULL DEFAULT 'manual',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (d *DB) migrate() error {
	if err := d.createTables(); err != nil {
		return err
	}
	return d.runMigrations()
}

func (d *DB) createTables() error {
	schema := sqliteSchema
	if d.dialect == DialectPostgres {
		schema = postgresSchema
	}
	_, err := d.DB.Exec(schema)
	return err
}

// runMigrations 对已存在的旧库补列，失败忽略
func (d *DB) runMigrations() error {
	addColumn := "ALTER TABLE luc_meter_events ADD COLUMN error TEXT NOT NULL DEFAULT ''"
	if d.dialect == DialectPostgres {
		addColumn = strings.Replace(addColumn, "ADD COLUMN", "ADD COLUMN IF NOT EXISTS", 1)
	}
	_, _ = d.DB.Exec(addColumn)
	return nil
}
