package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements creates the tables backing RolloutStore, SessionChannelStore,
// and lanes.DBLocker. Safe to run repeatedly; every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id INTEGER PRIMARY KEY,
		type TEXT NOT NULL,
		chat_id TEXT,
		config_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		channel_id INTEGER NOT NULL,
		chat_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_activity_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_messages (
		session_id TEXT NOT NULL,
		sequence_num INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT,
		message_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, sequence_num)
	)`,
	`CREATE TABLE IF NOT EXISTS session_locks (
		session_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rollouts (
		rollout_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		channel_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		config_json TEXT NOT NULL,
		resources_id TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		metadata_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		rollout_id TEXT NOT NULL,
		attempt_idx INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		succeeded BOOLEAN NOT NULL DEFAULT false,
		error TEXT,
		failure_reason_json TEXT,
		tool_calls INTEGER NOT NULL DEFAULT 0,
		llm_calls INTEGER NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (rollout_id, attempt_idx)
	)`,
	`CREATE TABLE IF NOT EXISTS execution_spans (
		span_id TEXT PRIMARY KEY,
		sequence_id BIGINT NOT NULL,
		rollout_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		attempt_idx INTEGER NOT NULL,
		parent_span_id TEXT,
		span_type TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		attributes_json TEXT,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS resource_versions (
		version_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT false,
		resources_json TEXT,
		description TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tool_executions (
		channel_id INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		parameters_json TEXT,
		success BOOLEAN NOT NULL,
		result TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		executed_at TIMESTAMP NOT NULL
	)`,
}

// EnsureSchema creates every table RolloutStore/SessionChannelStore/
// lanes.DBLocker needs, if not already present. Works against both
// Postgres/CockroachDB and SQLite connections since every statement sticks
// to the common CREATE TABLE IF NOT EXISTS subset both dialects accept.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
