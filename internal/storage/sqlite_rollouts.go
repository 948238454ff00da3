package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nexuscore/runtime/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// OpenEmbeddedSQLite opens a file-backed or in-memory SQLite database for
// embedded/dev-mode deployments. driverName selects between the pure-Go
// "sqlite" driver (modernc.org/sqlite) and the cgo "sqlite3" driver
// (github.com/mattn/go-sqlite3); both speak the same schema and queries
// below, so a deployment can switch without touching the store code.
func OpenEmbeddedSQLite(driverName, dsn string) (*sql.DB, error) {
	if driverName == "" {
		driverName = "sqlite"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writers regardless; avoid lock contention
	return db, nil
}

// sqliteRolloutStore implements RolloutStore against an embedded SQLite
// database, mirroring cockroachRolloutStore's schema with "?" placeholders.
type sqliteRolloutStore struct {
	db *sql.DB
}

// NewSQLiteRolloutStore wraps an embedded SQLite connection opened via
// OpenEmbeddedSQLite.
func NewSQLiteRolloutStore(db *sql.DB) RolloutStore {
	return &sqliteRolloutStore{db: db}
}

func (s *sqliteRolloutStore) SaveRollout(ctx context.Context, r *models.Rollout) error {
	if r == nil || r.RolloutID == "" {
		return fmt.Errorf("rollout is required")
	}
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshal rollout config: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal rollout metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rollouts (rollout_id, session_id, channel_id, status, config_json, resources_id, created_at, completed_at, duration_ms, result, error, metadata_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (rollout_id) DO UPDATE SET
			status = excluded.status, completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms, result = excluded.result,
			error = excluded.error, metadata_json = excluded.metadata_json
	`, r.RolloutID, r.SessionID, r.ChannelID, r.Status, cfg, r.ResourcesID, r.CreatedAt, r.CompletedAt, r.DurationMs, r.Result, r.Error, meta)
	if err != nil {
		return fmt.Errorf("save rollout: %w", err)
	}
	for _, a := range r.Attempts {
		var reasonJSON []byte
		if a.FailureReason != nil {
			if reasonJSON, err = json.Marshal(a.FailureReason); err != nil {
				return fmt.Errorf("marshal failure reason: %w", err)
			}
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO attempts (rollout_id, attempt_idx, started_at, completed_at, succeeded, error, failure_reason_json, tool_calls, llm_calls, tokens_used)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (rollout_id, attempt_idx) DO UPDATE SET
				completed_at = excluded.completed_at, succeeded = excluded.succeeded,
				error = excluded.error, failure_reason_json = excluded.failure_reason_json,
				tool_calls = excluded.tool_calls, llm_calls = excluded.llm_calls, tokens_used = excluded.tokens_used
		`, r.RolloutID, a.AttemptIdx, a.StartedAt, a.CompletedAt, a.Succeeded, a.Error, reasonJSON, a.ToolCalls, a.LlmCalls, a.TokensUsed)
		if err != nil {
			return fmt.Errorf("save attempt %d: %w", a.AttemptIdx, err)
		}
	}
	return nil
}

func (s *sqliteRolloutStore) GetRollout(ctx context.Context, rolloutID string) (*models.Rollout, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rollout_id, session_id, channel_id, status, config_json, resources_id, created_at, completed_at, duration_ms, result, error, metadata_json
		FROM rollouts WHERE rollout_id = ?
	`, rolloutID)

	var r models.Rollout
	var cfgBytes, metaBytes []byte
	if err := row.Scan(&r.RolloutID, &r.SessionID, &r.ChannelID, &r.Status, &cfgBytes, &r.ResourcesID, &r.CreatedAt, &r.CompletedAt, &r.DurationMs, &r.Result, &r.Error, &metaBytes); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rollout: %w", err)
	}
	if len(cfgBytes) > 0 {
		if err := json.Unmarshal(cfgBytes, &r.Config); err != nil {
			return nil, fmt.Errorf("unmarshal rollout config: %w", err)
		}
	}
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal rollout metadata: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_idx, started_at, completed_at, succeeded, error, failure_reason_json, tool_calls, llm_calls, tokens_used
		FROM attempts WHERE rollout_id = ? ORDER BY attempt_idx ASC
	`, rolloutID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.Attempt
		var reasonBytes []byte
		if err := rows.Scan(&a.AttemptIdx, &a.StartedAt, &a.CompletedAt, &a.Succeeded, &a.Error, &reasonBytes, &a.ToolCalls, &a.LlmCalls, &a.TokensUsed); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if len(reasonBytes) > 0 {
			var reason models.FailureReason
			if err := json.Unmarshal(reasonBytes, &reason); err != nil {
				return nil, fmt.Errorf("unmarshal failure reason: %w", err)
			}
			a.FailureReason = &reason
		}
		r.Attempts = append(r.Attempts, &a)
	}
	return &r, rows.Err()
}

func (s *sqliteRolloutStore) ListRolloutsBySession(ctx context.Context, sessionID string, limit int) ([]*models.Rollout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT rollout_id FROM rollouts WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan rollout id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*models.Rollout, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRollout(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *sqliteRolloutStore) SaveSpans(ctx context.Context, rolloutID string, spans []models.Span) error {
	for _, sp := range spans {
		attrs, err := json.Marshal(sp.Attributes)
		if err != nil {
			return fmt.Errorf("marshal span attributes: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO execution_spans (span_id, sequence_id, rollout_id, session_id, attempt_idx, parent_span_id, span_type, name, status, started_at, completed_at, duration_ms, attributes_json, error)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (span_id) DO NOTHING
		`, sp.SpanID, sp.SequenceID, rolloutID, sp.SessionID, sp.AttemptIdx, sp.ParentSpanID, sp.SpanType, sp.Name, sp.Status, sp.StartedAt, sp.CompletedAt, sp.DurationMs, attrs, sp.Error)
		if err != nil {
			return fmt.Errorf("save span %s: %w", sp.SpanID, err)
		}
	}
	return nil
}

func (s *sqliteRolloutStore) ListSpans(ctx context.Context, rolloutID string) ([]models.Span, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_id, sequence_id, rollout_id, session_id, attempt_idx, parent_span_id, span_type, name, status, started_at, completed_at, duration_ms, attributes_json, error
		FROM execution_spans WHERE rollout_id = ? ORDER BY sequence_id ASC
	`, rolloutID)
	if err != nil {
		return nil, fmt.Errorf("list spans: %w", err)
	}
	defer rows.Close()
	var out []models.Span
	for rows.Next() {
		var sp models.Span
		var attrs []byte
		if err := rows.Scan(&sp.SpanID, &sp.SequenceID, &sp.RolloutID, &sp.SessionID, &sp.AttemptIdx, &sp.ParentSpanID, &sp.SpanType, &sp.Name, &sp.Status, &sp.StartedAt, &sp.CompletedAt, &sp.DurationMs, &attrs, &sp.Error); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &sp.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal span attributes: %w", err)
			}
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *sqliteRolloutStore) SaveToolExecution(ctx context.Context, exec models.ToolExecution) error {
	params, err := json.Marshal(exec.Parameters)
	if err != nil {
		return fmt.Errorf("marshal tool parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_executions (channel_id, tool_name, parameters_json, success, result, duration_ms, executed_at)
		VALUES (?,?,?,?,?,?,?)
	`, exec.ChannelID, exec.ToolName, params, exec.Success, exec.Result, exec.DurationMs, exec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("save tool execution: %w", err)
	}
	return nil
}

func (s *sqliteRolloutStore) ListToolExecutions(ctx context.Context, channelID int, limit int) ([]models.ToolExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, tool_name, parameters_json, success, result, duration_ms, executed_at
		FROM tool_executions WHERE channel_id = ? ORDER BY executed_at DESC LIMIT ?
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	defer rows.Close()
	var out []models.ToolExecution
	for rows.Next() {
		var exec models.ToolExecution
		var params []byte
		if err := rows.Scan(&exec.ChannelID, &exec.ToolName, &params, &exec.Success, &exec.Result, &exec.DurationMs, &exec.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &exec.Parameters); err != nil {
				return nil, fmt.Errorf("unmarshal tool parameters: %w", err)
			}
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *sqliteRolloutStore) SaveResourceVersion(ctx context.Context, rv models.ResourceVersion) error {
	resources, err := json.Marshal(rv.Resources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resource_versions (version_id, label, is_active, resources_json, description, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (version_id) DO UPDATE SET
			label = excluded.label, is_active = excluded.is_active,
			resources_json = excluded.resources_json, description = excluded.description
	`, rv.VersionID, rv.Label, rv.IsActive, resources, rv.Description, rv.CreatedAt)
	if err != nil {
		return fmt.Errorf("save resource version: %w", err)
	}
	return nil
}

func (s *sqliteRolloutStore) GetResourceVersion(ctx context.Context, versionID string) (models.ResourceVersion, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version_id, label, is_active, resources_json, description, created_at
		FROM resource_versions WHERE version_id = ?
	`, versionID)
	var rv models.ResourceVersion
	var resources []byte
	if err := row.Scan(&rv.VersionID, &rv.Label, &rv.IsActive, &resources, &rv.Description, &rv.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.ResourceVersion{}, false, nil
		}
		return models.ResourceVersion{}, false, fmt.Errorf("get resource version: %w", err)
	}
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &rv.Resources); err != nil {
			return models.ResourceVersion{}, false, fmt.Errorf("unmarshal resources: %w", err)
		}
	}
	return rv, true, nil
}
