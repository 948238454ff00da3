package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscore/runtime/pkg/models"
)

// cockroachSessionChannelStore implements SessionChannelStore against
// Postgres/CockroachDB, resolving-or-creating sessions the way the
// dispatcher's in-memory fake does but backed by durable rows.
type cockroachSessionChannelStore struct {
	db *sql.DB
}

// NewCockroachSessionChannelStore wraps an open *sql.DB.
func NewCockroachSessionChannelStore(db *sql.DB) SessionChannelStore {
	return &cockroachSessionChannelStore{db: db}
}

func (s *cockroachSessionChannelStore) GetChannel(ctx context.Context, channelID int) (models.Channel, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, chat_id, config_json FROM channels WHERE id = $1`, channelID)
	var ch models.Channel
	var cfgBytes []byte
	if err := row.Scan(&ch.ID, &ch.Type, &ch.ChatID, &cfgBytes); err != nil {
		if err == sql.ErrNoRows {
			return models.Channel{}, false, nil
		}
		return models.Channel{}, false, fmt.Errorf("get channel: %w", err)
	}
	if len(cfgBytes) > 0 {
		if err := json.Unmarshal(cfgBytes, &ch.Config); err != nil {
			return models.Channel{}, false, fmt.Errorf("unmarshal channel config: %w", err)
		}
	}
	return ch, true, nil
}

func (s *cockroachSessionChannelStore) ResolveSession(ctx context.Context, channelID int, chatID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, channel_id, chat_id, created_at, last_activity_at
		FROM sessions WHERE channel_id = $1 AND chat_id = $2
	`, channelID, chatID)

	var sess models.Session
	err := row.Scan(&sess.SessionID, &sess.ChannelID, &sess.ChatID, &sess.CreatedAt, &sess.LastActivityAt)
	switch {
	case err == nil:
		history, herr := s.loadHistory(ctx, sess.SessionID)
		if herr != nil {
			return nil, herr
		}
		sess.History = history
		return &sess, nil
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	now := time.Now()
	sess = models.Session{SessionID: uuid.NewString(), ChannelID: channelID, ChatID: chatID, CreatedAt: now, LastActivityAt: now}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, channel_id, chat_id, created_at, last_activity_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sess.SessionID, sess.ChannelID, sess.ChatID, sess.CreatedAt, sess.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

func (s *cockroachSessionChannelStore) loadHistory(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_json FROM session_messages WHERE session_id = $1 ORDER BY sequence_num ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *cockroachSessionChannelStore) AppendSessionHistory(ctx context.Context, sessionID string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	var next int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_num), -1) + 1 FROM session_messages WHERE session_id = $1
	`, sessionID).Scan(&next); err != nil {
		return fmt.Errorf("compute next sequence: %w", err)
	}

	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO session_messages (session_id, sequence_num, role, content, message_json, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sessionID, next, msg.Role, msg.Content, raw, time.Now())
		if err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		next++
	}

	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = $1 WHERE session_id = $2`, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
