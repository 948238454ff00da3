package models

import "time"

// Session is a logical conversation, created lazily on first message for a
// (channel_id, chat_id) pair and persisting across dispatches.
type Session struct {
	SessionID      string    `json:"session_id"`
	ChannelID      int       `json:"channel_id"`
	ChatID         string    `json:"chat_id"`
	History        []Message `json:"history"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Channel is a configured transport endpoint the dispatcher routes through.
type Channel struct {
	ID     int           `json:"id"`
	Type   ChannelType   `json:"type"`
	ChatID string        `json:"chat_id,omitempty"`
	Config RolloutConfig `json:"config"`
}
