package storage

import (
	"context"

	"github.com/nexuscore/runtime/pkg/models"
)

// RolloutStore persists rollouts, their attempts, flushed spans, and tool
// execution audit rows — the five tables plus sessions/channels/session
// locks that back the dispatcher (C11) and the span collector (C2/C3).
type RolloutStore interface {
	SaveRollout(ctx context.Context, r *models.Rollout) error
	GetRollout(ctx context.Context, rolloutID string) (*models.Rollout, error)
	ListRolloutsBySession(ctx context.Context, sessionID string, limit int) ([]*models.Rollout, error)

	SaveSpans(ctx context.Context, rolloutID string, spans []models.Span) error
	ListSpans(ctx context.Context, rolloutID string) ([]models.Span, error)

	SaveToolExecution(ctx context.Context, exec models.ToolExecution) error
	ListToolExecutions(ctx context.Context, channelID int, limit int) ([]models.ToolExecution, error)

	SaveResourceVersion(ctx context.Context, rv models.ResourceVersion) error
	GetResourceVersion(ctx context.Context, resourcesID string) (models.ResourceVersion, bool, error)
}

// SessionChannelStore resolves-or-creates sessions and looks up channel
// configuration rows, satisfying the dispatcher's ChannelStore/SessionStore
// contracts against durable storage instead of memory.
type SessionChannelStore interface {
	GetChannel(ctx context.Context, channelID int) (models.Channel, bool, error)
	ResolveSession(ctx context.Context, channelID int, chatID string) (*models.Session, error)
	AppendSessionHistory(ctx context.Context, sessionID string, msgs []models.Message) error
}
