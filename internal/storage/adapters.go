package storage

import (
	"context"

	"github.com/nexuscore/runtime/pkg/models"
)

// RolloutSaver adapts MemoryRolloutStore (or any store with SaveRollout) to
// internal/rollout.Store, whose Save method is named generically since a
// rollout manager has only one thing to save.
type RolloutSaver struct {
	Rollouts *MemoryRolloutStore
}

func (s RolloutSaver) Save(ctx context.Context, r *models.Rollout) error {
	return s.Rollouts.SaveRollout(ctx, r)
}

// ChannelResolver adapts MemorySessionChannelStore to internal/dispatcher.ChannelStore.
type ChannelResolver struct {
	Sessions *MemorySessionChannelStore
}

func (c ChannelResolver) Get(ctx context.Context, channelID int) (models.Channel, bool, error) {
	return c.Sessions.GetChannel(ctx, channelID)
}

// SessionResolver adapts MemorySessionChannelStore to internal/dispatcher.SessionStore.
type SessionResolver struct {
	Sessions *MemorySessionChannelStore
}

func (s SessionResolver) Resolve(ctx context.Context, channelID int, chatID string) (*models.Session, error) {
	return s.Sessions.ResolveSession(ctx, channelID, chatID)
}

func (s SessionResolver) AppendHistory(ctx context.Context, sessionID string, msgs []models.Message) error {
	return s.Sessions.AppendSessionHistory(ctx, sessionID, msgs)
}
