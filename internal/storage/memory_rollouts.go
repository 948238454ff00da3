package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscore/runtime/pkg/models"
)

// MemoryRolloutStore is an in-memory RolloutStore, used in tests and for
// single-process deployments without a SQL backend.
type MemoryRolloutStore struct {
	mu        sync.RWMutex
	rollouts  map[string]*models.Rollout
	spans     map[string][]models.Span
	toolExecs []models.ToolExecution
	resources map[string]models.ResourceVersion
}

// NewMemoryRolloutStore creates an empty MemoryRolloutStore.
func NewMemoryRolloutStore() *MemoryRolloutStore {
	return &MemoryRolloutStore{
		rollouts:  make(map[string]*models.Rollout),
		spans:     make(map[string][]models.Span),
		resources: make(map[string]models.ResourceVersion),
	}
}

func (s *MemoryRolloutStore) SaveRollout(ctx context.Context, r *models.Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Attempts = append([]*models.Attempt{}, r.Attempts...)
	s.rollouts[r.RolloutID] = &cp
	return nil
}

func (s *MemoryRolloutStore) GetRollout(ctx context.Context, rolloutID string) (*models.Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rollouts[rolloutID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRolloutStore) ListRolloutsBySession(ctx context.Context, sessionID string, limit int) ([]*models.Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Rollout
	for _, r := range s.rollouts {
		if r.SessionID == sessionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRolloutStore) SaveSpans(ctx context.Context, rolloutID string, spans []models.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans[rolloutID] = append(s.spans[rolloutID], spans...)
	return nil
}

func (s *MemoryRolloutStore) ListSpans(ctx context.Context, rolloutID string) ([]models.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Span, len(s.spans[rolloutID]))
	copy(out, s.spans[rolloutID])
	return out, nil
}

func (s *MemoryRolloutStore) SaveToolExecution(ctx context.Context, exec models.ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolExecs = append(s.toolExecs, exec)
	return nil
}

func (s *MemoryRolloutStore) ListToolExecutions(ctx context.Context, channelID int, limit int) ([]models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ToolExecution
	for i := len(s.toolExecs) - 1; i >= 0; i-- {
		if s.toolExecs[i].ChannelID == channelID {
			out = append(out, s.toolExecs[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryRolloutStore) SaveResourceVersion(ctx context.Context, rv models.ResourceVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[rv.VersionID] = rv
	return nil
}

func (s *MemoryRolloutStore) GetResourceVersion(ctx context.Context, versionID string) (models.ResourceVersion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rv, ok := s.resources[versionID]
	return rv, ok, nil
}

// MemorySessionChannelStore is an in-memory SessionChannelStore.
type MemorySessionChannelStore struct {
	mu       sync.RWMutex
	channels map[int]models.Channel
	sessions map[string]*models.Session // keyed by "channelID:chatID"
}

// NewMemorySessionChannelStore creates a store seeded with the given channels.
func NewMemorySessionChannelStore(channels ...models.Channel) *MemorySessionChannelStore {
	m := &MemorySessionChannelStore{
		channels: make(map[int]models.Channel),
		sessions: make(map[string]*models.Session),
	}
	for _, ch := range channels {
		m.channels[ch.ID] = ch
	}
	return m
}

func (s *MemorySessionChannelStore) GetChannel(ctx context.Context, channelID int) (models.Channel, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	return ch, ok, nil
}

func sessionKey(channelID int, chatID string) string {
	return strconv.Itoa(channelID) + ":" + chatID
}

func (s *MemorySessionChannelStore) ResolveSession(ctx context.Context, channelID int, chatID string) (*models.Session, error) {
	key := sessionKey(channelID, chatID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}
	now := time.Now()
	sess := &models.Session{SessionID: uuid.NewString(), ChannelID: channelID, ChatID: chatID, CreatedAt: now, LastActivityAt: now}
	s.sessions[key] = sess
	return sess, nil
}

func (s *MemorySessionChannelStore) AppendSessionHistory(ctx context.Context, sessionID string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.SessionID == sessionID {
			sess.History = append(sess.History, msgs...)
			sess.LastActivityAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}
