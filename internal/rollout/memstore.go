package rollout

import (
	"context"
	"sync"

	"github.com/nexuscore/runtime/pkg/models"
)

// MemStore is an in-memory Store, useful for tests and single-process
// deployments that don't need durability across restarts.
type MemStore struct {
	mu       sync.RWMutex
	rollouts map[string]*models.Rollout
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rollouts: make(map[string]*models.Rollout)}
}

// Save persists r, replacing any prior snapshot under the same RolloutID.
func (s *MemStore) Save(ctx context.Context, r *models.Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollouts[r.RolloutID] = r
	return nil
}

// Get returns the stored rollout, or nil if unknown.
func (s *MemStore) Get(rolloutID string) *models.Rollout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollouts[rolloutID]
}
