package modules

import (
	"context"
	"sync"

	"github.com/nexuscore/runtime/pkg/models"
)

// MemStore is an in-memory Store, used in tests and for embedded/dev
// deployments without a SQL backend.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]models.ModuleInstallRecord
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]models.ModuleInstallRecord)}
}

func (s *MemStore) Save(ctx context.Context, rec models.ModuleInstallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = rec
	return nil
}

func (s *MemStore) Get(ctx context.Context, name string) (models.ModuleInstallRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[name]
	return rec, ok, nil
}

func (s *MemStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	return nil
}

func (s *MemStore) List(ctx context.Context) ([]models.ModuleInstallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ModuleInstallRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}
