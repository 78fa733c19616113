package baseline

import (
	"context"
	"fmt"
	"sync"

	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// InMemoryStore keeps baselines in a map. Used in unit tests and as the
// default when Postgres is not configured.
type InMemoryStore struct {
	mu        sync.RWMutex
	baselines map[id.SubjectID]*Baseline
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{baselines: make(map[id.SubjectID]*Baseline)}
}

func (s *InMemoryStore) Get(_ context.Context, subjectID id.SubjectID) (*Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[subjectID]
	if !ok {
		return nil, fmt.Errorf("baseline for subject %s: %w", subjectID, sentinel.ErrNotFound)
	}
	copied := *b
	return &copied, nil
}

func (s *InMemoryStore) Put(_ context.Context, b *Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *b
	s.baselines[b.SubjectID] = &copied
	return nil
}
