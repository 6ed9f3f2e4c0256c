package registry

import (
	"context"
	"sync"

	"github.com/sandguard/sandguard/pkg/domain"
)

// MemoryStore keeps sandbox records in a mutex-guarded map. Records are
// copied on the way in and out so callers never share mutable state.
type MemoryStore struct {
	mu        sync.RWMutex
	sandboxes map[domain.SandboxKey]domain.Sandbox
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sandboxes: make(map[domain.SandboxKey]domain.Sandbox)}
}

func (s *MemoryStore) Save(ctx context.Context, sb *domain.Sandbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sb
	copied.Rules = append([]domain.ThrottleRule(nil), sb.Rules...)
	s.sandboxes[sb.Key] = copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key domain.SandboxKey) (*domain.Sandbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sb, ok := s.sandboxes[key]
	if !ok {
		return nil, domain.NewNotFoundError("sandbox", key.String())
	}
	copied := sb
	copied.Rules = append([]domain.ThrottleRule(nil), sb.Rules...)
	return &copied, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key domain.SandboxKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sandboxes[key]; !ok {
		return domain.NewNotFoundError("sandbox", key.String())
	}
	delete(s.sandboxes, key)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*domain.Sandbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Sandbox, 0, len(s.sandboxes))
	for _, sb := range s.sandboxes {
		copied := sb
		copied.Rules = append([]domain.ThrottleRule(nil), sb.Rules...)
		out = append(out, &copied)
	}
	return out, nil
}
