package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandguard/sandguard/pkg/domain"
)

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu         sync.RWMutex
	violations map[domain.SandboxKey][]domain.Violation
	alerts     []domain.Alert
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		violations: make(map[domain.SandboxKey][]domain.Violation),
		now:        time.Now,
	}
}

func (s *MemoryStore) AppendViolation(ctx context.Context, v domain.Violation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations[v.Key] = append(s.violations[v.Key], v)
	return nil
}

func (s *MemoryStore) Violations(ctx context.Context, key domain.SandboxKey) ([]domain.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Violation(nil), s.violations[key]...), nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, a domain.Alert) (*domain.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.UpdatedAt = a.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return &a, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Alert
	for _, a := range s.alerts {
		if f.ModuleID != "" && a.ModuleID != f.ModuleID {
			continue
		}
		if f.TenantID != "" && a.TenantID != f.TenantID {
			continue
		}
		if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) Acknowledge(ctx context.Context, alertID, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID != alertID {
			continue
		}
		if s.alerts[i].Acknowledged {
			return nil // second ack is a no-op
		}
		s.alerts[i].Acknowledged = true
		s.alerts[i].AckedBy = by
		s.alerts[i].AckedAt = s.now()
		s.alerts[i].UpdatedAt = s.alerts[i].AckedAt
		return nil
	}
	return domain.NewNotFoundError("alert", alertID)
}
