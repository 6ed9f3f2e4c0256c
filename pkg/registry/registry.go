// Package registry persists sandbox records. The lifecycle manager owns all
// mutation; the store only provides durability.
package registry

import (
	"context"

	"github.com/sandguard/sandguard/pkg/domain"
)

// Store is the durable record store for sandbox state.
type Store interface {
	Save(ctx context.Context, sb *domain.Sandbox) error
	Get(ctx context.Context, key domain.SandboxKey) (*domain.Sandbox, error)
	Delete(ctx context.Context, key domain.SandboxKey) error
	List(ctx context.Context) ([]*domain.Sandbox, error)
}
