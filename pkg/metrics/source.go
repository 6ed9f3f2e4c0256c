// Package metrics defines the pluggable usage-sample source contract and the
// TTL cache that serves metric reads between collections.
package metrics

import (
	"context"

	"github.com/sandguard/sandguard/pkg/domain"
)

// Source produces one point-in-time usage sample per sandbox. A failing
// source returns *domain.CollectionError; callers log and skip the tick
// rather than crash the monitoring loop.
type Source interface {
	Sample(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, error)

func (f SourceFunc) Sample(ctx context.Context, key domain.SandboxKey) (*domain.PerformanceSample, error) {
	return f(ctx, key)
}
