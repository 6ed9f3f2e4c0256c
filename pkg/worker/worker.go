// Package worker abstracts the isolated execution unit running a tenant
// module's code. The governor is worker-agnostic: backends are chosen at
// deployment time and tests run against the fake.
package worker

import (
	"context"

	"github.com/sandguard/sandguard/pkg/domain"
)

// Worker is one isolated execution unit. Identity changes on every create,
// so a resumed sandbox is observably running a fresh worker.
type Worker interface {
	// ID is the unique handle of this worker instance.
	ID() string

	// Start launches the underlying execution unit.
	Start(ctx context.Context) error

	// Stop terminates the execution unit. Safe to call on a stopped worker.
	Stop(ctx context.Context) error

	// Healthy reports whether the execution unit is still serving.
	Healthy(ctx context.Context) bool
}

// Factory creates workers for a backend chosen at deployment time.
type Factory interface {
	Create(ctx context.Context, key domain.SandboxKey, limits domain.ResourceLimits) (Worker, error)
}

// PIDRegistry receives the host PID of workers that run as their own OS
// process, so the metrics source can sample them. Satisfied by
// metrics.PIDTable. In-process backends never report a PID.
type PIDRegistry interface {
	Register(key domain.SandboxKey, pid int32)
	Unregister(key domain.SandboxKey)
}
