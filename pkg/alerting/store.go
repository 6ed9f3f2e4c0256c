// Package alerting records quota violations and alerts: violations are
// append-only history, alerts are mutable only through acknowledge.
package alerting

import (
	"context"

	"github.com/sandguard/sandguard/pkg/domain"
)

// AlertFilter narrows ListAlerts. Zero-valued fields match everything.
type AlertFilter struct {
	ModuleID     string
	TenantID     string
	Acknowledged *bool
}

// Store is the alert and audit collaborator.
type Store interface {
	// AppendViolation adds an immutable violation record to history.
	AppendViolation(ctx context.Context, v domain.Violation) error

	// Violations returns a sandbox's violation history, oldest first.
	Violations(ctx context.Context, key domain.SandboxKey) ([]domain.Violation, error)

	// CreateAlert records a new alert and returns it with an assigned id.
	CreateAlert(ctx context.Context, a domain.Alert) (*domain.Alert, error)

	// ListAlerts returns alerts matching the filter, oldest first.
	ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error)

	// Acknowledge marks an alert acknowledged. Acknowledging twice is a
	// successful no-op. Unknown ids return NotFound.
	Acknowledge(ctx context.Context, alertID, by string) error
}
