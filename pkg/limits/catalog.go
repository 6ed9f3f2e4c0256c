// Package limits is the resource limit catalog: it maps isolation levels to
// default quota profiles and owns merge/validation of partial limit updates.
package limits

import (
	"github.com/sandguard/sandguard/pkg/domain"
)

// DefaultLimits returns the quota profile for an isolation level. The result
// is deterministic for identical input and has no side effects. Custom falls
// back to the medium profile; callers merge their overrides on top.
func DefaultLimits(level domain.IsolationLevel) domain.ResourceLimits {
	switch level {
	case domain.IsolationStrict:
		return domain.ResourceLimits{
			CPU:      domain.CPULimits{MaxUsage: 15},
			Memory:   domain.MemoryLimits{MaxMB: 128, HardMB: 160},
			API:      domain.APILimits{RequestsPerMinute: 60, BurstPerMinute: 120, MaxConcurrent: 5},
			Database: domain.DatabaseLimits{MaxConnections: 2, HardConnections: 4, QueriesPerMinute: 100},
			Storage:  domain.StorageLimits{MaxMB: 100, HardMB: 120, MaxFiles: 500},
		}
	case domain.IsolationLight:
		return domain.ResourceLimits{
			CPU:      domain.CPULimits{MaxUsage: 80},
			Memory:   domain.MemoryLimits{MaxMB: 2048, HardMB: 2560},
			API:      domain.APILimits{RequestsPerMinute: 1200, BurstPerMinute: 2400, MaxConcurrent: 100},
			Database: domain.DatabaseLimits{MaxConnections: 20, HardConnections: 40, QueriesPerMinute: 10000},
			Storage:  domain.StorageLimits{MaxMB: 10240, HardMB: 12288, MaxFiles: 50000},
		}
	default: // medium, and the base profile for custom
		return domain.ResourceLimits{
			CPU:      domain.CPULimits{MaxUsage: 40},
			Memory:   domain.MemoryLimits{MaxMB: 512, HardMB: 640},
			API:      domain.APILimits{RequestsPerMinute: 300, BurstPerMinute: 600, MaxConcurrent: 20},
			Database: domain.DatabaseLimits{MaxConnections: 5, HardConnections: 10, QueriesPerMinute: 1000},
			Storage:  domain.StorageLimits{MaxMB: 1024, HardMB: 1280, MaxFiles: 5000},
		}
	}
}

// ForLevel resolves the effective limits for a level plus optional overrides.
// Overrides win field-by-field; zero-valued fields keep the base profile.
func ForLevel(level domain.IsolationLevel, overrides *domain.ResourceLimits) (domain.ResourceLimits, error) {
	base := DefaultLimits(level)
	if overrides == nil {
		return base, nil
	}
	if err := Validate(*overrides); err != nil {
		return domain.ResourceLimits{}, err
	}
	return Merge(base, *overrides), nil
}

// Merge applies every non-zero field of partial on top of base.
func Merge(base, partial domain.ResourceLimits) domain.ResourceLimits {
	out := base
	if partial.CPU.MaxUsage != 0 {
		out.CPU.MaxUsage = partial.CPU.MaxUsage
	}
	if partial.Memory.MaxMB != 0 {
		out.Memory.MaxMB = partial.Memory.MaxMB
	}
	if partial.Memory.HardMB != 0 {
		out.Memory.HardMB = partial.Memory.HardMB
	}
	if partial.API.RequestsPerMinute != 0 {
		out.API.RequestsPerMinute = partial.API.RequestsPerMinute
	}
	if partial.API.BurstPerMinute != 0 {
		out.API.BurstPerMinute = partial.API.BurstPerMinute
	}
	if partial.API.MaxConcurrent != 0 {
		out.API.MaxConcurrent = partial.API.MaxConcurrent
	}
	if partial.Database.MaxConnections != 0 {
		out.Database.MaxConnections = partial.Database.MaxConnections
	}
	if partial.Database.HardConnections != 0 {
		out.Database.HardConnections = partial.Database.HardConnections
	}
	if partial.Database.QueriesPerMinute != 0 {
		out.Database.QueriesPerMinute = partial.Database.QueriesPerMinute
	}
	if partial.Storage.MaxMB != 0 {
		out.Storage.MaxMB = partial.Storage.MaxMB
	}
	if partial.Storage.HardMB != 0 {
		out.Storage.HardMB = partial.Storage.HardMB
	}
	if partial.Storage.MaxFiles != 0 {
		out.Storage.MaxFiles = partial.Storage.MaxFiles
	}
	return out
}

// Validate rejects negative or out-of-range values in a (possibly partial)
// limits struct. Zero values are treated as "unset" and pass.
func Validate(l domain.ResourceLimits) error {
	if l.CPU.MaxUsage < 0 || l.CPU.MaxUsage > 100 {
		return domain.NewValidationError("cpu.max_usage", "must be between 0 and 100")
	}
	if l.Memory.MaxMB < 0 {
		return domain.NewValidationError("memory.max_mb", "must not be negative")
	}
	if l.Memory.HardMB < 0 {
		return domain.NewValidationError("memory.hard_mb", "must not be negative")
	}
	if l.Memory.HardMB != 0 && l.Memory.MaxMB != 0 && l.Memory.HardMB < l.Memory.MaxMB {
		return domain.NewValidationError("memory.hard_mb", "must not be below memory.max_mb")
	}
	if l.API.RequestsPerMinute < 0 {
		return domain.NewValidationError("api.requests_per_minute", "must not be negative")
	}
	if l.API.BurstPerMinute < 0 {
		return domain.NewValidationError("api.burst_per_minute", "must not be negative")
	}
	if l.API.MaxConcurrent < 0 {
		return domain.NewValidationError("api.max_concurrent", "must not be negative")
	}
	if l.Database.MaxConnections < 0 {
		return domain.NewValidationError("database.max_connections", "must not be negative")
	}
	if l.Database.HardConnections < 0 {
		return domain.NewValidationError("database.hard_connections", "must not be negative")
	}
	if l.Database.QueriesPerMinute < 0 {
		return domain.NewValidationError("database.queries_per_minute", "must not be negative")
	}
	if l.Storage.MaxMB < 0 {
		return domain.NewValidationError("storage.max_mb", "must not be negative")
	}
	if l.Storage.HardMB < 0 {
		return domain.NewValidationError("storage.hard_mb", "must not be negative")
	}
	if l.Storage.MaxFiles < 0 {
		return domain.NewValidationError("storage.max_files", "must not be negative")
	}
	return nil
}
