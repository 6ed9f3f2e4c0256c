// Package evaluator compares a usage sample against a sandbox's limits and
// derives the per-tick health status. Evaluation is pure: it never mutates
// sandbox state; the lifecycle manager applies consequences.
package evaluator

import (
	"fmt"

	"github.com/sandguard/sandguard/pkg/domain"
)

// Evaluate returns the violations for one sample in fixed resource order
// (cpu, memory, api, database, storage) plus the derived status.
// activeThrottle reports whether a throttle is currently in effect for the
// sandbox; it only influences the derived status, never the violations.
func Evaluate(sample *domain.PerformanceSample, lim domain.ResourceLimits, activeThrottle bool) ([]domain.Violation, domain.DerivedStatus) {
	var violations []domain.Violation

	violations = append(violations, checkCPU(sample, lim.CPU)...)
	violations = append(violations, checkMemory(sample, lim.Memory)...)
	violations = append(violations, checkAPI(sample, lim.API)...)
	violations = append(violations, checkDatabase(sample, lim.Database)...)
	violations = append(violations, checkStorage(sample, lim.Storage)...)

	return violations, Derive(violations, activeThrottle)
}

// Derive computes the status verdict: critical beats warning beats an active
// throttle beats normal.
func Derive(violations []domain.Violation, activeThrottle bool) domain.DerivedStatus {
	status := domain.DerivedNormal
	if activeThrottle {
		status = domain.DerivedThrottled
	}
	for _, v := range violations {
		if v.Severity == domain.SeverityCritical {
			return domain.DerivedCritical
		}
		status = domain.DerivedWarning
	}
	return status
}

// HasCritical reports whether any violation in the list is critical.
func HasCritical(violations []domain.Violation) bool {
	for _, v := range violations {
		if v.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

// cpuCriticalUsage is the hard ceiling above which a CPU breach is critical
// regardless of the configured soft limit.
const cpuCriticalUsage = 90

func checkCPU(s *domain.PerformanceSample, lim domain.CPULimits) []domain.Violation {
	if lim.MaxUsage <= 0 || s.CPUUsage <= lim.MaxUsage {
		return nil
	}
	sev := domain.SeverityWarning
	if s.CPUUsage > cpuCriticalUsage {
		sev = domain.SeverityCritical
	}
	return []domain.Violation{{
		Key:       s.Key,
		Resource:  domain.ResourceCPU,
		Severity:  sev,
		Message:   fmt.Sprintf("cpu usage %.1f%% exceeds limit %.1f%%", s.CPUUsage, lim.MaxUsage),
		Observed:  s.CPUUsage,
		Limit:     lim.MaxUsage,
		Timestamp: s.CollectedAt,
	}}
}

func checkMemory(s *domain.PerformanceSample, lim domain.MemoryLimits) []domain.Violation {
	// Any excess over the hard ceiling is critical.
	if lim.HardMB > 0 && s.MemoryMB > lim.HardMB {
		return []domain.Violation{{
			Key:       s.Key,
			Resource:  domain.ResourceMemory,
			Severity:  domain.SeverityCritical,
			Message:   fmt.Sprintf("memory %.1fMB exceeds hard limit %.1fMB", s.MemoryMB, lim.HardMB),
			Observed:  s.MemoryMB,
			Limit:     lim.HardMB,
			Timestamp: s.CollectedAt,
		}}
	}
	if lim.MaxMB > 0 && s.MemoryMB > lim.MaxMB {
		return []domain.Violation{{
			Key:       s.Key,
			Resource:  domain.ResourceMemory,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("memory %.1fMB exceeds limit %.1fMB", s.MemoryMB, lim.MaxMB),
			Observed:  s.MemoryMB,
			Limit:     lim.MaxMB,
			Timestamp: s.CollectedAt,
		}}
	}
	return nil
}

func checkAPI(s *domain.PerformanceSample, lim domain.APILimits) []domain.Violation {
	var out []domain.Violation
	if lim.RequestsPerMinute > 0 && s.APIRequests > lim.RequestsPerMinute {
		sev := domain.SeverityWarning
		limit := lim.RequestsPerMinute
		if lim.BurstPerMinute > 0 && s.APIRequests > lim.BurstPerMinute {
			sev = domain.SeverityCritical
			limit = lim.BurstPerMinute
		}
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceAPI,
			Severity:  sev,
			Message:   fmt.Sprintf("api rate %.0f req/min exceeds limit %.0f", s.APIRequests, limit),
			Observed:  s.APIRequests,
			Limit:     limit,
			Timestamp: s.CollectedAt,
		})
	}
	if lim.MaxConcurrent > 0 && s.APIInFlight > lim.MaxConcurrent {
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceAPI,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("%d in-flight api requests exceed limit %d", s.APIInFlight, lim.MaxConcurrent),
			Observed:  float64(s.APIInFlight),
			Limit:     float64(lim.MaxConcurrent),
			Timestamp: s.CollectedAt,
		})
	}
	return out
}

func checkDatabase(s *domain.PerformanceSample, lim domain.DatabaseLimits) []domain.Violation {
	var out []domain.Violation
	if lim.MaxConnections > 0 && s.DBConns > lim.MaxConnections {
		sev := domain.SeverityWarning
		limit := lim.MaxConnections
		if lim.HardConnections > 0 && s.DBConns > lim.HardConnections {
			sev = domain.SeverityCritical
			limit = lim.HardConnections
		}
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceDatabase,
			Severity:  sev,
			Message:   fmt.Sprintf("%d db connections exceed limit %d", s.DBConns, limit),
			Observed:  float64(s.DBConns),
			Limit:     float64(limit),
			Timestamp: s.CollectedAt,
		})
	}
	if lim.QueriesPerMinute > 0 && s.DBQueries > lim.QueriesPerMinute {
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceDatabase,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("db rate %.0f queries/min exceeds limit %.0f", s.DBQueries, lim.QueriesPerMinute),
			Observed:  s.DBQueries,
			Limit:     lim.QueriesPerMinute,
			Timestamp: s.CollectedAt,
		})
	}
	return out
}

func checkStorage(s *domain.PerformanceSample, lim domain.StorageLimits) []domain.Violation {
	var out []domain.Violation
	if lim.HardMB > 0 && s.StorageMB > lim.HardMB {
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceStorage,
			Severity:  domain.SeverityCritical,
			Message:   fmt.Sprintf("storage %.1fMB exceeds hard limit %.1fMB", s.StorageMB, lim.HardMB),
			Observed:  s.StorageMB,
			Limit:     lim.HardMB,
			Timestamp: s.CollectedAt,
		})
	} else if lim.MaxMB > 0 && s.StorageMB > lim.MaxMB {
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceStorage,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("storage %.1fMB exceeds limit %.1fMB", s.StorageMB, lim.MaxMB),
			Observed:  s.StorageMB,
			Limit:     lim.MaxMB,
			Timestamp: s.CollectedAt,
		})
	}
	if lim.MaxFiles > 0 && s.StorageFiles > lim.MaxFiles {
		out = append(out, domain.Violation{
			Key:       s.Key,
			Resource:  domain.ResourceStorage,
			Severity:  domain.SeverityWarning,
			Message:   fmt.Sprintf("%d files exceed limit %d", s.StorageFiles, lim.MaxFiles),
			Observed:  float64(s.StorageFiles),
			Limit:     float64(lim.MaxFiles),
			Timestamp: s.CollectedAt,
		})
	}
	return out
}
