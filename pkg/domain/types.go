package domain

import (
	"fmt"
	"time"
)

// Keys & identity

// SandboxKey identifies one installed module version for one tenant.
// (moduleID, tenantID, version) is the deterministic registry key; only one
// sandbox may exist per key at a time.
type SandboxKey struct {
	ModuleID string `json:"module_id"`
	TenantID string `json:"tenant_id"`
	Version  string `json:"version"`
}

func (k SandboxKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ModuleID, k.TenantID, k.Version)
}

// Statuses

type SandboxStatus string

const (
	StatusInitializing SandboxStatus = "initializing"
	StatusActive       SandboxStatus = "active"
	StatusThrottled    SandboxStatus = "throttled"
	StatusSuspended    SandboxStatus = "suspended"
)

// DerivedStatus is the evaluator's per-tick health verdict. It is a report
// value, not the persisted sandbox status.
type DerivedStatus string

const (
	DerivedNormal    DerivedStatus = "normal"
	DerivedThrottled DerivedStatus = "throttled"
	DerivedWarning   DerivedStatus = "warning"
	DerivedCritical  DerivedStatus = "critical"
)

// Isolation levels

type IsolationLevel string

const (
	IsolationLight  IsolationLevel = "light"
	IsolationMedium IsolationLevel = "medium"
	IsolationStrict IsolationLevel = "strict"
	IsolationCustom IsolationLevel = "custom"
)

// Resource groups

type ResourceType string

const (
	ResourceCPU      ResourceType = "cpu"
	ResourceMemory   ResourceType = "memory"
	ResourceAPI      ResourceType = "api"
	ResourceDatabase ResourceType = "database"
	ResourceStorage  ResourceType = "storage"
)

// ResourceOrder is the fixed evaluation order for the five resource groups.
var ResourceOrder = []ResourceType{
	ResourceCPU, ResourceMemory, ResourceAPI, ResourceDatabase, ResourceStorage,
}

// ResourceLimits holds the quota thresholds for all five resource groups.
// Updates only happen through an explicit update-limits operation and take
// effect on the next monitoring tick.
type ResourceLimits struct {
	CPU      CPULimits      `json:"cpu"`
	Memory   MemoryLimits   `json:"memory"`
	API      APILimits      `json:"api"`
	Database DatabaseLimits `json:"database"`
	Storage  StorageLimits  `json:"storage"`
}

type CPULimits struct {
	MaxUsage float64 `json:"max_usage"` // percent of the sandbox's allocation
}

type MemoryLimits struct {
	MaxMB  float64 `json:"max_mb"`  // soft ceiling, warning above
	HardMB float64 `json:"hard_mb"` // hard ceiling, any excess is critical
}

type APILimits struct {
	RequestsPerMinute float64 `json:"requests_per_minute"`
	BurstPerMinute    float64 `json:"burst_per_minute"`
	MaxConcurrent     int     `json:"max_concurrent"`
}

type DatabaseLimits struct {
	MaxConnections   int     `json:"max_connections"`
	HardConnections  int     `json:"hard_connections"`
	QueriesPerMinute float64 `json:"queries_per_minute"`
}

type StorageLimits struct {
	MaxMB    float64 `json:"max_mb"`
	HardMB   float64 `json:"hard_mb"`
	MaxFiles int     `json:"max_files"`
}

// Throttle rules

type RuleCondition string

const (
	ConditionExceeds RuleCondition = "exceeds"
	ConditionBelow   RuleCondition = "below"
	ConditionEquals  RuleCondition = "equals"
)

type RuleAction string

const (
	ActionThrottle RuleAction = "throttle"
	ActionSuspend  RuleAction = "suspend"
	ActionAlert    RuleAction = "alert"
	ActionRestart  RuleAction = "restart"
)

// ThrottleRule is a condition-action pair evaluated against each sample.
// Rules are kept in declaration order; the first matching enabled rule per
// resource type fires on a tick, then sits out Cooldown before it may fire
// again.
type ThrottleRule struct {
	ID        string        `json:"id"`
	Resource  ResourceType  `json:"resource"`
	Condition RuleCondition `json:"condition"`
	Threshold float64       `json:"threshold"`
	Action    RuleAction    `json:"action"`
	Duration  time.Duration `json:"duration"`
	Cooldown  time.Duration `json:"cooldown"`
	Enabled   bool          `json:"enabled"`

	// Expression optionally replaces the (Condition, Threshold) pair with a
	// CEL expression over the whole sample, e.g. "cpu > 80 && api_rpm > 100".
	Expression string `json:"expression,omitempty"`
}

// Samples & reports

// PerformanceSample is one point-in-time usage reading for a sandbox. It is
// ephemeral and only survives in the sample cache for the configured TTL.
type PerformanceSample struct {
	Key          SandboxKey `json:"key"`
	CPUUsage     float64    `json:"cpu_usage"` // percent
	MemoryMB     float64    `json:"memory_mb"`
	APIRequests  float64    `json:"api_requests_per_minute"`
	APIInFlight  int        `json:"api_in_flight"`
	DBConns      int        `json:"db_connections"`
	DBQueries    float64    `json:"db_queries_per_minute"`
	StorageMB    float64    `json:"storage_mb"`
	StorageFiles int        `json:"storage_files"`
	CollectedAt  time.Time  `json:"collected_at"`
}

// ResourceValue returns the sample reading the rule engine compares for a
// given resource type.
func (s *PerformanceSample) ResourceValue(rt ResourceType) float64 {
	switch rt {
	case ResourceCPU:
		return s.CPUUsage
	case ResourceMemory:
		return s.MemoryMB
	case ResourceAPI:
		return s.APIRequests
	case ResourceDatabase:
		return float64(s.DBConns)
	case ResourceStorage:
		return s.StorageMB
	}
	return 0
}

// PerformanceReport is what GetMetrics serves: the sample plus the evaluated
// violations and derived status at collection time.
type PerformanceReport struct {
	Key        SandboxKey        `json:"key"`
	Status     DerivedStatus     `json:"status"`
	Sample     PerformanceSample `json:"sample"`
	Violations []Violation       `json:"violations"`
}

// Violations & alerts

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is an immutable record of one limit breach. Appended to history,
// never mutated.
type Violation struct {
	ID        string       `json:"id"`
	Key       SandboxKey   `json:"key"`
	Resource  ResourceType `json:"resource"`
	Severity  Severity     `json:"severity"`
	Message   string       `json:"message"`
	Observed  float64      `json:"observed"`
	Limit     float64      `json:"limit"`
	Action    string       `json:"action,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type AlertType string

const (
	AlertInfo     AlertType = "info"
	AlertWarning  AlertType = "warning"
	AlertBlocking AlertType = "blocking"
)

// Alert references a module/tenant and is mutable only via acknowledge.
type Alert struct {
	ID           string    `json:"id"`
	ModuleID     string    `json:"module_id"`
	TenantID     string    `json:"tenant_id"`
	Version      string    `json:"version"`
	Type         AlertType `json:"type"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Acknowledged bool      `json:"acknowledged"`
	AckedBy      string    `json:"acked_by,omitempty"`
	AckedAt      time.Time `json:"acked_at,omitempty"`
}

// Sandbox configuration

type MonitoringConfig struct {
	Interval       time.Duration `json:"interval"`
	AlertThreshold int           `json:"alert_threshold"`
}

// AutoScalingConfig is stored with the sandbox record but not acted on by
// the governor core.
type AutoScalingConfig struct {
	Enabled    bool `json:"enabled"`
	MinWorkers int  `json:"min_workers"`
	MaxWorkers int  `json:"max_workers"`
}

// Sandbox is the bounded execution context for one tenant's installed module
// version. Owned exclusively by the lifecycle manager.
type Sandbox struct {
	ID            string            `json:"id"`
	Key           SandboxKey        `json:"key"`
	Isolation     IsolationLevel    `json:"isolation"`
	Limits        ResourceLimits    `json:"limits"`
	Rules         []ThrottleRule    `json:"rules"`
	Monitoring    MonitoringConfig  `json:"monitoring"`
	AutoScaling   AutoScalingConfig `json:"auto_scaling"`
	Status        SandboxStatus     `json:"status"`
	SuspendReason string            `json:"suspend_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Statistics is the aggregate view served by GetStatistics.
type Statistics struct {
	Total     int     `json:"total"`
	Active    int     `json:"active"`
	Suspended int     `json:"suspended"`
	Throttled int     `json:"throttled"`
	AvgCPU    float64 `json:"avg_cpu"`
	AvgMemory float64 `json:"avg_memory"`
}
