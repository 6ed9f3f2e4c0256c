package limits

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sandguard/sandguard/pkg/domain"
)

// DefaultRules builds the throttle rules every new sandbox starts with,
// anchored to its resolved limits:
//
//	cpu usage above 80%                -> throttle 300s, cooldown 60s
//	memory above 90% of the hard cap   -> suspend 60s, cooldown 300s
//	api rate over the configured limit -> throttle 60s, cooldown 30s
func DefaultRules(l domain.ResourceLimits) []domain.ThrottleRule {
	return []domain.ThrottleRule{
		{
			ID:        uuid.New().String(),
			Resource:  domain.ResourceCPU,
			Condition: domain.ConditionExceeds,
			Threshold: 80,
			Action:    domain.ActionThrottle,
			Duration:  300 * time.Second,
			Cooldown:  60 * time.Second,
			Enabled:   true,
		},
		{
			ID:        uuid.New().String(),
			Resource:  domain.ResourceMemory,
			Condition: domain.ConditionExceeds,
			Threshold: 0.9 * l.Memory.HardMB,
			Action:    domain.ActionSuspend,
			Duration:  60 * time.Second,
			Cooldown:  300 * time.Second,
			Enabled:   true,
		},
		{
			ID:        uuid.New().String(),
			Resource:  domain.ResourceAPI,
			Condition: domain.ConditionExceeds,
			Threshold: l.API.RequestsPerMinute,
			Action:    domain.ActionThrottle,
			Duration:  60 * time.Second,
			Cooldown:  30 * time.Second,
			Enabled:   true,
		},
	}
}

// ValidateRule rejects malformed rules before they enter a sandbox's rule list.
func ValidateRule(r domain.ThrottleRule) error {
	switch r.Resource {
	case domain.ResourceCPU, domain.ResourceMemory, domain.ResourceAPI,
		domain.ResourceDatabase, domain.ResourceStorage:
	default:
		return domain.NewValidationError("rule.resource", fmt.Sprintf("unknown resource type %q", r.Resource))
	}
	if r.Expression == "" {
		switch r.Condition {
		case domain.ConditionExceeds, domain.ConditionBelow, domain.ConditionEquals:
		default:
			return domain.NewValidationError("rule.condition", fmt.Sprintf("unknown condition %q", r.Condition))
		}
		if r.Threshold < 0 {
			return domain.NewValidationError("rule.threshold", "must not be negative")
		}
	}
	switch r.Action {
	case domain.ActionThrottle, domain.ActionSuspend, domain.ActionAlert, domain.ActionRestart:
	default:
		return domain.NewValidationError("rule.action", fmt.Sprintf("unknown action %q", r.Action))
	}
	if r.Duration < 0 {
		return domain.NewValidationError("rule.duration", "must not be negative")
	}
	if r.Cooldown < 0 {
		return domain.NewValidationError("rule.cooldown", "must not be negative")
	}
	return nil
}

// ruleSpec is the YAML shape for rule profile files. Durations are seconds.
type ruleSpec struct {
	Resource        string  `yaml:"resource"`
	Condition       string  `yaml:"condition"`
	Threshold       float64 `yaml:"threshold"`
	Action          string  `yaml:"action"`
	DurationSeconds int     `yaml:"duration_seconds"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
	Enabled         *bool   `yaml:"enabled"`
	Expression      string  `yaml:"expression"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

// LoadRuleProfile reads additional throttle rules from a YAML file. Rules are
// returned in declaration order, which is also their evaluation order.
func LoadRuleProfile(path string) ([]domain.ThrottleRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule profile: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule profile: %w", err)
	}

	rules := make([]domain.ThrottleRule, 0, len(file.Rules))
	for _, spec := range file.Rules {
		enabled := true
		if spec.Enabled != nil {
			enabled = *spec.Enabled
		}
		rule := domain.ThrottleRule{
			ID:         uuid.New().String(),
			Resource:   domain.ResourceType(spec.Resource),
			Condition:  domain.RuleCondition(spec.Condition),
			Threshold:  spec.Threshold,
			Action:     domain.RuleAction(spec.Action),
			Duration:   time.Duration(spec.DurationSeconds) * time.Second,
			Cooldown:   time.Duration(spec.CooldownSeconds) * time.Second,
			Enabled:    enabled,
			Expression: spec.Expression,
		}
		if err := ValidateRule(rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
