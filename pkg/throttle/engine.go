// Package throttle evaluates configured throttle rules against usage samples
// and dispatches the resulting actions. Enforcement backends are collaborators
// behind the Throttler interface.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/obs"
)

// Actions is implemented by the lifecycle manager. The engine decides, the
// manager applies.
type Actions interface {
	Throttle(ctx context.Context, key domain.SandboxKey, resource domain.ResourceType, duration time.Duration) error
	Suspend(ctx context.Context, key domain.SandboxKey, reason string) error
	Alert(ctx context.Context, key domain.SandboxKey, message string) error
	Restart(ctx context.Context, key domain.SandboxKey) error
}

// Firing records one rule that fired during a tick.
type Firing struct {
	RuleID   string
	Resource domain.ResourceType
	Action   domain.RuleAction
	Value    float64
}

// Engine walks a sandbox's rules in declaration order. Per resource type, the
// first matching enabled rule fires; a fired rule then sits out its cooldown.
// Cooldowns are scoped per rule id, independent across resource types.
type Engine struct {
	Logger  obs.Logger
	Metrics obs.Metrics

	now func() time.Time

	mu        sync.Mutex
	lastFired map[string]time.Time
}

func NewEngine(logger obs.Logger, metrics obs.Metrics) *Engine {
	return &Engine{
		Logger:    logger,
		Metrics:   metrics,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// EvaluateTick matches rules against the sample and dispatches actions.
// Action errors are logged and do not stop evaluation of other resources.
func (e *Engine) EvaluateTick(ctx context.Context, key domain.SandboxKey, sample *domain.PerformanceSample, rules []domain.ThrottleRule, actions Actions) []Firing {
	var fired []Firing
	done := make(map[domain.ResourceType]bool)

	for _, rule := range rules {
		if !rule.Enabled || done[rule.Resource] {
			continue
		}
		if e.inCooldown(rule) {
			continue
		}

		matched, value := e.matches(rule, sample)
		if !matched {
			continue
		}

		e.markFired(rule.ID)
		done[rule.Resource] = true
		fired = append(fired, Firing{
			RuleID:   rule.ID,
			Resource: rule.Resource,
			Action:   rule.Action,
			Value:    value,
		})

		if e.Metrics != nil {
			e.Metrics.IncCounter("sandguard_rule_fired_total", 1,
				obs.Label{Key: "resource", Value: string(rule.Resource)},
				obs.Label{Key: "action", Value: string(rule.Action)},
			)
		}

		if err := e.dispatch(ctx, key, rule, actions); err != nil && e.Logger != nil {
			e.Logger.Error(ctx, "Rule action failed", map[string]any{
				"sandbox": key.String(),
				"rule_id": rule.ID,
				"action":  rule.Action,
				"error":   err.Error(),
			})
		}
	}

	return fired
}

func (e *Engine) dispatch(ctx context.Context, key domain.SandboxKey, rule domain.ThrottleRule, actions Actions) error {
	switch rule.Action {
	case domain.ActionThrottle:
		return actions.Throttle(ctx, key, rule.Resource, rule.Duration)
	case domain.ActionSuspend:
		return actions.Suspend(ctx, key, fmt.Sprintf("rule %s triggered", rule.ID))
	case domain.ActionAlert:
		return actions.Alert(ctx, key, fmt.Sprintf("rule %s matched on %s", rule.ID, rule.Resource))
	case domain.ActionRestart:
		return actions.Restart(ctx, key)
	}
	return fmt.Errorf("unknown rule action %q", rule.Action)
}

func (e *Engine) inCooldown(rule domain.ThrottleRule) bool {
	if rule.Cooldown <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[rule.ID]
	return ok && e.now().Sub(last) < rule.Cooldown
}

func (e *Engine) markFired(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFired[ruleID] = e.now()
}

// Forget drops cooldown bookkeeping for a sandbox's rules. Called on destroy.
func (e *Engine) Forget(rules []domain.ThrottleRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rules {
		delete(e.lastFired, r.ID)
	}
}

func (e *Engine) matches(rule domain.ThrottleRule, sample *domain.PerformanceSample) (bool, float64) {
	value := sample.ResourceValue(rule.Resource)

	if rule.Expression != "" {
		ok, err := EvalExpression(rule.Expression, sample)
		if err != nil {
			// Invalid expression: skip the rule, same as a non-match.
			return false, value
		}
		return ok, value
	}

	switch rule.Condition {
	case domain.ConditionExceeds:
		return value > rule.Threshold, value
	case domain.ConditionBelow:
		return value < rule.Threshold, value
	case domain.ConditionEquals:
		return value == rule.Threshold, value
	}
	return false, value
}
