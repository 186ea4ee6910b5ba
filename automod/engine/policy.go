package engine

import (
	"fmt"
	"slices"
	"time"
)

type ActionKind string

const (
	ActionQuarantine     ActionKind = "quarantine"
	ActionDeleteMessages ActionKind = "delete-messages"
	ActionBan            ActionKind = "ban"
	ActionNotifyAdmin    ActionKind = "notify-admin"
)

// Ordered set of actions which a decision requires. Dispatch happens in this order.
type ActionSet []ActionKind

func (s ActionSet) Has(kind ActionKind) bool {
	return slices.Contains(s, kind)
}

func (s ActionSet) Strings() []string {
	out := make([]string, len(s))
	for i, a := range s {
		out[i] = string(a)
	}
	return out
}

// How a duplicate count is compared against the policy threshold.
type Comparison string

const (
	// count >= threshold
	CompareAtLeast Comparison = "gte"
	// count > threshold
	CompareExceeds Comparison = "gt"
)

const (
	StrategyQuarantine = "quarantine"
	StrategyBan        = "ban"
	StrategyNotify     = "notify"
)

// Named action sets a deployment can switch between without touching detection logic.
var strategies = map[string]ActionSet{
	StrategyQuarantine: {ActionQuarantine, ActionDeleteMessages, ActionNotifyAdmin},
	StrategyBan:        {ActionBan, ActionNotifyAdmin},
	StrategyNotify:     {ActionNotifyAdmin},
}

// Returns the action set for a named strategy.
func StrategyActions(name string) (ActionSet, error) {
	acts, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown moderation policy: %s", name)
	}
	return slices.Clone(acts), nil
}

// Configured mapping from a duplicate count to an action set, along with the identifiers those actions need.
type Policy struct {
	// Strategy name, for logging
	Name string
	// How long records stay in the window
	Retention time.Duration
	// Repeat count; compared against distinct-channel duplicate count
	Threshold  int
	Comparison Comparison
	Actions    ActionSet
	// Role granted by the quarantine action
	QuarantineRoleID string
	// Recipient of direct-message notifications. Empty disables the DM (other notifiers still run).
	AdminUserID string
	// Passed through to the ban call
	BanDeleteMessageDays int
}

// Defaults of the original deployment: 60 second window, three channels, quarantine.
func DefaultPolicy() Policy {
	acts, _ := StrategyActions(StrategyQuarantine)
	return Policy{
		Name:                 StrategyQuarantine,
		Retention:            60 * time.Second,
		Threshold:            3,
		Comparison:           CompareAtLeast,
		Actions:              acts,
		BanDeleteMessageDays: 1,
	}
}

func (p *Policy) Validate() error {
	if p.Retention <= 0 {
		return fmt.Errorf("retention period must be positive: %s", p.Retention)
	}
	if p.Threshold < 1 {
		return fmt.Errorf("repeat threshold must be at least 1: %d", p.Threshold)
	}
	switch p.Comparison {
	case CompareAtLeast, CompareExceeds:
	default:
		return fmt.Errorf("unknown threshold comparison: %s", p.Comparison)
	}
	if p.Actions.Has(ActionQuarantine) && p.QuarantineRoleID == "" {
		return fmt.Errorf("quarantine policy requires a quarantine role id")
	}
	if p.BanDeleteMessageDays < 0 || p.BanDeleteMessageDays > 7 {
		return fmt.Errorf("ban delete-message days must be between 0 and 7: %d", p.BanDeleteMessageDays)
	}
	return nil
}

func (p *Policy) met(count int) bool {
	if p.Comparison == CompareExceeds {
		return count > p.Threshold
	}
	return count >= p.Threshold
}

// Converts a duplicate count into the required actions. Stateless: the result depends only on the arguments. Returns an empty set when the threshold is not met.
func Evaluate(count int, p *Policy) ActionSet {
	if !p.met(count) {
		return ActionSet{}
	}
	return slices.Clone(p.Actions)
}
