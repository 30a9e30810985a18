package config

import (
	"fmt"

	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

// BuildRules converts the rule tables into engine rules. Disabled rules are
// kept; the engine filters them.
func (c *Config) BuildRules() ([]*rules.Rule, error) {
	out := make([]*rules.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		r, err := rc.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (rc RuleConfig) toRule() (*rules.Rule, error) {
	r := &rules.Rule{
		ID:          rc.ID,
		Name:        rc.Name,
		Description: rc.Description,
		Enabled:     rc.IsEnabled(),
		Action: rules.Action{
			Type:    rules.ActionType(rc.Action.Type),
			Message: rc.Action.Message,
			OptIn:   rc.Action.OptIn,
		},
	}
	for _, s := range rc.Trigger.EventType {
		et, ok := github.ParseEventType(s)
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", s)
		}
		r.Trigger.EventTypes = append(r.Trigger.EventTypes, et)
	}
	for _, cc := range rc.Trigger.Conditions {
		cond, err := cc.toCondition()
		if err != nil {
			return nil, err
		}
		r.Trigger.Conditions = append(r.Trigger.Conditions, cond)
	}
	return r, nil
}
