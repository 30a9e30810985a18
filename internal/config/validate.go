package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

const (
	minRuleIDLength   = 2
	maxRuleIDLength   = 64
	maxNameLength     = 100
	maxDescription    = 500
	maxLabelLength    = 50
	minPollInterval   = 30
	maxPollInterval   = 300
	minLookbackWindow = 300
	maxLookbackWindow = 604800
	minRetentionDays  = 1
	maxRetentionDays  = 365
)

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Version != CurrentVersion {
		add("version: unsupported version %d (expected %d)", c.Version, CurrentVersion)
	}
	if c.GitHub.PollInterval < minPollInterval || c.GitHub.PollInterval > maxPollInterval {
		add("github.poll_interval: %d is outside %d-%d seconds", c.GitHub.PollInterval, minPollInterval, maxPollInterval)
	}
	if c.GitHub.LookbackWindow < minLookbackWindow || c.GitHub.LookbackWindow > maxLookbackWindow {
		add("github.lookback_window: %d is outside %d-%d seconds", c.GitHub.LookbackWindow, minLookbackWindow, maxLookbackWindow)
	}
	if c.State.RetentionDays < minRetentionDays || c.State.RetentionDays > maxRetentionDays {
		add("state.retention_days: %d is outside %d-%d days", c.State.RetentionDays, minRetentionDays, maxRetentionDays)
	}
	if u := c.Actions.Slack.WebhookURL; u != "" && !strings.HasPrefix(u, slackHooks) {
		add("actions.slack.webhook_url: must start with %s", slackHooks)
	}

	seen := make(map[string]int)
	for i, r := range c.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if r.ID != "" {
			where = fmt.Sprintf("rules[%d] (%s)", i, r.ID)
		}
		if prev, dup := seen[r.ID]; dup && r.ID != "" {
			add("%s: duplicate rule id, first used by rules[%d]", where, prev)
		} else {
			seen[r.ID] = i
		}
		for _, err := range c.validateRule(r) {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateRule(r RuleConfig) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch n := len(r.ID); {
	case n == 0:
		add("id is required")
	case n < minRuleIDLength || n > maxRuleIDLength:
		add("id must be %d-%d characters", minRuleIDLength, maxRuleIDLength)
	case !rules.ValidID(r.ID):
		add("id %q must be lowercase letters, digits and inner hyphens", r.ID)
	}
	if r.Name == "" {
		add("name is required")
	} else if utf8.RuneCountInString(r.Name) > maxNameLength {
		add("name exceeds %d characters", maxNameLength)
	}
	if utf8.RuneCountInString(r.Description) > maxDescription {
		add("description exceeds %d characters", maxDescription)
	}

	for _, et := range r.Trigger.EventType {
		if _, ok := github.ParseEventType(et); !ok {
			add("trigger.event_type: unknown event type %q", et)
		}
	}
	for j, cc := range r.Trigger.Conditions {
		cond, err := cc.toCondition()
		if err == nil {
			err = rules.ValidateCondition(cond)
		}
		if err != nil {
			add("trigger.conditions[%d]: %w", j, err)
		}
	}

	switch n := utf8.RuneCountInString(r.Action.Message); {
	case n == 0:
		add("action.message is required")
	case n > rules.MaxMessageLength:
		add("action.message exceeds %d characters", rules.MaxMessageLength)
	}

	switch rules.ActionType(r.Action.Type) {
	case rules.ActionConsole, rules.ActionDesktop:
	case rules.ActionSlack:
		if c.Actions.Slack.WebhookURL == "" {
			add("slack action requires actions.slack.webhook_url")
		}
	case rules.ActionGitHubComment:
		if !r.Action.OptIn {
			add("github_comment action requires opt_in = true")
		}
		if !c.Actions.GitHubComment.Enabled {
			add("github_comment action requires actions.github_comment.enabled = true")
		}
	case "":
		add("action.type is required")
	default:
		add("action.type: unknown action %q", r.Action.Type)
	}

	return errs
}

func (cc ConditionConfig) toCondition() (rules.Condition, error) {
	switch cc.Type {
	case string(rules.LabelPresent), string(rules.LabelAdded), string(rules.LabelRemoved):
		if utf8.RuneCountInString(cc.Label) > maxLabelLength {
			return nil, fmt.Errorf("%s: label exceeds %d characters", cc.Type, maxLabelLength)
		}
		return rules.LabelCondition{Mode: rules.LabelMode(cc.Type), Label: cc.Label}, nil
	case "time_since":
		return rules.TimeSinceCondition{
			Field:     rules.TimestampField(cc.Field),
			Threshold: cc.Threshold,
		}, nil
	case "no_activity":
		since := rules.TimestampField(cc.Since)
		if since == "" {
			since = rules.FieldCreatedAt
		}
		return rules.NoActivityCondition{Activity: rules.ActivityType(cc.Activity), Since: since}, nil
	case "repo_match":
		return rules.RepoCondition{Pattern: cc.Pattern}, nil
	case "":
		return nil, errors.New("condition type is required")
	}
	return nil, fmt.Errorf("unknown condition type %q", cc.Type)
}
