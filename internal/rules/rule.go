package rules

import (
	"regexp"

	"github.com/PowerSchill/automation-concierge/internal/github"
)

type ActionType string

const (
	ActionConsole       ActionType = "console"
	ActionSlack         ActionType = "slack"
	ActionGitHubComment ActionType = "github_comment"
	ActionDesktop       ActionType = "desktop"
)

var ActionTypes = []ActionType{ActionConsole, ActionSlack, ActionGitHubComment, ActionDesktop}

const MaxMessageLength = 1000

var idRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// ValidID reports whether id is lowercase alphanumeric with inner hyphens.
func ValidID(id string) bool {
	return idRe.MatchString(id)
}

type Action struct {
	Type    ActionType
	Message string
	OptIn   bool
}

type Trigger struct {
	// Empty matches every event type.
	EventTypes []github.EventType
	Conditions []Condition
}

type Rule struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	Trigger     Trigger
	Action      Action
}

// IsThresholdRule reports whether the rule has a time-based condition and
// so should fire at most once per entity.
func (r *Rule) IsThresholdRule() bool {
	return r.ThresholdKey() != ""
}

// ThresholdKey identifies the threshold a rule crosses: the time_since
// threshold, or since:<field> for no_activity. The first time-based
// condition wins. Rules without one return "".
func (r *Rule) ThresholdKey() string {
	for _, c := range r.Trigger.Conditions {
		switch c := c.(type) {
		case TimeSinceCondition:
			return c.Threshold
		case NoActivityCondition:
			return "since:" + string(c.Since)
		}
	}
	return ""
}

// NeedsEntity reports whether evaluation depends on issue or PR detail
// that a notification does not carry.
func (r *Rule) NeedsEntity() bool {
	for _, c := range r.Trigger.Conditions {
		switch c := c.(type) {
		case LabelCondition, NoActivityCondition:
			return true
		case TimeSinceCondition:
			if c.Field == FieldCreatedAt {
				return true
			}
		}
	}
	return false
}
