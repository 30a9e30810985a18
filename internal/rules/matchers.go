package rules

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/github"
)

func matchEventType(e *github.Event, types []github.EventType) (bool, string) {
	if len(types) == 0 {
		return true, "No event type filter specified (matches all)"
	}
	if slices.Contains(types, e.Type) {
		return true, fmt.Sprintf("Event type '%s' matches trigger", e.Type)
	}
	return false, fmt.Sprintf("Event type '%s' not in %v", e.Type, types)
}

func matchCondition(c Condition, e *github.Event, now time.Time) (bool, string, error) {
	switch c := c.(type) {
	case LabelCondition:
		return matchLabel(c, e)
	case TimeSinceCondition:
		return matchTimeSince(c, e, now)
	case NoActivityCondition:
		ok, reason := matchNoActivity(c, e, now)
		return ok, reason, nil
	case RepoCondition:
		ok, reason := matchRepo(c, e)
		return ok, reason, nil
	default:
		return false, "", fmt.Errorf("unsupported condition %T", c)
	}
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func matchLabel(c LabelCondition, e *github.Event) (bool, string, error) {
	present := hasLabel(e.Labels, c.Label)
	switch c.Mode {
	case LabelPresent:
		if present {
			return true, fmt.Sprintf("Label '%s' is present", c.Label), nil
		}
		return false, fmt.Sprintf("Label '%s' is not present", c.Label), nil
	case LabelAdded:
		if present {
			return true, fmt.Sprintf("Label '%s' added (present in current labels)", c.Label), nil
		}
		return false, fmt.Sprintf("Label '%s' not added (not in current labels)", c.Label), nil
	case LabelRemoved:
		if !present {
			return true, fmt.Sprintf("Label '%s' is absent (removed)", c.Label), nil
		}
		return false, fmt.Sprintf("Label '%s' is still present", c.Label), nil
	}
	return false, "", fmt.Errorf("unknown label condition %q", c.Mode)
}

// eventTime falls back to the notification timestamp when the entity
// detail was not fetched.
func eventTime(e *github.Event, field TimestampField) (time.Time, bool) {
	var t time.Time
	switch field {
	case FieldCreatedAt:
		t = e.CreatedAt
	case FieldUpdatedAt:
		t = e.UpdatedAt
	default:
		return time.Time{}, false
	}
	if t.IsZero() {
		t = e.Timestamp
	}
	return t, !t.IsZero()
}

func matchTimeSince(c TimeSinceCondition, e *github.Event, now time.Time) (bool, string, error) {
	threshold, err := ParseThreshold(c.Threshold)
	if err != nil {
		return false, "", err
	}
	ts, ok := eventTime(e, c.Field)
	if !ok {
		return false, fmt.Sprintf("Event does not have timestamp field '%s'", c.Field), nil
	}

	elapsed := now.Sub(ts)
	if elapsed >= threshold {
		return true, fmt.Sprintf("Time since %s (%s) >= threshold (%s)",
			c.Field, formatDuration(elapsed), c.Threshold), nil
	}
	return false, fmt.Sprintf("Time since %s (%s) < threshold (%s); %s remaining",
		c.Field, formatDuration(elapsed), c.Threshold, formatDuration(threshold-elapsed)), nil
}

func matchNoActivity(c NoActivityCondition, e *github.Event, now time.Time) (bool, string) {
	base, ok := eventTime(e, c.Since)
	if !ok {
		return false, fmt.Sprintf("Event does not have timestamp field '%s'", c.Since)
	}

	if active, info := hasActivity(e, c.Activity); active {
		return false, "Activity detected: " + info
	}
	return true, fmt.Sprintf("No %s activity detected since %s (%s ago)",
		c.Activity, c.Since, formatDuration(now.Sub(base)))
}

func hasActivity(e *github.Event, activity ActivityType) (bool, string) {
	switch activity {
	case ActivityReview:
		// Without the reviews endpoint, any update after creation on a PR
		// counts as possible review activity.
		if e.IsPullRequest() && !e.CreatedAt.IsZero() && !e.UpdatedAt.IsZero() && !e.CreatedAt.Equal(e.UpdatedAt) {
			return true, "Entity has been updated (possible review activity)"
		}
		return false, "No review activity detected"
	case ActivityComment:
		if e.Comments > 0 {
			return true, fmt.Sprintf("%d comment(s) exist", e.Comments)
		}
		return false, "No comments detected"
	case ActivityCommit:
		if e.Commits > 0 {
			return true, fmt.Sprintf("%d commit(s) exist", e.Commits)
		}
		return false, "No commits detected"
	}
	return false, fmt.Sprintf("Unknown activity type: %s", activity)
}

func matchRepo(c RepoCondition, e *github.Event) (bool, string) {
	pattern := c.Pattern
	if strings.ContainsAny(pattern, "*?[") {
		if ok, err := path.Match(pattern, e.RepoFullName); err == nil && ok {
			return true, fmt.Sprintf("Repository '%s' matches pattern '%s'", e.RepoFullName, pattern)
		}
		return false, fmt.Sprintf("Repository '%s' doesn't match pattern '%s'", e.RepoFullName, pattern)
	}
	if e.RepoFullName == pattern {
		return true, fmt.Sprintf("Repository matches '%s'", pattern)
	}
	if !strings.Contains(pattern, "/") && e.RepoOwner == pattern {
		return true, fmt.Sprintf("Repository owner matches '%s'", pattern)
	}
	return false, fmt.Sprintf("Repository '%s' doesn't match '%s'", e.RepoFullName, pattern)
}

func formatDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return fmt.Sprintf("%.0fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	case s < 86400:
		return fmt.Sprintf("%.1fh", s/3600)
	default:
		return fmt.Sprintf("%.1fd", s/86400)
	}
}
