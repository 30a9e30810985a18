package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Condition is one of LabelCondition, TimeSinceCondition,
// NoActivityCondition or RepoCondition.
type Condition interface {
	condition()
	Kind() string
}

type LabelMode string

const (
	LabelPresent LabelMode = "label_present"
	LabelAdded   LabelMode = "label_added"
	LabelRemoved LabelMode = "label_removed"
)

type TimestampField string

const (
	FieldCreatedAt TimestampField = "created_at"
	FieldUpdatedAt TimestampField = "updated_at"
)

type ActivityType string

const (
	ActivityReview  ActivityType = "review"
	ActivityComment ActivityType = "comment"
	ActivityCommit  ActivityType = "commit"
)

// LabelCondition compares labels case-insensitively. There is no label
// history, so label_added means present now and label_removed absent now.
type LabelCondition struct {
	Mode  LabelMode
	Label string
}

type TimeSinceCondition struct {
	Field     TimestampField
	Threshold string
}

type NoActivityCondition struct {
	Activity ActivityType
	Since    TimestampField
}

// RepoCondition matches owner/name exactly, as a glob, or by owner alone
// when the pattern has no slash.
type RepoCondition struct {
	Pattern string
}

func (LabelCondition) condition()      {}
func (TimeSinceCondition) condition()  {}
func (NoActivityCondition) condition() {}
func (RepoCondition) condition()       {}

func (c LabelCondition) Kind() string    { return string(c.Mode) }
func (TimeSinceCondition) Kind() string  { return "time_since" }
func (NoActivityCondition) Kind() string { return "no_activity" }
func (RepoCondition) Kind() string       { return "repo_match" }

var thresholdRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseThreshold parses durations such as "30s", "5m", "48h" or "7d".
func ParseThreshold(s string) (time.Duration, error) {
	m := thresholdRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid threshold %q: expected a number followed by s, m, h or d", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

// ValidateCondition checks the fields of a condition.
func ValidateCondition(c Condition) error {
	switch c := c.(type) {
	case LabelCondition:
		switch c.Mode {
		case LabelPresent, LabelAdded, LabelRemoved:
		default:
			return fmt.Errorf("unknown label condition %q", c.Mode)
		}
		if c.Label == "" {
			return fmt.Errorf("%s: label is required", c.Mode)
		}
	case TimeSinceCondition:
		if err := validateField(c.Field); err != nil {
			return fmt.Errorf("time_since: %w", err)
		}
		if _, err := ParseThreshold(c.Threshold); err != nil {
			return fmt.Errorf("time_since: %w", err)
		}
	case NoActivityCondition:
		switch c.Activity {
		case ActivityReview, ActivityComment, ActivityCommit:
		default:
			return fmt.Errorf("no_activity: unknown activity %q", c.Activity)
		}
		if err := validateField(c.Since); err != nil {
			return fmt.Errorf("no_activity: %w", err)
		}
	case RepoCondition:
		if c.Pattern == "" {
			return fmt.Errorf("repo_match: pattern is required")
		}
	default:
		return fmt.Errorf("unsupported condition %T", c)
	}
	return nil
}

func validateField(f TimestampField) error {
	switch f {
	case FieldCreatedAt, FieldUpdatedAt:
		return nil
	}
	return fmt.Errorf("unknown timestamp field %q", f)
}
