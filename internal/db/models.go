package db

import (
	"database/sql"
	"time"
)

// Disposition is the final outcome recorded for a processed event.
type Disposition string

const (
	DispositionActionExecuted Disposition = "action_executed"
	DispositionNoMatch        Disposition = "no_match"
	DispositionDryRun         Disposition = "dry_run"
	DispositionError          Disposition = "error"
	DispositionSkipped        Disposition = "skipped"
)

// ResultStatus is the outcome of a single action execution.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
	ResultPending ResultStatus = "pending"
)

// DefaultCheckpointID is the checkpoint used by the notification source.
const DefaultCheckpointID = "main"

type Checkpoint struct {
	ID                 string
	LastEventTimestamp sql.NullTime
	LastPollTimestamp  sql.NullTime
	UpdatedAt          sql.NullTime
}

// Update advances the checkpoint. The event timestamp never moves backwards.
// Zero times leave the corresponding field untouched.
func (c *Checkpoint) Update(eventTime, pollTime, now time.Time) {
	if !eventTime.IsZero() && (!c.LastEventTimestamp.Valid || eventTime.After(c.LastEventTimestamp.Time)) {
		c.LastEventTimestamp = sql.NullTime{Time: eventTime.UTC(), Valid: true}
	}
	if !pollTime.IsZero() {
		c.LastPollTimestamp = sql.NullTime{Time: pollTime.UTC(), Valid: true}
	}
	c.UpdatedAt = sql.NullTime{Time: now.UTC(), Valid: true}
}

type ProcessedEvent struct {
	EventID      string
	EventType    string
	Disposition  Disposition
	ProcessedAt  time.Time
	TTLExpiresAt time.Time
}

type ActionRecord struct {
	ID         int64
	EventID    string
	RuleID     string
	ActionType string
	Result     ResultStatus
	Message    sql.NullString
	ExecutedAt time.Time
}

type ThresholdFired struct {
	EntityID  string
	RuleID    string
	Threshold string
	FiredAt   time.Time
}

type RuleEvaluation struct {
	RuleID      string `json:"rule_id"`
	Matched     bool   `json:"matched"`
	MatchReason string `json:"match_reason,omitempty"`
}

type ActionTaken struct {
	ActionType string `json:"action_type"`
	Result     string `json:"result"`
	RuleID     string `json:"rule_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

type AuditEntry struct {
	ID             int64            `json:"id"`
	Timestamp      time.Time        `json:"timestamp"`
	EventID        string           `json:"event_id,omitempty"`
	EventType      string           `json:"event_type,omitempty"`
	EventSource    string           `json:"event_source,omitempty"`
	RulesEvaluated []RuleEvaluation `json:"rules_evaluated"`
	ActionsTaken   []ActionTaken    `json:"actions_taken"`
	Disposition    Disposition      `json:"disposition"`
	Message        string           `json:"message"`
}

type AuditQuery struct {
	Since  time.Time
	Until  time.Time
	RuleID string
	Limit  int
}

type PollRun struct {
	ID              int64
	RunID           string
	StartedAt       time.Time
	EventsSeen      int
	EventsProcessed int
	ActionsExecuted int
	Errors          int
	ErrorMessage    sql.NullString
	DurationMs      sql.NullInt64
}

type BackoffState struct {
	ConsecutiveFailures int
	LastFailureTime     sql.NullTime
}

type Stats struct {
	SchemaVersion   int
	ProcessedEvents int
	Actions         int
	Thresholds      int
	AuditEntries    int
	PollRuns        int
}
