package notify

import (
	"context"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/rules"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
	StatusDryRun  Status = "dry_run"
)

type Result struct {
	ActionType rules.ActionType
	Status     Status
	Message    string
	Details    map[string]any
	ExecutedAt time.Time
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Action performs one kind of side effect for a matched rule. message is
// the rule's template after expansion and may be empty.
type Action interface {
	Type() rules.ActionType
	Execute(ctx context.Context, m rules.Match, message string) Result
}

func success(t rules.ActionType, msg string, details map[string]any) Result {
	return Result{ActionType: t, Status: StatusSuccess, Message: msg, Details: details}
}

func failure(t rules.ActionType, msg string, details map[string]any) Result {
	return Result{ActionType: t, Status: StatusFailure, Message: msg, Details: details}
}

func skipped(t rules.ActionType, msg string) Result {
	return Result{ActionType: t, Status: StatusSkipped, Message: msg}
}
