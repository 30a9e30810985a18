package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/logging"
	"github.com/PowerSchill/automation-concierge/internal/metrics"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

// Dispatcher routes a match to the action its rule names.
type Dispatcher struct {
	actions map[rules.ActionType]Action
	dryRun  bool
	clock   clock.Clock
	logger  *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithDryRun(dryRun bool) DispatcherOption {
	return func(d *Dispatcher) { d.dryRun = dryRun }
}

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithAction(a Action) DispatcherOption {
	return func(d *Dispatcher) { d.actions[a.Type()] = a }
}

func NewDispatcher(clk clock.Clock, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		actions: make(map[rules.ActionType]Action),
		clock:   clk,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) DryRun() bool {
	return d.dryRun
}

// Dispatch never panics and never returns an error: every outcome,
// including a panicking action, is reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, m rules.Match) (res Result) {
	actionType := m.Rule.Action.Type

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action panicked", "action", actionType, "rule", m.Rule.ID, "panic", r)
			res = failure(actionType, fmt.Sprintf("Unhandled error: %v", r), nil)
		}
		if res.ExecutedAt.IsZero() {
			res.ExecutedAt = d.clock.Now()
		}
		metrics.ActionsTotal.WithLabelValues(string(actionType), string(res.Status)).Inc()
		d.logResult(m, res)
	}()

	if d.dryRun {
		d.logger.Info("dry run: would execute action",
			"action", actionType, "rule", m.Rule.ID, "event", m.Event.ID)
		return Result{
			ActionType: actionType,
			Status:     StatusDryRun,
			Message:    fmt.Sprintf("Dry run: %s action would be executed", actionType),
			Details:    map[string]any{"rule_id": m.Rule.ID, "event_id": m.Event.ID},
		}
	}

	action, ok := d.actions[actionType]
	if !ok {
		return skipped(actionType, fmt.Sprintf("%s action is not configured", actionType))
	}
	return action.Execute(ctx, m, Expand(m.Rule.Action.Message, m))
}

func (d *Dispatcher) logResult(m rules.Match, res Result) {
	attrs := []any{"action", res.ActionType, "rule", m.Rule.ID, "event", m.Event.ID, "status", res.Status}
	switch res.Status {
	case StatusSuccess:
		d.logger.Info("action succeeded", attrs...)
	case StatusFailure:
		d.logger.Error("action failed", append(attrs, "message", res.Message)...)
	case StatusSkipped:
		d.logger.Warn("action skipped", append(attrs, "message", res.Message)...)
	}
}
