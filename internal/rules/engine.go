package rules

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/logging"
)

// ThresholdChecker reports whether a threshold rule already fired for an
// entity. *db.Database satisfies it.
type ThresholdChecker interface {
	HasThresholdFired(entityID, ruleID, threshold string) (bool, error)
}

type Match struct {
	Event  *github.Event
	Rule   *Rule
	Reason string
}

// Evaluation records the outcome for one rule, matched or not.
type Evaluation struct {
	RuleID  string
	Matched bool
	Reason  string
}

type MatchResult struct {
	Event          *github.Event
	Matches        []Match
	Evaluations    []Evaluation
	RulesEvaluated int
}

func (r *MatchResult) HasMatches() bool {
	return len(r.Matches) > 0
}

type Engine struct {
	rules      []*Rule
	clock      clock.Clock
	thresholds ThresholdChecker
	logger     *slog.Logger
}

type Option func(*Engine)

func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

func WithThresholdChecker(tc ThresholdChecker) Option {
	return func(e *Engine) { e.thresholds = tc }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine keeps only enabled rules, in their configured order.
func NewEngine(rules []*Rule, opts ...Option) *Engine {
	e := &Engine{
		clock:  clock.System{},
		logger: logging.Discard(),
	}
	for _, r := range rules {
		if r.Enabled {
			e.rules = append(e.rules, r)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Rules() []*Rule {
	return e.rules
}

// NeedsEntity reports whether any rule needs issue or PR detail.
func (e *Engine) NeedsEntity() bool {
	for _, r := range e.rules {
		if r.NeedsEntity() {
			return true
		}
	}
	return false
}

// Evaluate runs every rule against ev. Only a failing threshold lookup is
// returned as an error; a condition that cannot be evaluated just fails
// to match.
func (e *Engine) Evaluate(ev *github.Event) (*MatchResult, error) {
	result := &MatchResult{Event: ev}
	now := e.clock.Now()

	for _, rule := range e.rules {
		result.RulesEvaluated++

		matched, reason := e.evaluateRule(rule, ev, now)
		if matched && rule.IsThresholdRule() && e.thresholds != nil {
			key := rule.ThresholdKey()
			fired, err := e.thresholds.HasThresholdFired(ev.EntityID(), rule.ID, key)
			if err != nil {
				return nil, fmt.Errorf("checking threshold for rule %s: %w", rule.ID, err)
			}
			if fired {
				e.logger.Debug("threshold already fired",
					"entity", ev.EntityID(), "rule", rule.ID, "threshold", key)
				matched = false
				reason = fmt.Sprintf("Threshold %s already fired for %s", key, ev.EntityID())
			}
		}

		result.Evaluations = append(result.Evaluations, Evaluation{
			RuleID:  rule.ID,
			Matched: matched,
			Reason:  reason,
		})
		if !matched {
			e.logger.Debug("rule did not match", "rule", rule.ID, "event", ev.ID, "reason", reason)
			continue
		}
		e.logger.Debug("rule matched", "rule", rule.ID, "event", ev.ID, "reason", reason)
		result.Matches = append(result.Matches, Match{Event: ev, Rule: rule, Reason: reason})
	}

	return result, nil
}

func (e *Engine) evaluateRule(rule *Rule, ev *github.Event, now time.Time) (bool, string) {
	ok, reason := matchEventType(ev, rule.Trigger.EventTypes)
	if !ok {
		return false, reason
	}
	reasons := []string{reason}

	for _, c := range rule.Trigger.Conditions {
		ok, reason, err := matchCondition(c, ev, now)
		if err != nil {
			e.logger.Warn("error evaluating condition", "rule", rule.ID, "error", err)
			return false, "Condition evaluation error: " + err.Error()
		}
		if !ok {
			return false, "Condition failed: " + reason
		}
		reasons = append(reasons, reason)
	}

	return true, strings.Join(reasons, "; ")
}
