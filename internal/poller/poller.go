package poller

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/db"
	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/logging"
	"github.com/PowerSchill/automation-concierge/internal/metrics"
	"github.com/PowerSchill/automation-concierge/internal/notify"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

const (
	DefaultPollInterval  = 60 * time.Second
	DefaultLookback      = time.Hour
	// DefaultActionTimeout bounds an action that keeps running after
	// shutdown was requested.
	DefaultActionTimeout = 2 * time.Minute
	cleanupInterval      = 24 * time.Hour
)

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	RunID           string
	StartedAt       time.Time
	Duration        time.Duration
	EventsSeen      int
	EventsProcessed int
	ActionsExecuted int
	Errors          int
	Since           time.Time

	Skipped    bool
	SkipReason string
	// RetryIn is the remaining cycle backoff when Skipped is set.
	RetryIn time.Duration
}

// PartialFailure reports whether the cycle completed with action or event
// errors.
func (r *CycleResult) PartialFailure() bool {
	return r != nil && r.Errors > 0
}

type Poller struct {
	db         *db.Database
	client     *github.Client
	engine     *rules.Engine
	dispatcher *notify.Dispatcher

	clock        clock.Clock
	sleeper      clock.Sleeper
	logger       *slog.Logger
	pollInterval  time.Duration
	lookback      time.Duration
	actionTimeout time.Duration
	jitter        func(interval time.Duration) time.Duration
	notifyOpts    github.NotificationOptions

	lastCleanup time.Time
}

type Option func(*Poller)

func WithClock(clk clock.Clock) Option {
	return func(p *Poller) { p.clock = clk }
}

func WithSleeper(s clock.Sleeper) Option {
	return func(p *Poller) { p.sleeper = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Poller) { p.pollInterval = d }
}

func WithLookback(d time.Duration) Option {
	return func(p *Poller) { p.lookback = d }
}

func WithActionTimeout(d time.Duration) Option {
	return func(p *Poller) { p.actionTimeout = d }
}

// WithJitter replaces the extra delay added to each poll interval.
func WithJitter(f func(interval time.Duration) time.Duration) Option {
	return func(p *Poller) { p.jitter = f }
}

func WithNotificationOptions(o github.NotificationOptions) Option {
	return func(p *Poller) { p.notifyOpts = o }
}

func New(database *db.Database, client *github.Client, engine *rules.Engine, dispatcher *notify.Dispatcher, opts ...Option) *Poller {
	p := &Poller{
		db:            database,
		client:        client,
		engine:        engine,
		dispatcher:    dispatcher,
		clock:         clock.System{},
		sleeper:       clock.System{},
		logger:        logging.Discard(),
		pollInterval:  DefaultPollInterval,
		lookback:      DefaultLookback,
		actionTimeout: DefaultActionTimeout,
		jitter:        intervalJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// intervalJitter is uniform in [0, 10%) of the interval.
func intervalJitter(interval time.Duration) time.Duration {
	n := int64(interval) / 10
	if n <= 0 {
		return 0
	}
	return time.Duration(mathrand.Int63n(n))
}

func (p *Poller) newRunID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0)).String()
}

// Poll runs one cycle unless the persisted cycle backoff says to wait.
func (p *Poller) Poll(ctx context.Context) (*CycleResult, error) {
	backoff, err := p.db.GetBackoffState()
	if err != nil {
		return nil, fmt.Errorf("loading backoff state: %w", err)
	}

	now := p.clock.Now()
	if remaining := BackoffRemaining(backoff, now); remaining > 0 {
		p.logger.Warn("in cycle backoff, skipping poll",
			"failures", backoff.ConsecutiveFailures, "retry_in", remaining.Round(time.Second))
		return &CycleResult{
			StartedAt:  now,
			Skipped:    true,
			SkipReason: fmt.Sprintf("in backoff, retry in %s", remaining.Round(time.Second)),
			RetryIn:    remaining,
		}, nil
	}

	result, cycleErr := p.RunCycle(ctx)

	// An interrupted cycle is not a failed one.
	if ctx.Err() == nil {
		recordCycle(backoff, p.clock.Now(), cycleErr)
		if err := p.db.SaveBackoffState(backoff); err != nil {
			p.logger.Error("saving backoff state", "error", err)
		}
	}

	return result, cycleErr
}

// RunCycle fetches notifications since the checkpoint, evaluates and acts
// on each new event, then advances the checkpoint. Action and per-event
// failures are counted in the result; fetch, checkpoint and
// authentication failures are returned.
func (p *Poller) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := p.clock.Now()
	res := &CycleResult{
		RunID:     p.newRunID(start),
		StartedAt: start,
	}
	log := p.logger.With("run_id", res.RunID)

	p.client.Cache().Clear()

	cycleErr := p.cycle(ctx, log, res)

	res.Duration = p.clock.Now().Sub(start)
	metrics.PollCycleDuration.Observe(res.Duration.Seconds())

	run := &db.PollRun{
		RunID:           res.RunID,
		StartedAt:       start,
		EventsSeen:      res.EventsSeen,
		EventsProcessed: res.EventsProcessed,
		ActionsExecuted: res.ActionsExecuted,
		Errors:          res.Errors,
		DurationMs:      sql.NullInt64{Int64: res.Duration.Milliseconds(), Valid: true},
	}
	if cycleErr != nil {
		run.ErrorMessage = sql.NullString{String: logging.Redact(cycleErr.Error()), Valid: true}
	}
	if err := p.db.LogRun(run); err != nil {
		log.Error("logging poll run", "error", err)
	}

	if cycleErr != nil {
		log.Error("poll cycle failed", "error", cycleErr, "events_processed", res.EventsProcessed)
		return res, cycleErr
	}
	log.Info("poll cycle complete",
		"events_seen", res.EventsSeen,
		"events_processed", res.EventsProcessed,
		"actions_executed", res.ActionsExecuted,
		"errors", res.Errors,
		"duration", res.Duration)
	return res, nil
}

func (p *Poller) cycle(ctx context.Context, log *slog.Logger, res *CycleResult) error {
	cp, err := p.db.GetCheckpoint(db.DefaultCheckpointID)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}

	since := res.StartedAt.Add(-p.lookback)
	if cp.LastEventTimestamp.Valid {
		since = cp.LastEventTimestamp.Time
	}
	res.Since = since

	if len(p.engine.Rules()) == 0 {
		log.Warn("no enabled rules")
	}
	log.Info("starting poll cycle", "since", since, "rules", len(p.engine.Rules()))

	var (
		maxEvent time.Time
		failed   int
	)
	pager := p.client.Notifications(since, time.Time{}, p.notifyOpts)
	for pager.Next(ctx) {
		// Shutdown lands between events, never inside one.
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := github.NormalizeNotification(pager.Item())
		res.EventsSeen++

		processed, err := p.processEvent(ctx, log, &ev, res)
		if err != nil {
			if fatal(err) {
				return err
			}
			res.Errors++
			failed++
			p.recordEventFailure(log, &ev, err)
			continue
		}
		if processed && ev.Timestamp.After(maxEvent) {
			maxEvent = ev.Timestamp
		}
	}
	if err := pager.Err(); err != nil {
		// Pages arrive newest first, so advancing the checkpoint here
		// could skip older events on the pages that were never read.
		return fmt.Errorf("fetching notifications: %w", err)
	}

	if failed > 0 {
		// Failed events stay unprocessed, so the window is read again next
		// cycle. Dedup skips the events and actions that already went through.
		log.Warn("holding checkpoint for failed events", "failed", failed)
		maxEvent = time.Time{}
	}
	cp.Update(maxEvent, p.clock.Now(), p.clock.Now())
	if err := p.db.SaveCheckpoint(cp); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// fatal errors end the cycle instead of failing a single event.
func fatal(err error) bool {
	return github.IsKind(err, github.KindAuthentication) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// recordEventFailure audits a failed event. The event is left unprocessed
// so the next cycle retries it.
func (p *Poller) recordEventFailure(log *slog.Logger, ev *github.Event, cause error) {
	log.Error("event processing failed, will retry", "event", ev.ID, "error", cause)
	metrics.EventsProcessedTotal.WithLabelValues(string(db.DispositionError)).Inc()

	entry := &db.AuditEntry{
		EventID:     ev.ID,
		EventType:   string(ev.Type),
		EventSource: ev.EntityID(),
		Disposition: db.DispositionError,
		Message:     logging.Redact(cause.Error()),
	}
	if _, err := p.db.WriteAuditEntry(entry); err != nil {
		log.Error("auditing failed event", "event", ev.ID, "error", err)
	}
}

// processEvent returns false when the event was already processed. An
// error fails only this event unless it is fatal.
func (p *Poller) processEvent(ctx context.Context, log *slog.Logger, ev *github.Event, res *CycleResult) (bool, error) {
	done, err := p.db.IsProcessed(ev.ID)
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", ev.ID, err)
	}
	if done {
		log.Debug("event already processed", "event", ev.ID)
		return false, nil
	}
	res.EventsProcessed++

	if err := p.enrich(ctx, log, ev); err != nil {
		return false, err
	}

	result, err := p.engine.Evaluate(ev)
	if err != nil {
		return false, fmt.Errorf("evaluating event %s: %w", ev.ID, err)
	}
	log.Info("evaluated event", "event", ev.ID, "type", ev.Type,
		"rules_evaluated", result.RulesEvaluated, "matches", len(result.Matches))

	entry := &db.AuditEntry{
		EventID:     ev.ID,
		EventType:   string(ev.Type),
		EventSource: ev.EntityID(),
		Message:     fmt.Sprintf("Processed %s event from %s", ev.Type, ev.RepoFullName),
	}
	for _, e := range result.Evaluations {
		entry.RulesEvaluated = append(entry.RulesEvaluated, db.RuleEvaluation{
			RuleID:      e.RuleID,
			Matched:     e.Matched,
			MatchReason: e.Reason,
		})
	}

	var failed, succeeded, skippedCount int
	for _, m := range result.Matches {
		already, err := p.db.HasActionExecuted(ev.ID, m.Rule.ID)
		if err != nil {
			return false, fmt.Errorf("checking action for %s/%s: %w", ev.ID, m.Rule.ID, err)
		}
		if already {
			log.Debug("action already executed", "event", ev.ID, "rule", m.Rule.ID)
			skippedCount++
			continue
		}

		out := p.dispatch(ctx, m)
		entry.ActionsTaken = append(entry.ActionsTaken, db.ActionTaken{
			ActionType: string(out.ActionType),
			Result:     string(out.Status),
			RuleID:     m.Rule.ID,
			Message:    out.Message,
		})

		switch out.Status {
		case notify.StatusSuccess:
			succeeded++
			res.ActionsExecuted++
		case notify.StatusFailure:
			failed++
			res.Errors++
		case notify.StatusSkipped:
			skippedCount++
		case notify.StatusDryRun:
			continue
		}

		if err := p.db.RecordAction(ev.ID, m.Rule.ID, string(out.ActionType), resultStatus(out.Status), out.Message); err != nil {
			return false, fmt.Errorf("recording action for %s/%s: %w", ev.ID, m.Rule.ID, err)
		}
		if out.OK() && m.Rule.IsThresholdRule() {
			if err := p.db.RecordThresholdFired(ev.EntityID(), m.Rule.ID, m.Rule.ThresholdKey()); err != nil {
				return false, fmt.Errorf("recording threshold for %s/%s: %w", ev.EntityID(), m.Rule.ID, err)
			}
		}
	}

	switch {
	case !result.HasMatches():
		entry.Disposition = db.DispositionNoMatch
	case p.dispatcher.DryRun():
		entry.Disposition = db.DispositionDryRun
	case failed > 0:
		entry.Disposition = db.DispositionError
	case succeeded == 0 && skippedCount > 0:
		entry.Disposition = db.DispositionSkipped
	default:
		entry.Disposition = db.DispositionActionExecuted
	}
	metrics.EventsProcessedTotal.WithLabelValues(string(entry.Disposition)).Inc()

	if err := p.db.MarkProcessed(ev.ID, string(ev.Type), entry.Disposition); err != nil {
		return false, fmt.Errorf("marking event %s processed: %w", ev.ID, err)
	}
	if _, err := p.db.WriteAuditEntry(entry); err != nil {
		return false, fmt.Errorf("writing audit entry for %s: %w", ev.ID, err)
	}
	return true, nil
}

// dispatch runs the action detached from shutdown so an event in flight
// finishes its sends. actionTimeout still bounds it.
func (p *Poller) dispatch(ctx context.Context, m rules.Match) notify.Result {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.actionTimeout)
	defer cancel()
	return p.dispatcher.Dispatch(actx, m)
}

// enrich fetches entity detail when some rule needs it. Failures other
// than lost authentication leave the event unenriched.
func (p *Poller) enrich(ctx context.Context, log *slog.Logger, ev *github.Event) error {
	if !p.engine.NeedsEntity() || ev.EntityNumber <= 0 {
		return nil
	}

	var (
		ent *github.Entity
		err error
	)
	if ev.IsPullRequest() {
		ent, err = p.client.GetPullRequest(ctx, ev.RepoOwner, ev.RepoName, ev.EntityNumber)
	} else {
		ent, err = p.client.GetEntity(ctx, ev.RepoOwner, ev.RepoName, ev.EntityNumber)
	}
	if err != nil {
		if fatal(err) {
			return fmt.Errorf("enriching %s: %w", ev.EntityID(), err)
		}
		log.Warn("entity enrichment failed", "entity", ev.EntityID(), "error", err)
		return nil
	}
	ev.Enrich(ent)
	return nil
}

func resultStatus(s notify.Status) db.ResultStatus {
	switch s {
	case notify.StatusSuccess:
		return db.ResultSuccess
	case notify.StatusFailure:
		return db.ResultFailed
	case notify.StatusSkipped:
		return db.ResultSkipped
	}
	return db.ResultPending
}

// Cleanup removes expired processed-event records.
func (p *Poller) Cleanup() (int64, error) {
	n, err := p.db.CleanupExpired()
	if err != nil {
		return 0, fmt.Errorf("cleaning up expired events: %w", err)
	}
	p.lastCleanup = p.clock.Now()
	if n > 0 {
		p.logger.Info("removed expired events", "count", n)
	}
	return n, nil
}

// Run validates the token and polls until ctx is done. Cycle failures are
// logged and retried under the cycle backoff; lost authentication ends
// the loop.
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.client.ValidateToken(ctx); err != nil {
		return fmt.Errorf("validating token: %w", err)
	}

	if _, err := p.Cleanup(); err != nil {
		p.logger.Error("startup cleanup failed", "error", err)
	}

	for cycles := 1; ; cycles++ {
		res, err := p.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if github.IsKind(err, github.KindAuthentication) {
				return err
			}
			p.logger.Error("poll failed", "cycle", cycles, "error", err)
		}

		if p.clock.Now().Sub(p.lastCleanup) >= cleanupInterval {
			if _, err := p.Cleanup(); err != nil {
				p.logger.Error("cleanup failed", "error", err)
			}
		}

		wait := p.nextWait(res, err)
		p.logger.Debug("sleeping until next cycle", "wait", wait)
		if err := p.sleeper.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (p *Poller) nextWait(res *CycleResult, cycleErr error) time.Duration {
	wait := p.pollInterval + p.jitter(p.pollInterval)

	var backoff time.Duration
	switch {
	case res != nil && res.Skipped:
		backoff = res.RetryIn
	case cycleErr != nil:
		if state, err := p.db.GetBackoffState(); err == nil {
			backoff = BackoffRemaining(state, p.clock.Now())
		}
	}
	if backoff > wait {
		return backoff
	}
	return wait
}
