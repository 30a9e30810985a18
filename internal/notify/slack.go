package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/logging"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

const (
	slackRateLimit  = 10
	slackRateWindow = time.Minute
)

var slackPolicy = retryPolicy{
	delays:    []time.Duration{1 * time.Second, 2 * time.Second},
	want:      http.StatusOK,
	permanent: []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
}

var slackColors = map[github.EventType]string{
	github.EventMention:         "#36a64f",
	github.EventReviewRequested: "#2eb886",
	github.EventAssign:          "#3aa3e3",
	github.EventSecurityAlert:   "#dc3545",
	github.EventCIStatus:        "#ffc107",
}

const slackDefaultColor = "#439fe0"

type Slack struct {
	webhookURL string
	doer       github.Doer
	clock      clock.Clock
	sleeper    clock.Sleeper
	limiter    *SlidingWindow
	logger     *slog.Logger
}

type SlackOption func(*Slack)

func WithSlackHTTPClient(d github.Doer) SlackOption {
	return func(s *Slack) { s.doer = d }
}

func WithSlackSleeper(sl clock.Sleeper) SlackOption {
	return func(s *Slack) { s.sleeper = sl }
}

func WithSlackLogger(l *slog.Logger) SlackOption {
	return func(s *Slack) { s.logger = l }
}

func NewSlack(webhookURL string, clk clock.Clock, opts ...SlackOption) *Slack {
	s := &Slack{
		webhookURL: webhookURL,
		doer:       &http.Client{Timeout: 10 * time.Second},
		clock:      clk,
		sleeper:    clock.System{},
		limiter:    NewSlidingWindow(clk, slackRateLimit, slackRateWindow),
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Slack) Type() rules.ActionType {
	return rules.ActionSlack
}

func (s *Slack) Execute(ctx context.Context, m rules.Match, message string) Result {
	if !s.limiter.Allow() {
		wait := s.limiter.Wait()
		s.logger.Warn("slack rate limit exceeded", "wait", wait)
		return skipped(rules.ActionSlack, fmt.Sprintf("Rate limited. Wait %.1fs", wait.Seconds()))
	}

	if message == "" {
		message = defaultSlackText(m)
	}
	out := postJSON(ctx, s.doer, s.sleeper, s.logger, s.webhookURL, nil, s.payload(m, message), slackPolicy)
	details := map[string]any{"attempts": out.attempts}
	if out.err != nil {
		details["status_code"] = out.status
		s.logger.Error("slack send failed", "attempts", out.attempts, "error", out.err)
		return failure(rules.ActionSlack, out.err.Error(), details)
	}
	return success(rules.ActionSlack, "Slack notification sent", details)
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text"`
	Footer    string       `json:"footer"`
	Ts        int64        `json:"ts"`
	Fields    []slackField `json:"fields,omitempty"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) payload(m rules.Match, text string) slackPayload {
	ev := m.Event

	color, ok := slackColors[ev.Type]
	if !ok {
		color = slackDefaultColor
	}
	att := slackAttachment{
		Color:  color,
		Title:  ev.RepoFullName,
		Text:   text,
		Footer: "Rule: " + m.Rule.ID,
		Ts:     s.clock.Now().Unix(),
	}
	if ev.EntityURL != "" {
		switch {
		case ev.EntityNumber > 0 && ev.EntityTitle != "":
			att.Title = fmt.Sprintf("%s#%d: %s", ev.RepoFullName, ev.EntityNumber, ev.EntityTitle)
		case ev.EntityNumber > 0:
			att.Title = fmt.Sprintf("%s#%d", ev.RepoFullName, ev.EntityNumber)
		}
		att.TitleLink = ev.EntityURL
	}
	if ev.Type != "" {
		att.Fields = append(att.Fields, slackField{Title: "Event Type", Value: string(ev.Type), Short: true})
	}
	if ev.Actor != "" {
		att.Fields = append(att.Fields, slackField{Title: "Actor", Value: ev.Actor, Short: true})
	}
	return slackPayload{Attachments: []slackAttachment{att}}
}

func defaultSlackText(m rules.Match) string {
	var b strings.Builder
	b.WriteString("*" + strings.ToUpper(string(m.Event.Type)) + "*")
	if m.Event.EntityTitle != "" {
		b.WriteString(": " + m.Event.EntityTitle)
	}
	b.WriteString("\n_" + m.Reason + "_")
	return b.String()
}
