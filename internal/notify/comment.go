package notify

import (
	"context"
	"encoding/json"
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

const commentInterval = time.Hour

var commentPolicy = retryPolicy{
	delays: []time.Duration{2 * time.Second},
	want:   http.StatusCreated,
	permanent: []int{
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusUnprocessableEntity,
	},
}

// Comment posts an issue comment. It only runs for rules with opt_in set.
type Comment struct {
	token   string
	baseURL string
	doer    github.Doer
	sleeper clock.Sleeper
	limiter *KeyedInterval
	logger  *slog.Logger
}

type CommentOption func(*Comment)

func WithCommentBaseURL(u string) CommentOption {
	return func(c *Comment) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithCommentHTTPClient(d github.Doer) CommentOption {
	return func(c *Comment) { c.doer = d }
}

func WithCommentSleeper(s clock.Sleeper) CommentOption {
	return func(c *Comment) { c.sleeper = s }
}

func WithCommentLogger(l *slog.Logger) CommentOption {
	return func(c *Comment) { c.logger = l }
}

func NewComment(token string, clk clock.Clock, opts ...CommentOption) *Comment {
	c := &Comment{
		token:   token,
		baseURL: github.DefaultBaseURL,
		doer:    &http.Client{Timeout: 10 * time.Second},
		sleeper: clock.System{},
		limiter: NewKeyedInterval(clk, commentInterval),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Comment) Type() rules.ActionType {
	return rules.ActionGitHubComment
}

func (c *Comment) Execute(ctx context.Context, m rules.Match, message string) Result {
	if !m.Rule.Action.OptIn {
		c.logger.Error("github comment blocked", "rule", m.Rule.ID, "reason", "opt_in not set")
		return skipped(rules.ActionGitHubComment, "GitHub comment action requires 'opt_in: true' in action config")
	}
	ev := m.Event
	if ev.EntityNumber <= 0 {
		return skipped(rules.ActionGitHubComment, "Event has no entity number for commenting")
	}
	if message == "" {
		return skipped(rules.ActionGitHubComment, "Comment body is empty")
	}

	key := ev.EntityID()
	if wait := c.limiter.Wait(key); wait > 0 {
		c.logger.Warn("github comment rate limited", "issue", key, "wait", wait)
		return skipped(rules.ActionGitHubComment, fmt.Sprintf("Rate limited for %s. Wait %.0fs", key, wait.Seconds()))
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, ev.RepoOwner, ev.RepoName, ev.EntityNumber)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")

	out := postJSON(ctx, c.doer, c.sleeper, c.logger, url, header, map[string]string{"body": message}, commentPolicy)
	details := map[string]any{"attempts": out.attempts}
	if out.err != nil {
		details["status_code"] = out.status
		c.logger.Error("github comment failed", "issue", key, "attempts", out.attempts, "error", out.err)
		return failure(rules.ActionGitHubComment, out.err.Error(), details)
	}

	c.limiter.Record(key)

	var created github.Comment
	if err := json.Unmarshal(out.body, &created); err == nil {
		details["comment_id"] = created.ID
		details["comment_url"] = created.HTMLURL
	}
	return success(rules.ActionGitHubComment, "GitHub comment posted", details)
}
