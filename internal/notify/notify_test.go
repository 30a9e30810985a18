package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func testMatch(actionType rules.ActionType, message string) rules.Match {
	return rules.Match{
		Event: &github.Event{
			ID:           "notif_42_1767960000",
			Type:         github.EventReviewRequested,
			RepoOwner:    "acme",
			RepoName:     "widgets",
			RepoFullName: "acme/widgets",
			EntityNumber: 7,
			EntityTitle:  "Add retry ladder",
			EntityURL:    "https://github.com/acme/widgets/pull/7",
			Actor:        "octocat",
		},
		Rule: &rules.Rule{
			ID:     "review-queue",
			Name:   "Review queue",
			Action: rules.Action{Type: actionType, Message: message},
		},
		Reason: "Event type 'review_requested' matches trigger",
	}
}

func TestExpand(t *testing.T) {
	m := testMatch(rules.ActionConsole, "")

	got := Expand("{{ rule.name }}: {{event.repo}}#{{ event.entity_number }} {{event.entity_title}} ({{ match.reason }}) {{ unknown.var }}", m)
	assert.Equal(t, "Review queue: acme/widgets#7 Add retry ladder (Event type 'review_requested' matches trigger) {{ unknown.var }}", got)

	m.Rule.Name = ""
	m.Event.EntityNumber = 0
	assert.Equal(t, "review-queue #", Expand("{{rule.name}} #{{event.entity_number}}", m))
	assert.Equal(t, "no placeholders", Expand("no placeholders", m))
	assert.Equal(t, "review_requested notif_42_1767960000 https://github.com/acme/widgets/pull/7",
		Expand("{{ event.type }} {{ event.id }} {{ event.entity_url }}", m))
}

type panicAction struct{}

func (panicAction) Type() rules.ActionType { return rules.ActionConsole }
func (panicAction) Execute(context.Context, rules.Match, string) Result {
	panic("boom")
}

type recordingAction struct {
	messages []string
}

func (r *recordingAction) Type() rules.ActionType { return rules.ActionDesktop }
func (r *recordingAction) Execute(_ context.Context, _ rules.Match, message string) Result {
	r.messages = append(r.messages, message)
	return success(rules.ActionDesktop, "ok", nil)
}

func TestDispatcher(t *testing.T) {
	clk := clock.NewFake(testNow)
	ctx := context.Background()

	t.Run("dry run has no side effects", func(t *testing.T) {
		rec := &recordingAction{}
		d := NewDispatcher(clk, WithDryRun(true), WithAction(rec))
		res := d.Dispatch(ctx, testMatch(rules.ActionDesktop, "hi"))
		assert.Equal(t, StatusDryRun, res.Status)
		assert.Equal(t, "review-queue", res.Details["rule_id"])
		assert.Empty(t, rec.messages)
		assert.True(t, d.DryRun())
	})

	t.Run("expands the template before executing", func(t *testing.T) {
		rec := &recordingAction{}
		d := NewDispatcher(clk, WithAction(rec))
		res := d.Dispatch(ctx, testMatch(rules.ActionDesktop, "PR {{ event.entity_number }} needs you"))
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Equal(t, testNow, res.ExecutedAt)
		assert.Equal(t, []string{"PR 7 needs you"}, rec.messages)
	})

	t.Run("unconfigured action is skipped", func(t *testing.T) {
		d := NewDispatcher(clk)
		res := d.Dispatch(ctx, testMatch(rules.ActionSlack, ""))
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Contains(t, res.Message, "not configured")
	})

	t.Run("panic becomes failure", func(t *testing.T) {
		d := NewDispatcher(clk, WithAction(panicAction{}))
		res := d.Dispatch(ctx, testMatch(rules.ActionConsole, ""))
		assert.Equal(t, StatusFailure, res.Status)
		assert.Contains(t, res.Message, "boom")
	})
}

func TestConsole(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	c := NewConsole(&buf, clock.NewFake(testNow), true)

	res := c.Execute(context.Background(), testMatch(rules.ActionConsole, ""), "")
	require.Equal(t, StatusSuccess, res.Status)

	out := buf.String()
	assert.Contains(t, out, "[2026-01-10T12:00:00Z] [review-queue] REVIEW_REQUESTED")
	assert.Contains(t, out, "acme/widgets#7: Add retry ladder")
	assert.Contains(t, out, "https://github.com/acme/widgets/pull/7")
	assert.Contains(t, out, "Reason: Event type 'review_requested' matches trigger")
	assert.NotContains(t, out, "\033[", "NO_COLOR must disable escapes")

	buf.Reset()
	c.Execute(context.Background(), testMatch(rules.ActionConsole, ""), "custom text")
	assert.Contains(t, buf.String(), "custom text")
	assert.NotContains(t, buf.String(), "Reason:")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestConsole_WriteFailure(t *testing.T) {
	c := NewConsole(failingWriter{}, clock.NewFake(testNow), false)
	res := c.Execute(context.Background(), testMatch(rules.ActionConsole, ""), "")
	assert.Equal(t, StatusFailure, res.Status)
}

func TestDesktop(t *testing.T) {
	var gotTitle, gotBody string
	played := false
	d := &Desktop{
		sound: true,
		notify: func(_ context.Context, title, body string) error {
			gotTitle, gotBody = title, body
			return nil
		},
		play: func(context.Context) { played = true },
	}

	res := d.Execute(context.Background(), testMatch(rules.ActionDesktop, ""), "")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "[review-queue] acme/widgets#7", gotTitle)
	assert.Equal(t, "Add retry ladder", gotBody)
	assert.True(t, played)

	d.notify = func(context.Context, string, string) error { return errors.New("no display") }
	res = d.Execute(context.Background(), testMatch(rules.ActionDesktop, ""), "msg")
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "no display", res.Message)
}

func TestSlack_Payload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFake(testNow)
	s := NewSlack(srv.URL, clk, WithSlackSleeper(clk))
	res := s.Execute(context.Background(), testMatch(rules.ActionSlack, ""), "hello")

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	assert.Equal(t, 1, res.Details["attempts"])
	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "#2eb886", att.Color)
	assert.Equal(t, "acme/widgets#7: Add retry ladder", att.Title)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", att.TitleLink)
	assert.Equal(t, "hello", att.Text)
	assert.Equal(t, "Rule: review-queue", att.Footer)
	assert.Equal(t, testNow.Unix(), att.Ts)
	require.Len(t, att.Fields, 2)
	assert.Equal(t, "octocat", att.Fields[1].Value)
}

func TestSlack_Retries(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantStatus   Status
		wantAttempts int
		wantSleeps   []time.Duration
	}{
		{"recovers after two failures", []int{500, 502, 200}, StatusSuccess, 3, []time.Duration{time.Second, 2 * time.Second}},
		{"gives up after three", []int{500, 500, 500}, StatusFailure, 3, []time.Duration{time.Second, 2 * time.Second}},
		{"no retry on 404", []int{404}, StatusFailure, 1, []time.Duration{}},
		{"no retry on 400", []int{400}, StatusFailure, 1, []time.Duration{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := atomic.AddInt32(&calls, 1) - 1
				w.WriteHeader(tt.statuses[i])
			}))
			defer srv.Close()

			clk := clock.NewFake(testNow)
			s := NewSlack(srv.URL, clk, WithSlackSleeper(clk))
			res := s.Execute(context.Background(), testMatch(rules.ActionSlack, ""), "")

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantAttempts, res.Details["attempts"])
			assert.Equal(t, int32(tt.wantAttempts), atomic.LoadInt32(&calls))
			assert.Equal(t, tt.wantSleeps, clk.Sleeps())
		})
	}
}

func TestSlack_RateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	clk := clock.NewFake(testNow)
	s := NewSlack(srv.URL, clk, WithSlackSleeper(clk))
	m := testMatch(rules.ActionSlack, "")

	for i := 0; i < slackRateLimit; i++ {
		res := s.Execute(context.Background(), m, "")
		require.Equal(t, StatusSuccess, res.Status, "post %d", i)
	}
	res := s.Execute(context.Background(), m, "")
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Contains(t, res.Message, "Rate limited")
	assert.Equal(t, int32(slackRateLimit), atomic.LoadInt32(&calls))

	clk.Advance(slackRateWindow + time.Second)
	res = s.Execute(context.Background(), m, "")
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestComment(t *testing.T) {
	type request struct {
		path, auth, body string
	}

	newServer := func(t *testing.T, statuses ...int) (*httptest.Server, *[]request) {
		var reqs []request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			reqs = append(reqs, request{r.URL.Path, r.Header.Get("Authorization"), string(body)})
			status := statuses[len(reqs)-1]
			w.WriteHeader(status)
			if status == http.StatusCreated {
				w.Write([]byte(`{"id":991,"html_url":"https://github.com/acme/widgets/pull/7#issuecomment-991"}`))
			}
		}))
		t.Cleanup(srv.Close)
		return srv, &reqs
	}

	optedIn := func(message string) rules.Match {
		m := testMatch(rules.ActionGitHubComment, message)
		m.Rule.Action.OptIn = true
		return m
	}

	t.Run("requires opt in", func(t *testing.T) {
		srv, reqs := newServer(t)
		clk := clock.NewFake(testNow)
		c := NewComment("tok", clk, WithCommentBaseURL(srv.URL), WithCommentSleeper(clk))
		res := c.Execute(context.Background(), testMatch(rules.ActionGitHubComment, "x"), "x")
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Contains(t, res.Message, "opt_in")
		assert.Empty(t, *reqs)
	})

	t.Run("posts and limits per issue", func(t *testing.T) {
		srv, reqs := newServer(t, http.StatusCreated, http.StatusCreated)
		clk := clock.NewFake(testNow)
		c := NewComment("tok", clk, WithCommentBaseURL(srv.URL), WithCommentSleeper(clk))

		res := c.Execute(context.Background(), optedIn("ping"), "ping")
		require.Equal(t, StatusSuccess, res.Status, res.Message)
		assert.Equal(t, int64(991), res.Details["comment_id"])
		require.Len(t, *reqs, 1)
		assert.Equal(t, "/repos/acme/widgets/issues/7/comments", (*reqs)[0].path)
		assert.Equal(t, "Bearer tok", (*reqs)[0].auth)
		assert.JSONEq(t, `{"body":"ping"}`, (*reqs)[0].body)

		res = c.Execute(context.Background(), optedIn("again"), "again")
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Contains(t, res.Message, "Rate limited for acme/widgets#7")

		clk.Advance(commentInterval)
		res = c.Execute(context.Background(), optedIn("later"), "later")
		assert.Equal(t, StatusSuccess, res.Status)
	})

	t.Run("retries once on server error", func(t *testing.T) {
		srv, reqs := newServer(t, http.StatusBadGateway, http.StatusCreated)
		clk := clock.NewFake(testNow)
		c := NewComment("tok", clk, WithCommentBaseURL(srv.URL), WithCommentSleeper(clk))

		res := c.Execute(context.Background(), optedIn("ping"), "ping")
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Len(t, *reqs, 2)
		assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
	})

	t.Run("no retry on validation failure", func(t *testing.T) {
		srv, reqs := newServer(t, http.StatusUnprocessableEntity)
		clk := clock.NewFake(testNow)
		c := NewComment("tok", clk, WithCommentBaseURL(srv.URL), WithCommentSleeper(clk))

		res := c.Execute(context.Background(), optedIn("ping"), "ping")
		assert.Equal(t, StatusFailure, res.Status)
		assert.Contains(t, res.Message, "HTTP 422")
		assert.Len(t, *reqs, 1)

		// a failed post does not use up the hourly slot
		assert.Zero(t, c.limiter.Wait("acme/widgets#7"))
	})
}

func TestSlidingWindow(t *testing.T) {
	clk := clock.NewFake(testNow)
	w := NewSlidingWindow(clk, 2, time.Minute)

	assert.True(t, w.Allow())
	clk.Advance(10 * time.Second)
	assert.True(t, w.Allow())
	assert.False(t, w.Allow())
	assert.Equal(t, 50*time.Second, w.Wait())

	clk.Advance(50 * time.Second)
	assert.True(t, w.Allow(), "oldest stamp should have left the window")
	assert.False(t, w.Allow())
}
