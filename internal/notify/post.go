package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/github"
)

// retryPolicy describes a short bounded retry for outbound posts.
type retryPolicy struct {
	delays    []time.Duration // len(delays)+1 attempts
	want      int
	permanent []int
}

type postOutcome struct {
	status   int
	body     []byte
	attempts int
	err      error
}

// postJSON sends payload until it gets the wanted status, a permanent
// status, or runs out of attempts.
func postJSON(ctx context.Context, doer github.Doer, sleeper clock.Sleeper, logger *slog.Logger,
	url string, header http.Header, payload any, policy retryPolicy) postOutcome {

	data, err := json.Marshal(payload)
	if err != nil {
		return postOutcome{err: fmt.Errorf("encoding payload: %w", err)}
	}

	var out postOutcome
	maxAttempts := len(policy.delays) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out.attempts = attempt + 1

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			out.err = fmt.Errorf("building request: %w", err)
			return out
		}
		for k, v := range header {
			req.Header[k] = v
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := doer.Do(req)
		if err != nil {
			out.status = 0
			out.err = fmt.Errorf("request error: %w", err)
		} else {
			out.body, _ = io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			out.status = resp.StatusCode
			out.err = nil

			if resp.StatusCode == policy.want {
				return out
			}
			out.err = fmt.Errorf("HTTP %d", resp.StatusCode)
			if slices.Contains(policy.permanent, resp.StatusCode) {
				out.err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(out.body), 200))
				return out
			}
		}

		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}
		if attempt < len(policy.delays) {
			delay := policy.delays[attempt]
			logger.Warn("post failed, retrying",
				"attempt", attempt+1, "max_attempts", maxAttempts, "error", out.err, "delay", delay)
			if err := sleeper.Sleep(ctx, delay); err != nil {
				out.err = err
				return out
			}
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
