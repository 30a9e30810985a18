package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/logging"
	"github.com/PowerSchill/automation-concierge/internal/metrics"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultMaxRetries = 4
	DefaultPerPage    = 100

	apiVersion      = "2022-11-28"
	userAgent       = "automation-concierge"
	maxResponseSize = 10 << 20
)

// Doer is the subset of *http.Client the client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	http       Doer
	baseURL    string
	token      string
	clock      clock.Clock
	sleeper    clock.Sleeper
	jitter     func() time.Duration
	threshold  int
	maxRetries int
	tracker    *Tracker
	secondary  *SecondaryLadder
	cache      *EntityCache
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

func WithSleeper(s clock.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

func WithJitter(f func() time.Duration) Option {
	return func(c *Client) { c.jitter = f }
}

func WithPauseThreshold(n int) Option {
	return func(c *Client) { c.threshold = n }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithCache(cache *EntityCache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		token:      token,
		clock:      clock.System{},
		sleeper:    clock.System{},
		jitter:     DefaultJitter,
		threshold:  DefaultPauseThreshold,
		maxRetries: DefaultMaxRetries,
		secondary:  &SecondaryLadder{},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	if c.cache == nil {
		c.cache = NewEntityCache()
	}
	c.tracker = NewTracker(c.clock, c.threshold, c.jitter)
	return c
}

type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	NotModified bool
}

func (c *Client) RateLimit() (RateLimitInfo, bool) {
	return c.tracker.Info()
}

func (c *Client) Cache() *EntityCache {
	return c.cache
}

// Get issues a GET with rate-limit pauses and retries. An absolute URL in
// path is requested as-is and params are ignored.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	target, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}

	var (
		last   result
		waited bool
	)
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// A retry wait already covered the reset; the snapshot that
		// triggered it is stale until the next response.
		if !waited {
			if err := c.pause(ctx); err != nil {
				return nil, err
			}
		}

		res := c.do(ctx, target)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.observe(res)

		var wait time.Duration
		switch res.kind {
		case resultOK, resultNotModified:
			c.secondary.Reset()
			return &Response{
				StatusCode:  res.status,
				Header:      res.header,
				Body:        res.body,
				NotModified: res.kind == resultNotModified,
			}, nil

		case resultAuth, resultFatal:
			return nil, res.apiError(attempt + 1)

		case resultPrimaryLimit:
			var ok bool
			if wait, ok = c.tracker.ResetWait(); !ok {
				wait = res.retryAfter
				if wait == 0 {
					wait = time.Minute
				}
			}

		case resultSecondaryLimit:
			var ok bool
			if wait, ok = c.secondary.Next(); !ok {
				c.logger.Error("secondary rate limit ladder exhausted", "path", path)
				return nil, res.apiError(attempt + 1)
			}

		case resultTransient:
			wait = transientDelay(attempt, res.retryAfter)
		}

		last = res
		if attempt == c.maxRetries-1 {
			break
		}

		c.logger.Warn("retrying github request",
			"path", path,
			"outcome", res.kind.String(),
			"status", res.status,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries,
			"wait", wait.String())
		metrics.RateLimitWaitsTotal.WithLabelValues(res.kind.String()).Inc()

		if err := c.sleeper.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		waited = true
	}

	return nil, last.apiError(c.maxRetries)
}

// GetJSON decodes the body of a successful GET into v. A 304 leaves v untouched.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, v any) error {
	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if resp.NotModified || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// GetEntity fetches issue (or PR-as-issue) detail, memoized in the cache.
func (c *Client) GetEntity(ctx context.Context, owner, repo string, number int) (*Entity, error) {
	return c.getEntity(ctx, owner, repo, number, "issues")
}

// GetPullRequest fetches pull request detail, which carries commit counts.
// It shares cache entries with GetEntity.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*Entity, error) {
	return c.getEntity(ctx, owner, repo, number, "pulls")
}

func (c *Client) getEntity(ctx context.Context, owner, repo string, number int, kind string) (*Entity, error) {
	if e, ok := c.cache.Get(owner, repo, number); ok {
		return e, nil
	}

	path := fmt.Sprintf("/repos/%s/%s/%s/%d", url.PathEscape(owner), url.PathEscape(repo), kind, number)
	resp, err := c.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var e Entity
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &e); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		e.Raw = json.RawMessage(resp.Body)
	}
	c.cache.Put(owner, repo, number, &e)
	return &e, nil
}

func (c *Client) resolve(path string, params url.Values) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return c.checkOrigin(path)
	}
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("building request url: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

// checkOrigin refuses absolute URLs outside the API origin so the token
// is only ever sent to baseURL.
func (c *Client) checkOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing request url: %w", err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return "", &APIError{
			Kind:    KindFatal,
			Message: fmt.Sprintf("refusing request to %s://%s outside %s", u.Scheme, u.Host, c.baseURL),
		}
	}
	return raw, nil
}

func (c *Client) pause(ctx context.Context) error {
	wait := c.tracker.PauseFor()
	if wait <= 0 {
		return nil
	}
	info, _ := c.tracker.Info()
	c.logger.Warn("rate limit low, pausing",
		"remaining", info.Remaining,
		"reset_at", info.ResetAt.Format(time.RFC3339),
		"wait", wait.String())
	metrics.RateLimitWaitsTotal.WithLabelValues("proactive").Inc()
	return c.sleeper.Sleep(ctx, wait)
}

func (c *Client) do(ctx context.Context, target string) result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return result{kind: resultFatal, message: err.Error(), err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.APIRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return classify(0, nil, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return classify(0, nil, nil, fmt.Errorf("reading response body: %w", err))
	}
	return classify(resp.StatusCode, resp.Header, body, nil)
}

func (c *Client) observe(res result) {
	metrics.APIRequestsTotal.WithLabelValues(res.kind.String()).Inc()
	if res.hasRate {
		c.tracker.Update(res.rate)
		metrics.RateLimitRemaining.Set(float64(res.rate.Remaining))
	}
}
