package github

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type resultKind int

const (
	resultOK resultKind = iota
	resultNotModified
	resultPrimaryLimit
	resultSecondaryLimit
	resultAuth
	resultTransient
	resultFatal
)

func (k resultKind) String() string {
	switch k {
	case resultOK:
		return "ok"
	case resultNotModified:
		return "not_modified"
	case resultPrimaryLimit:
		return "primary_rate_limit"
	case resultSecondaryLimit:
		return "secondary_rate_limit"
	case resultAuth:
		return "auth"
	case resultTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// result is the classified outcome of a single attempt.
type result struct {
	kind       resultKind
	status     int
	header     http.Header
	body       []byte
	message    string
	retryAfter time.Duration
	rate       RateLimitInfo
	hasRate    bool
	err        error
}

func (r result) errorKind() ErrorKind {
	switch r.kind {
	case resultPrimaryLimit:
		return KindPrimaryRateLimit
	case resultSecondaryLimit:
		return KindSecondaryRateLimit
	case resultAuth:
		return KindAuthentication
	case resultTransient:
		return KindTransient
	default:
		return KindFatal
	}
}

func (r result) apiError(attempts int) *APIError {
	return &APIError{
		Kind:       r.errorKind(),
		StatusCode: r.status,
		Message:    r.message,
		Attempts:   attempts,
		Err:        r.err,
	}
}

// classify maps one HTTP exchange to a result. netErr is the transport
// error, if any; body is the fully read response body.
func classify(status int, header http.Header, body []byte, netErr error) result {
	if netErr != nil {
		return result{kind: resultTransient, message: netErr.Error(), err: netErr}
	}

	r := result{status: status, header: header, body: body}
	r.rate, r.hasRate = ParseRateLimit(header)
	r.retryAfter = parseRetryAfter(header.Get("Retry-After"))

	switch {
	case status == http.StatusNotModified:
		r.kind = resultNotModified
		return r
	case status >= 200 && status < 300:
		r.kind = resultOK
		return r
	}

	r.message = errorMessage(body)
	lower := strings.ToLower(r.message)

	switch {
	case status == http.StatusUnauthorized:
		r.kind = resultAuth
		if r.message == "" {
			r.message = "authentication failed"
		}
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		secondary := strings.Contains(lower, "secondary rate limit") ||
			strings.Contains(lower, "abuse") ||
			header.Get("Retry-After") != ""
		primary := strings.Contains(lower, "rate limit") || (r.hasRate && r.rate.Remaining == 0)

		switch {
		case secondary:
			r.kind = resultSecondaryLimit
		case primary || status == http.StatusTooManyRequests:
			r.kind = resultPrimaryLimit
		default:
			r.kind = resultFatal
		}
	case status >= 500:
		r.kind = resultTransient
	default:
		r.kind = resultFatal
	}

	if r.message == "" {
		r.message = http.StatusText(status)
	}
	return r
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if len(body) == 0 {
		return ""
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	return payload.Message
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
