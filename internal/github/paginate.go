package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

var nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func parseNextLink(header string) string {
	m := nextLinkRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	return m[1]
}

// Pager lazily walks a paginated list endpoint, one page per request.
// Items are decoded into T as pages arrive.
//
//	p := github.Paginate[Notification](c, "/notifications", params, 0)
//	for p.Next(ctx) {
//		n := p.Item()
//	}
//	if err := p.Err(); err != nil { ... }
type Pager[T any] struct {
	client   *Client
	next     string
	params   url.Values
	maxPages int
	pages    int
	buf      []T
	cur      T
	err      error
	done     bool
}

// Paginate starts a fresh cursor over path. maxPages <= 0 means no cap.
func Paginate[T any](c *Client, path string, params url.Values, maxPages int) *Pager[T] {
	first := url.Values{}
	for k, v := range params {
		first[k] = append([]string(nil), v...)
	}
	first.Set("per_page", strconv.Itoa(DefaultPerPage))

	return &Pager[T]{
		client:   c,
		next:     path,
		params:   first,
		maxPages: maxPages,
	}
}

func (p *Pager[T]) Next(ctx context.Context) bool {
	for len(p.buf) == 0 {
		if p.done || p.err != nil {
			return false
		}
		if p.maxPages > 0 && p.pages >= p.maxPages {
			p.done = true
			return false
		}
		p.fetch(ctx)
	}

	p.cur = p.buf[0]
	p.buf = p.buf[1:]
	return true
}

func (p *Pager[T]) Item() T {
	return p.cur
}

func (p *Pager[T]) Err() error {
	return p.err
}

// Pages is the number of pages fetched so far.
func (p *Pager[T]) Pages() int {
	return p.pages
}

func (p *Pager[T]) fetch(ctx context.Context) {
	resp, err := p.client.Get(ctx, p.next, p.params)
	if err != nil {
		p.err = err
		return
	}
	p.pages++

	if resp.NotModified || len(resp.Body) == 0 {
		p.done = true
		return
	}

	var items []T
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		p.err = fmt.Errorf("decoding page %d: %w", p.pages, err)
		return
	}
	p.buf = items

	next := parseNextLink(resp.Header.Get("Link"))
	if next == "" {
		p.done = true
		return
	}
	// the cursor URL carries its own query
	p.next = next
	p.params = nil
}
