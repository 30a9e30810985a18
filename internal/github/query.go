package github

import (
	"net/url"
	"strconv"
	"time"
)

type NotificationOptions struct {
	All           bool // include read notifications
	Participating bool // only threads the user participates in
	MaxPages      int
}

func notificationParams(since, before time.Time, opts NotificationOptions) url.Values {
	params := url.Values{}
	params.Set("all", strconv.FormatBool(opts.All))
	params.Set("participating", strconv.FormatBool(opts.Participating))
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !before.IsZero() {
		params.Set("before", before.UTC().Format(time.RFC3339))
	}
	return params
}

// Notifications pages through /notifications updated after since and,
// when set, before before.
func (c *Client) Notifications(since, before time.Time, opts NotificationOptions) *Pager[Notification] {
	return Paginate[Notification](c, "/notifications", notificationParams(since, before, opts), opts.MaxPages)
}
