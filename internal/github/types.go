package github

import (
	"encoding/json"
	"time"
)

type Notification struct {
	ID         string       `json:"id"`
	Unread     bool         `json:"unread"`
	Reason     string       `json:"reason"`
	UpdatedAt  time.Time    `json:"updated_at"`
	LastReadAt *time.Time   `json:"last_read_at"`
	Subject    Subject      `json:"subject"`
	Repository GHRepository `json:"repository"`
	URL        string       `json:"url"`
}

type Subject struct {
	Title            string `json:"title"`
	URL              string `json:"url"`
	LatestCommentURL string `json:"latest_comment_url"`
	Type             string `json:"type"` // Issue, PullRequest, Release, ...
}

type GHRepository struct {
	Name     string  `json:"name"`
	FullName string  `json:"full_name"`
	Owner    GHActor `json:"owner"`
	Private  bool    `json:"private"`
}

type GHLabel struct {
	Name string `json:"name"`
}

type GHActor struct {
	Login string `json:"login"`
}

// Entity is an issue or pull request as returned by the issues and pulls
// endpoints. Commits and ReviewComments are only populated by the pulls
// endpoint.
type Entity struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	State          string     `json:"state"`
	HTMLURL        string     `json:"html_url"`
	User           GHActor    `json:"user"`
	Labels         []GHLabel  `json:"labels"`
	Comments       int        `json:"comments"`
	ReviewComments int        `json:"review_comments"`
	Commits        int        `json:"commits"`
	Draft          bool       `json:"draft"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at"`
	PullRequest    *struct {
		URL string `json:"url"`
	} `json:"pull_request"`

	Raw json.RawMessage `json:"-"`
}

func (e *Entity) LabelNames() []string {
	names := make([]string, 0, len(e.Labels))
	for _, l := range e.Labels {
		names = append(names, l.Name)
	}
	return names
}

type Comment struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
}
