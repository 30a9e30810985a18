package github

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventMention         EventType = "mention"
	EventAssign          EventType = "assign"
	EventReviewRequested EventType = "review_requested"
	EventSubscribed      EventType = "subscribed"
	EventComment         EventType = "comment"
	EventStateChange     EventType = "state_change"
	EventCIStatus        EventType = "ci_status"
	EventSecurityAlert   EventType = "security_alert"
	EventGeneric         EventType = "generic"
)

var EventTypes = []EventType{
	EventMention,
	EventAssign,
	EventReviewRequested,
	EventSubscribed,
	EventComment,
	EventStateChange,
	EventCIStatus,
	EventSecurityAlert,
	EventGeneric,
}

func ParseEventType(s string) (EventType, bool) {
	for _, t := range EventTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// EventTypeFromReason maps a notification reason to an event type.
func EventTypeFromReason(reason string) EventType {
	switch reason {
	case "mention", "team_mention":
		return EventMention
	case "assign":
		return EventAssign
	case "review_requested":
		return EventReviewRequested
	case "subscribed":
		return EventSubscribed
	case "comment":
		return EventComment
	case "state_change":
		return EventStateChange
	case "ci_activity":
		return EventCIStatus
	case "security_alert":
		return EventSecurityAlert
	default:
		return EventGeneric
	}
}

const SourceNotification = "notification"

// Event is a notification normalized for rule evaluation.
type Event struct {
	ID           string
	Type         EventType
	Source       string
	Timestamp    time.Time
	Reason       string
	RepoOwner    string
	RepoName     string
	RepoFullName string
	EntityType   string // Issue, PullRequest, ...
	EntityNumber int
	EntityTitle  string
	EntityURL    string

	// Filled by Enrich from issue/PR detail.
	Actor     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
	Comments  int
	Commits   int
	Enriched  bool
}

// NormalizeNotification converts a notification thread into an Event. The
// ID includes the thread's update time so new activity on a thread is a
// new event.
func NormalizeNotification(n Notification) Event {
	e := Event{
		ID:          fmt.Sprintf("notif_%s_%d", n.ID, n.UpdatedAt.Unix()),
		Type:        EventTypeFromReason(n.Reason),
		Source:      SourceNotification,
		Timestamp:   n.UpdatedAt.UTC(),
		Reason:      n.Reason,
		EntityType:  n.Subject.Type,
		EntityTitle: n.Subject.Title,
		UpdatedAt:   n.UpdatedAt.UTC(),
	}
	if n.UpdatedAt.IsZero() {
		e.ID = "notif_" + n.ID
		e.Timestamp = time.Time{}
		e.UpdatedAt = time.Time{}
	}

	e.RepoFullName = n.Repository.FullName
	if e.RepoFullName == "" {
		e.RepoFullName = "unknown/unknown"
	}
	if owner, name, ok := strings.Cut(e.RepoFullName, "/"); ok {
		e.RepoOwner, e.RepoName = owner, name
	} else {
		e.RepoOwner, e.RepoName = "unknown", e.RepoFullName
	}

	if subjectURL := strings.TrimRight(n.Subject.URL, "/"); subjectURL != "" {
		if i := strings.LastIndex(subjectURL, "/"); i >= 0 {
			if num, err := strconv.Atoi(subjectURL[i+1:]); err == nil {
				e.EntityNumber = num
			}
		}
		e.EntityURL = WebURL(n.Subject.URL)
	}

	return e
}

// WebURL turns an API URL for an issue or pull into its browser URL.
func WebURL(apiURL string) string {
	u := strings.Replace(apiURL, "api.github.com/repos", "github.com", 1)
	return strings.Replace(u, "/pulls/", "/pull/", 1)
}

func (e *Event) EntityID() string {
	if e.EntityNumber > 0 {
		return fmt.Sprintf("%s#%d", e.RepoFullName, e.EntityNumber)
	}
	return e.ID
}

func (e *Event) IsPullRequest() bool {
	return e.EntityType == "PullRequest"
}

// Enrich copies detail fetched from the issues or pulls endpoint.
func (e *Event) Enrich(ent *Entity) {
	if ent == nil {
		return
	}
	e.Labels = ent.LabelNames()
	e.Actor = ent.User.Login
	e.CreatedAt = ent.CreatedAt.UTC()
	if !ent.UpdatedAt.IsZero() {
		e.UpdatedAt = ent.UpdatedAt.UTC()
	}
	e.Comments = ent.Comments + ent.ReviewComments
	e.Commits = ent.Commits
	if e.EntityTitle == "" {
		e.EntityTitle = ent.Title
	}
	if ent.HTMLURL != "" {
		e.EntityURL = ent.HTMLURL
	}
	e.Enriched = true
}
