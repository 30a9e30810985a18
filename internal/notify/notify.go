// Package notify runs the actions a matched rule asks for: console output,
// Slack webhooks, GitHub comments and desktop notifications.
package notify

import (
	"context"
	"fmt"

	"github.com/PowerSchill/automation-concierge/internal/rules"
)

// Send shows a desktop notification using the platform notifier.
func Send(ctx context.Context, title, body string) error {
	return platformNotify(ctx, title, body)
}

func PlaySound(ctx context.Context) {
	platformPlaySound(ctx)
}

// Desktop raises a native notification for each match.
type Desktop struct {
	sound  bool
	notify func(ctx context.Context, title, body string) error
	play   func(ctx context.Context)
}

func NewDesktop(sound bool) *Desktop {
	return &Desktop{sound: sound, notify: Send, play: PlaySound}
}

func (d *Desktop) Type() rules.ActionType {
	return rules.ActionDesktop
}

func (d *Desktop) Execute(ctx context.Context, m rules.Match, message string) Result {
	ev := m.Event
	title := fmt.Sprintf("[%s] %s", m.Rule.ID, ev.RepoFullName)
	if ev.EntityNumber > 0 {
		title = fmt.Sprintf("%s#%d", title, ev.EntityNumber)
	}
	body := message
	if body == "" {
		body = ev.EntityTitle
		if body == "" {
			body = m.Reason
		}
	}

	if err := d.notify(ctx, title, body); err != nil {
		return failure(rules.ActionDesktop, err.Error(), nil)
	}
	if d.sound {
		d.play(ctx)
	}
	return success(rules.ActionDesktop, "Desktop notification shown", nil)
}
