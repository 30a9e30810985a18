package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

const (
	ansiHeader = "\033[1;34m"
	ansiURL    = "\033[4;36m"
	ansiDim    = "\033[2m"
	ansiReset  = "\033[0m"
)

type Console struct {
	mu    sync.Mutex
	out   io.Writer
	clock clock.Clock
	color bool
}

// NewConsole writes to out. Color is used only when requested and NO_COLOR
// is unset.
func NewConsole(out io.Writer, clk clock.Clock, color bool) *Console {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		color = false
	}
	return &Console{out: out, clock: clk, color: color}
}

func (c *Console) Type() rules.ActionType {
	return rules.ActionConsole
}

func (c *Console) Execute(_ context.Context, m rules.Match, message string) Result {
	block := c.format(m, message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, block); err != nil {
		return failure(rules.ActionConsole, fmt.Sprintf("writing to console: %v", err), nil)
	}
	return success(rules.ActionConsole, "Notification printed to console", nil)
}

func (c *Console) paint(code, s string) string {
	if !c.color {
		return s
	}
	return code + s + ansiReset
}

func (c *Console) format(m rules.Match, message string) string {
	ev := m.Event
	ts := c.clock.Now().UTC().Format(time.RFC3339)

	var b strings.Builder
	header := fmt.Sprintf("[%s] [%s] %s", ts, m.Rule.ID, strings.ToUpper(string(ev.Type)))
	b.WriteString(c.paint(ansiHeader, header))

	if message != "" {
		b.WriteString("\n   " + message)
		return b.String()
	}

	switch {
	case ev.EntityNumber > 0 && ev.EntityTitle != "":
		fmt.Fprintf(&b, "\n   %s#%d: %s", ev.RepoFullName, ev.EntityNumber, ev.EntityTitle)
	case ev.EntityNumber > 0:
		fmt.Fprintf(&b, "\n   %s#%d", ev.RepoFullName, ev.EntityNumber)
	default:
		fmt.Fprintf(&b, "\n   %s", ev.RepoFullName)
	}
	if ev.EntityURL != "" {
		b.WriteString("\n   " + c.paint(ansiURL, ev.EntityURL))
	}
	b.WriteString("\n   " + c.paint(ansiDim, "Reason: "+m.Reason))
	return b.String()
}
