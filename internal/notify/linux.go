//go:build linux

package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

const freedesktopSound = "/usr/share/sounds/freedesktop/stereo/message-new-instant.oga"

func platformNotify(ctx context.Context, title, body string) error {
	cmd := exec.CommandContext(ctx, "notify-send", "--app-name=concierge", title, body)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send failed: %w: %s", err, out)
	}
	return nil
}

func platformPlaySound(ctx context.Context) {
	if _, err := os.Stat(freedesktopSound); err == nil {
		exec.CommandContext(ctx, "paplay", freedesktopSound).Run()
		return
	}
	fmt.Fprint(os.Stderr, "\a")
}
