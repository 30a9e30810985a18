//go:build darwin

package notify

import (
	"context"
	"fmt"
	"os/exec"
)

func platformNotify(ctx context.Context, title, body string) error {
	script := fmt.Sprintf(`display notification %q with title %q subtitle "concierge"`, body, title)
	if out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput(); err != nil {
		return fmt.Errorf("osascript notification failed: %w: %s", err, out)
	}
	return nil
}

func platformPlaySound(ctx context.Context) {
	exec.CommandContext(ctx, "afplay", "/System/Library/Sounds/Ping.aiff").Run()
}
