//go:build !linux && !darwin

package notify

import (
	"context"
	"fmt"
	"os"
)

// No native notifier here, so the notification goes to stdout.
func platformNotify(_ context.Context, title, body string) error {
	_, err := fmt.Printf("[NOTIFICATION] %s: %s\n", title, body)
	return err
}

func platformPlaySound(context.Context) {
	fmt.Fprint(os.Stderr, "\a")
}
