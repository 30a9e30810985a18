package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PowerSchill/automation-concierge/internal/db"
	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/poller"
)

var offline bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last run, checkpoint and state counts",
	Long: `Display information about the last poll run, the notification checkpoint
and the size of the state database. Unless --offline is given the GitHub
token is also checked.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&offline, "offline", false, "Skip the GitHub token check")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	lastRun, err := database.GetLastRun()
	if err != nil {
		return fmt.Errorf("getting last run: %w", err)
	}

	fmt.Println("=== Last Run ===")
	if lastRun == nil {
		fmt.Println("No runs recorded yet.")
	} else {
		ago := time.Since(lastRun.StartedAt).Round(time.Second)
		fmt.Printf("Run:       %s\n", lastRun.RunID)
		fmt.Printf("Time:      %s (%s ago)\n", lastRun.StartedAt.Format(time.RFC3339), ago)
		fmt.Printf("Events:    %d seen, %d processed\n", lastRun.EventsSeen, lastRun.EventsProcessed)
		fmt.Printf("Actions:   %d executed, %d errors\n", lastRun.ActionsExecuted, lastRun.Errors)
		if lastRun.DurationMs.Valid {
			fmt.Printf("Duration:  %dms\n", lastRun.DurationMs.Int64)
		}
		if lastRun.ErrorMessage.Valid && lastRun.ErrorMessage.String != "" {
			fmt.Printf("Error:     %s\n", truncate(lastRun.ErrorMessage.String, 120))
		}
	}
	fmt.Println()

	cp, err := database.GetCheckpoint(db.DefaultCheckpointID)
	if err != nil {
		return fmt.Errorf("getting checkpoint: %w", err)
	}
	backoff, err := database.GetBackoffState()
	if err != nil {
		return fmt.Errorf("getting backoff state: %w", err)
	}

	fmt.Println("=== Checkpoint ===")
	fmt.Printf("Last event: %s\n", formatNullTime(cp.LastEventTimestamp))
	fmt.Printf("Last poll:  %s\n", formatNullTime(cp.LastPollTimestamp))
	if backoff.ConsecutiveFailures > 0 {
		fmt.Printf("Backoff:    %d consecutive failures, last at %s\n",
			backoff.ConsecutiveFailures, formatNullTime(backoff.LastFailureTime))
		if wait := poller.BackoffRemaining(backoff, time.Now()); wait > 0 {
			fmt.Printf("Retry in:   %s\n", formatDuration(wait))
		}
	}
	fmt.Println()

	stats, err := database.Stats()
	if err != nil {
		return fmt.Errorf("getting stats: %w", err)
	}

	fmt.Println("=== State ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Database\t%s\n", database.Path())
	fmt.Fprintf(w, "Schema version\t%d\n", stats.SchemaVersion)
	fmt.Fprintf(w, "Processed events\t%d\n", stats.ProcessedEvents)
	fmt.Fprintf(w, "Actions\t%d\n", stats.Actions)
	fmt.Fprintf(w, "Thresholds fired\t%d\n", stats.Thresholds)
	fmt.Fprintf(w, "Audit entries\t%d\n", stats.AuditEntries)
	fmt.Fprintf(w, "Poll runs\t%d\n", stats.PollRuns)
	if err := w.Flush(); err != nil {
		return err
	}

	if offline {
		return nil
	}
	fmt.Println()
	fmt.Println("=== GitHub ===")

	token, err := readToken()
	if err != nil {
		return err
	}
	client := newClient(cfg, token, logger)
	info, err := client.ValidateToken(cmd.Context())
	if err != nil {
		return classify(err)
	}
	fmt.Printf("Token:      %s (%s)\n", github.MaskToken(token), info.Login)
	if rate, ok := client.RateLimit(); ok {
		fmt.Printf("Rate limit: %d/%d remaining, resets in %s\n",
			rate.Remaining, rate.Limit, formatDuration(rate.Until(time.Now())))
	}
	return nil
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Time.Format(time.RFC3339), formatDuration(time.Since(t.Time)))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	switch hours := int(d.Hours()); {
	case hours >= 24:
		return fmt.Sprintf("%dd", hours/24)
	case hours >= 1:
		return fmt.Sprintf("%dh", hours)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
