package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PowerSchill/automation-concierge/internal/db"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

var (
	auditSince string
	auditRule  string
	auditLimit int
	auditJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit log entries",
	Long: `Show what happened to each processed event: which rules were
evaluated, which actions ran and the final disposition.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditSince, "since", "24h", "Only entries newer than this (e.g. 30m, 24h, 7d)")
	auditCmd.Flags().StringVar(&auditRule, "rule", "", "Only entries that evaluated this rule")
	auditCmd.Flags().IntVar(&auditLimit, "limit", db.DefaultAuditLimit, "Maximum number of entries")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Print entries as JSON")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	window, err := rules.ParseThreshold(auditSince)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("--since: %w", err)}
	}

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

	entries, err := database.QueryAuditLog(db.AuditQuery{
		Since:  time.Now().Add(-window),
		RuleID: auditRule,
		Limit:  auditLimit,
	})
	if err != nil {
		return err
	}

	if auditJSON {
		if entries == nil {
			entries = []*db.AuditEntry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Printf("No audit entries in the last %s.\n", auditSince)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tSOURCE\tDISPOSITION\tMATCHED\tACTIONS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.EventType,
			truncate(e.EventSource, 40),
			e.Disposition,
			matchedRules(e),
			actionSummary(e))
	}
	return w.Flush()
}

func matchedRules(e *db.AuditEntry) string {
	var ids []string
	for _, r := range e.RulesEvaluated {
		if r.Matched {
			ids = append(ids, r.RuleID)
		}
	}
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}

func actionSummary(e *db.AuditEntry) string {
	if len(e.ActionsTaken) == 0 {
		return "-"
	}
	parts := make([]string, len(e.ActionsTaken))
	for i, a := range e.ActionsTaken {
		parts[i] = a.ActionType + "=" + a.Result
	}
	return strings.Join(parts, ",")
}
