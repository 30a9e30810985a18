package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PowerSchill/automation-concierge/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and summarize its rules",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ruleSet, err := cfg.BuildRules()
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	if quiet {
		return nil
	}

	fmt.Printf("Config OK: %s\n", cfg.Path)
	fmt.Printf("State:     %s\n", cfg.DBPath())
	fmt.Printf("Polling:   every %ds, lookback %ds\n\n", cfg.GitHub.PollInterval, cfg.GitHub.LookbackWindow)

	if len(ruleSet) == 0 {
		fmt.Println("No rules defined.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENABLED\tEVENTS\tCONDITIONS\tACTION")
	for _, r := range ruleSet {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n",
			r.ID, r.Enabled, eventList(r), conditionList(r), r.Action.Type)
	}
	return w.Flush()
}

func eventList(r *rules.Rule) string {
	if len(r.Trigger.EventTypes) == 0 {
		return "*"
	}
	names := make([]string, len(r.Trigger.EventTypes))
	for i, t := range r.Trigger.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}

func conditionList(r *rules.Rule) string {
	if len(r.Trigger.Conditions) == 0 {
		return "-"
	}
	kinds := make([]string, len(r.Trigger.Conditions))
	for i, c := range r.Trigger.Conditions {
		kinds[i] = c.Kind()
	}
	return strings.Join(kinds, ",")
}
