package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PowerSchill/automation-concierge/internal/config"
)

var (
	rearmRule      string
	rearmThreshold string
)

var rearmCmd = &cobra.Command{
	Use:   "rearm <reference>",
	Short: "Let a time-based rule fire again for an issue or pull request",
	Long: `Clear the fired marker for a threshold rule so it can fire again.

Reference can be:
  - Full URL: https://github.com/org/repo/pull/123
  - Short form: org/repo#123

The threshold defaults to the rule's configured threshold.`,
	Args: cobra.ExactArgs(1),
	RunE: runRearm,
}

func init() {
	rearmCmd.Flags().StringVar(&rearmRule, "rule", "", "Rule id (required)")
	rearmCmd.Flags().StringVar(&rearmThreshold, "threshold", "", "Threshold key, e.g. 48h or since:created_at")
	_ = rearmCmd.MarkFlagRequired("rule")
	rootCmd.AddCommand(rearmCmd)
}

func runRearm(cmd *cobra.Command, args []string) error {
	repo, number, err := parseRef(args[0])
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	entityID := fmt.Sprintf("%s#%d", repo, number)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	threshold := rearmThreshold
	if threshold == "" {
		threshold, err = ruleThreshold(cfg, rearmRule)
		if err != nil {
			return &ExitError{Code: ExitConfig, Err: err}
		}
	}

	database, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	cleared, err := database.ClearThresholdFired(entityID, rearmRule, threshold)
	if err != nil {
		return err
	}
	if !cleared {
		fmt.Printf("Nothing to rearm: %s has not fired %s for %s\n", rearmRule, threshold, entityID)
		return nil
	}
	fmt.Printf("Rearmed: %s (%s) for %s\n", rearmRule, threshold, entityID)
	return nil
}

func ruleThreshold(cfg *config.Config, ruleID string) (string, error) {
	ruleSet, err := cfg.BuildRules()
	if err != nil {
		return "", err
	}
	for _, r := range ruleSet {
		if r.ID != ruleID {
			continue
		}
		if !r.IsThresholdRule() {
			return "", fmt.Errorf("rule %s has no time-based condition", ruleID)
		}
		return r.ThresholdKey(), nil
	}
	return "", fmt.Errorf("rule %s not found in %s", ruleID, cfg.Path)
}

// parseRef accepts owner/repo#N or an issue or pull request URL.
func parseRef(ref string) (repo string, number int, err error) {
	if strings.Contains(ref, "://") {
		parts := strings.Split(strings.TrimRight(ref, "/"), "/")
		for i, part := range parts {
			if (part == "pull" || part == "issues") && i >= 2 && i+1 < len(parts) {
				n, err := strconv.Atoi(parts[i+1])
				if err != nil || n <= 0 {
					return "", 0, fmt.Errorf("invalid number in %s", ref)
				}
				return parts[i-2] + "/" + parts[i-1], n, nil
			}
		}
		return "", 0, fmt.Errorf("invalid URL format: %s", ref)
	}

	repo, num, ok := strings.Cut(ref, "#")
	if !ok || strings.Count(repo, "/") != 1 || strings.HasPrefix(repo, "/") || strings.HasSuffix(repo, "/") {
		return "", 0, fmt.Errorf("invalid reference %q: expected owner/repo#number", ref)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid number in %q", ref)
	}
	return repo, n, nil
}
