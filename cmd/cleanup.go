package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove processed-event records past their retention",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	n, err := database.CleanupExpired()
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("Removed %d expired events (retention %d days)\n", n, cfg.State.RetentionDays)
	}
	return nil
}
