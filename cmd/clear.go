package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var forceFlag bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the state database and start fresh",
	Long: `Delete the state database to reset all state: processed events,
action history, threshold markers, the checkpoint and the audit log.

The next poll starts from the configured lookback window.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Skip confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	files := stateFiles(cfg.DBPath())
	if len(files) == 0 {
		fmt.Println("No state database found. Nothing to clear.")
		return nil
	}

	if !forceFlag {
		ok, err := confirm(os.Stdin, os.Stdout, fmt.Sprintf("This will delete:\n  %s\n", strings.Join(files, "\n  ")))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting %s: %w", f, err)
		}
	}
	fmt.Printf("Cleared state in %s\n", cfg.State.Directory)
	return nil
}

// stateFiles lists the database and its WAL side files that exist.
func stateFiles(dbPath string) []string {
	var files []string
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if _, err := os.Stat(dbPath + suffix); err == nil {
			files = append(files, dbPath+suffix)
		}
	}
	return files
}

// confirm prints prompt and reads a yes/no answer. Anything but y or yes
// is a no.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	fmt.Fprint(out, "Are you sure? [y/N] ")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading response: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
