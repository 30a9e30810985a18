package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/metrics"
	"github.com/PowerSchill/automation-concierge/internal/poller"
)

var (
	runOnce     bool
	dryRun      bool
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll notifications continuously",
	Long: `Poll GitHub notifications every poll_interval seconds, evaluate rules
and run matching actions until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run a single poll cycle and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runOnce = true
		return runRun(cmd, args)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single poll cycle and exit")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate rules without executing actions")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.listen)")
	runOnceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate rules without executing actions")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runOnceCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := readToken()
	if err != nil {
		return err
	}

	database, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	client := newClient(cfg, token, logger)
	p, err := newPoller(cfg, database, client, token, dryRun, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun && !quiet {
		fmt.Println("Dry-run mode: actions will be logged but not executed")
	}

	if runOnce {
		return pollOnce(ctx, client, p)
	}

	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Listen
	}
	if addr != "" {
		shutdown := serveMetrics(addr, logger)
		defer shutdown()
	}

	if !quiet {
		fmt.Printf("Polling every %ds (state: %s). Press Ctrl+C to stop.\n", cfg.GitHub.PollInterval, cfg.DBPath())
	}
	if err := p.Run(ctx); err != nil {
		return classify(err)
	}
	if !quiet {
		fmt.Println("Stopped.")
	}
	return nil
}

func pollOnce(ctx context.Context, client *github.Client, p *poller.Poller) error {
	if _, err := client.ValidateToken(ctx); err != nil {
		return classify(err)
	}

	result, err := p.Poll(ctx)
	if err != nil {
		return classify(fmt.Errorf("polling: %w", err))
	}

	if result.Skipped {
		if !quiet {
			fmt.Fprintf(os.Stderr, "Skipped: %s\n", result.SkipReason)
		}
		return nil
	}

	if !quiet {
		fmt.Printf("Processed %d of %d events (%d actions executed, %d errors) in %s\n",
			result.EventsProcessed, result.EventsSeen, result.ActionsExecuted, result.Errors,
			result.Duration.Round(time.Millisecond))
	}
	if result.PartialFailure() {
		return &ExitError{Code: ExitPartial, Err: fmt.Errorf("%d action errors in run %s", result.Errors, result.RunID)}
	}
	return nil
}

func classify(err error) error {
	if github.IsKind(err, github.KindAuthentication) {
		return &ExitError{Code: ExitAuth, Err: err}
	}
	return &ExitError{Code: ExitFatal, Err: err}
}

// serveMetrics starts a /metrics listener and returns its shutdown func.
func serveMetrics(addr string, logger *slog.Logger) func() {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
