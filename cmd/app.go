package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/config"
	"github.com/PowerSchill/automation-concierge/internal/db"
	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/logging"
	"github.com/PowerSchill/automation-concierge/internal/notify"
	"github.com/PowerSchill/automation-concierge/internal/poller"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

func newLogger() (*slog.Logger, error) {
	switch strings.ToLower(logFormat) {
	case "text", "json":
	default:
		return nil, &ExitError{Code: ExitConfig, Err: fmt.Errorf("invalid --log-format %q (use text or json)", logFormat)}
	}
	return logging.New(os.Stderr, logging.Options{Format: logFormat, Verbose: verbose, Quiet: quiet}), nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: fmt.Errorf("loading config: %w", err)}
	}
	return cfg, nil
}

func openDB(cfg *config.Config, logger *slog.Logger) (*db.Database, error) {
	database, err := db.Open(cfg.DBPath(),
		db.WithRetentionDays(cfg.State.RetentionDays),
		db.WithLogger(logger))
	if err != nil {
		return nil, &ExitError{Code: ExitFatal, Err: fmt.Errorf("opening database: %w", err)}
	}
	return database, nil
}

func readToken() (string, error) {
	token, err := config.Token()
	if err != nil {
		return "", &ExitError{Code: ExitAuth, Err: err}
	}
	return token, nil
}

func newClient(cfg *config.Config, token string, logger *slog.Logger) *github.Client {
	return github.NewClient(token,
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithLogger(logger))
}

func newDispatcher(cfg *config.Config, token string, dryRun bool, logger *slog.Logger) *notify.Dispatcher {
	clk := clock.System{}
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	opts := []notify.DispatcherOption{
		notify.WithDryRun(dryRun),
		notify.WithDispatcherLogger(logger),
		notify.WithAction(notify.NewConsole(os.Stdout, clk, color)),
		notify.WithAction(notify.NewDesktop(cfg.Actions.Desktop.Sound)),
	}
	if url := cfg.Actions.Slack.WebhookURL; url != "" {
		opts = append(opts, notify.WithAction(notify.NewSlack(url, clk, notify.WithSlackLogger(logger))))
	}
	if cfg.Actions.GitHubComment.Enabled {
		opts = append(opts, notify.WithAction(notify.NewComment(token, clk,
			notify.WithCommentBaseURL(cfg.GitHub.APIURL),
			notify.WithCommentLogger(logger))))
	}
	return notify.NewDispatcher(clk, opts...)
}

// newPoller wires the client, engine and dispatcher around database.
func newPoller(cfg *config.Config, database *db.Database, client *github.Client, token string, dryRun bool, logger *slog.Logger) (*poller.Poller, error) {
	ruleSet, err := cfg.BuildRules()
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}
	engine := rules.NewEngine(ruleSet,
		rules.WithThresholdChecker(database),
		rules.WithLogger(logger))

	return poller.New(database, client, engine, newDispatcher(cfg, token, dryRun, logger),
		poller.WithLogger(logger),
		poller.WithPollInterval(seconds(cfg.GitHub.PollInterval)),
		poller.WithLookback(seconds(cfg.GitHub.LookbackWindow)),
	), nil
}
