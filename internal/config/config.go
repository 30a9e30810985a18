package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1

	DefaultPollInterval   = 60
	DefaultLookbackWindow = 3600
	DefaultRetentionDays  = 30
	DefaultAPIURL         = "https://api.github.com"

	appName    = "concierge"
	stateFile  = "state.db"
	envConfig  = "CONCIERGE_CONFIG"
	slackHooks = "https://hooks.slack.com/"
)

// ErrNotFound is returned when no config file exists at any discovery
// location.
var ErrNotFound = errors.New("config file not found")

type Config struct {
	Version int           `toml:"version" yaml:"version"`
	GitHub  GitHubConfig  `toml:"github" yaml:"github"`
	Actions ActionsConfig `toml:"actions" yaml:"actions"`
	State   StateConfig   `toml:"state" yaml:"state"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Rules   []RuleConfig  `toml:"rules" yaml:"rules"`

	Path string `toml:"-" yaml:"-"`
}

type GitHubConfig struct {
	PollInterval   int    `toml:"poll_interval" yaml:"poll_interval"`
	LookbackWindow int    `toml:"lookback_window" yaml:"lookback_window"`
	APIURL         string `toml:"api_url" yaml:"api_url"`
}

type ActionsConfig struct {
	Slack         SlackConfig         `toml:"slack" yaml:"slack"`
	GitHubComment GitHubCommentConfig `toml:"github_comment" yaml:"github_comment"`
	Desktop       DesktopConfig       `toml:"desktop" yaml:"desktop"`
}

type SlackConfig struct {
	WebhookURL string `toml:"webhook_url" yaml:"webhook_url"`
}

type GitHubCommentConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

type DesktopConfig struct {
	Sound bool `toml:"sound" yaml:"sound"`
}

type StateConfig struct {
	Directory     string `toml:"directory" yaml:"directory"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

type RuleConfig struct {
	ID          string        `toml:"id" yaml:"id"`
	Name        string        `toml:"name" yaml:"name"`
	Enabled     *bool         `toml:"enabled" yaml:"enabled"`
	Description string        `toml:"description" yaml:"description"`
	Trigger     TriggerConfig `toml:"trigger" yaml:"trigger"`
	Action      ActionConfig  `toml:"action" yaml:"action"`
}

func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

type TriggerConfig struct {
	EventType  StringList        `toml:"event_type" yaml:"event_type"`
	Conditions []ConditionConfig `toml:"conditions" yaml:"conditions"`
}

// ConditionConfig is the flat on-disk form of a condition. Type selects
// which of the other fields apply.
type ConditionConfig struct {
	Type      string `toml:"type" yaml:"type"`
	Label     string `toml:"label" yaml:"label"`
	Field     string `toml:"field" yaml:"field"`
	Threshold string `toml:"threshold" yaml:"threshold"`
	Activity  string `toml:"activity" yaml:"activity"`
	Since     string `toml:"since" yaml:"since"`
	Pattern   string `toml:"pattern" yaml:"pattern"`
}

type ActionConfig struct {
	Type    string `toml:"type" yaml:"type"`
	Message string `toml:"message" yaml:"message"`
	OptIn   bool   `toml:"opt_in" yaml:"opt_in"`
}

func defaults() *Config {
	return &Config{
		Version: CurrentVersion,
		GitHub: GitHubConfig{
			PollInterval:   DefaultPollInterval,
			LookbackWindow: DefaultLookbackWindow,
			APIURL:         DefaultAPIURL,
		},
		State: StateConfig{
			RetentionDays: DefaultRetentionDays,
		},
	}
}

// Load discovers, expands, decodes and validates the config file.
func Load(explicitPath string) (*Config, error) {
	path, err := Discover(explicitPath)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := ExpandEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg := defaults()
	if err := decode(path, []byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Path = path

	if cfg.State.Directory == "" {
		cfg.State.Directory = defaultStateDir()
	} else {
		cfg.State.Directory = expandHome(cfg.State.Directory)
	}
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = DefaultAPIURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", filepath.Ext(path))
	}
}

// DBPath is the sqlite file inside the state directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.State.Directory, stateFile)
}

// Token reads the GitHub token from the environment.
func Token() (string, error) {
	for _, name := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", errors.New("GITHUB_TOKEN is not set")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+appName)
	}
	return filepath.Join(home, ".local", "share", appName)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Discover returns the first existing config file: the explicit path,
// $CONCIERGE_CONFIG, the working directory, then the XDG config directory.
func Discover(explicitPath string) (string, error) {
	if explicitPath != "" {
		p := expandHome(explicitPath)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return p, nil
	}

	var candidates []string
	if env := os.Getenv(envConfig); env != "" {
		candidates = append(candidates, expandHome(env))
	}
	for _, ext := range []string{".toml", ".yaml", ".yml"} {
		candidates = append(candidates, appName+ext)
	}
	if home := configHome(); home != "" {
		for _, ext := range []string{".toml", ".yaml", ".yml"} {
			candidates = append(candidates, filepath.Join(home, appName, "config"+ext))
		}
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w; searched: %s", ErrNotFound, strings.Join(candidates, ", "))
}
