package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerSchill/automation-concierge/internal/github"
	"github.com/PowerSchill/automation-concierge/internal/rules"
)

const sampleTOML = `
version = 1

[github]
poll_interval = 120

[actions.slack]
webhook_url = "${SLACK_WEBHOOK}"

[actions.github_comment]
enabled = true

[[rules]]
id = "review-queue"
name = "Review queue"

[rules.trigger]
event_type = ["review_requested", "mention"]

[[rules.trigger.conditions]]
type = "label_present"
label = "needs-review"

[[rules.trigger.conditions]]
type = "time_since"
field = "created_at"
threshold = "48h"

[rules.action]
type = "slack"
message = "{{ event.title }} is waiting"

[[rules]]
id = "nudge"
name = "Nudge author"
enabled = false

[rules.trigger]
event_type = "assign"

[[rules.trigger.conditions]]
type = "no_activity"
activity = "comment"

[rules.action]
type = "github_comment"
message = "Any update?"
opt_in = true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadFileTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SLACK_WEBHOOK", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	path := writeFile(t, dir, "concierge.toml", sampleTOML)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, 120, cfg.GitHub.PollInterval)
	assert.Equal(t, DefaultLookbackWindow, cfg.GitHub.LookbackWindow)
	assert.Equal(t, DefaultAPIURL, cfg.GitHub.APIURL)
	assert.Equal(t, DefaultRetentionDays, cfg.State.RetentionDays)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.Actions.Slack.WebhookURL)
	assert.Equal(t, filepath.Join(dir, "data", "concierge", "state.db"), cfg.DBPath())

	require.Len(t, cfg.Rules, 2)
	assert.True(t, cfg.Rules[0].IsEnabled())
	assert.False(t, cfg.Rules[1].IsEnabled())
	assert.Equal(t, StringList{"review_requested", "mention"}, cfg.Rules[0].Trigger.EventType)
	assert.Equal(t, StringList{"assign"}, cfg.Rules[1].Trigger.EventType)

	built, err := cfg.BuildRules()
	require.NoError(t, err)
	require.Len(t, built, 2)

	r := built[0]
	assert.Equal(t, []github.EventType{github.EventReviewRequested, github.EventMention}, r.Trigger.EventTypes)
	assert.Equal(t, []rules.Condition{
		rules.LabelCondition{Mode: rules.LabelPresent, Label: "needs-review"},
		rules.TimeSinceCondition{Field: rules.FieldCreatedAt, Threshold: "48h"},
	}, r.Trigger.Conditions)
	assert.Equal(t, rules.ActionSlack, r.Action.Type)
	assert.Equal(t, "48h", r.ThresholdKey())

	nudge := built[1]
	assert.False(t, nudge.Enabled)
	assert.True(t, nudge.Action.OptIn)
	assert.Equal(t, []rules.Condition{
		rules.NoActivityCondition{Activity: rules.ActivityComment, Since: rules.FieldCreatedAt},
	}, nudge.Trigger.Conditions)
}

func TestLoadFileRejectsUnknownTOMLKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "concierge.toml", `
version = 1

[[rules]]
id = "stale-review"
name = "Stale review"
event_type = "mention"
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
	assert.Contains(t, err.Error(), "rules.event_type")
}

func TestLoadFileYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	path := writeFile(t, dir, "concierge.yaml", `
version: 1
state:
  directory: `+filepath.Join(dir, "state")+`
  retention_days: 7
rules:
  - id: mentions
    name: Mentions
    trigger:
      event_type: mention
      conditions:
        - type: repo_match
          pattern: "acme/*"
    action:
      type: console
      message: "{{ event.type }} in {{ event.repo }}"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.State.RetentionDays)
	assert.Equal(t, filepath.Join(dir, "state", "state.db"), cfg.DBPath())

	built, err := cfg.BuildRules()
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, []github.EventType{github.EventMention}, built[0].Trigger.EventTypes)
	assert.Equal(t, []rules.Condition{rules.RepoCondition{Pattern: "acme/*"}}, built[0].Trigger.Conditions)
}

func TestLoadFileYAMLRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "concierge.yml", "version: 1\ngithub:\n  poll_every: 60\n")

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_every")
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "concierge.json", "{}")

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CONCIERGE_A", "alpha")
	t.Setenv("EMPTY_OK", "")

	out, err := ExpandEnv("a=${CONCIERGE_A} e=${EMPTY_OK} lower=${lower} bare=$CONCIERGE_A")
	require.NoError(t, err)
	assert.Equal(t, "a=alpha e= lower=${lower} bare=$CONCIERGE_A", out)
}

func TestExpandEnvListsEveryMissingVariable(t *testing.T) {
	os.Unsetenv("CONCIERGE_MISSING_ONE")
	os.Unsetenv("CONCIERGE_MISSING_TWO")

	_, err := ExpandEnv("${CONCIERGE_MISSING_ONE} ${CONCIERGE_MISSING_TWO} ${CONCIERGE_MISSING_ONE}")
	require.Error(t, err)

	var missing *MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"CONCIERGE_MISSING_ONE", "CONCIERGE_MISSING_TWO"}, missing.Names)
}

func TestLoadFileMissingEnv(t *testing.T) {
	dir := t.TempDir()
	os.Unsetenv("SLACK_WEBHOOK")
	path := writeFile(t, dir, "concierge.toml", sampleTOML)

	_, err := LoadFile(path)
	var missing *MissingEnvError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"SLACK_WEBHOOK"}, missing.Names)
}

func validConfig() *Config {
	cfg := defaults()
	cfg.State.Directory = "/tmp/concierge"
	cfg.Rules = []RuleConfig{{
		ID:   "mentions",
		Name: "Mentions",
		Trigger: TriggerConfig{
			EventType: StringList{"mention"},
		},
		Action: ActionConfig{Type: "console", Message: "hi"},
	}}
	return cfg
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Version = 2
	cfg.GitHub.PollInterval = 10
	cfg.GitHub.LookbackWindow = 10
	cfg.State.RetentionDays = 0
	cfg.Actions.Slack.WebhookURL = "https://example.com/hook"
	cfg.Rules = append(cfg.Rules,
		RuleConfig{
			ID: "Bad_ID",
			Trigger: TriggerConfig{
				EventType:  StringList{"push"},
				Conditions: []ConditionConfig{{Type: "time_since", Field: "created_at", Threshold: "soon"}},
			},
			Action: ActionConfig{Type: "pager", Message: ""},
		},
		RuleConfig{
			ID:     "mentions",
			Name:   "Duplicate",
			Action: ActionConfig{Type: "console", Message: "dup"},
		},
	)

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"version: unsupported version 2",
		"github.poll_interval",
		"github.lookback_window",
		"state.retention_days",
		"actions.slack.webhook_url",
		"must be lowercase letters",
		"name is required",
		`unknown event type "push"`,
		"trigger.conditions[0]",
		"action.message is required",
		`unknown action "pager"`,
		"duplicate rule id",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateGitHubCommentGuards(t *testing.T) {
	cfg := validConfig()
	cfg.Rules[0].Action = ActionConfig{Type: "github_comment", Message: "ping"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires opt_in = true")
	assert.Contains(t, err.Error(), "actions.github_comment.enabled")

	cfg.Rules[0].Action.OptIn = true
	cfg.Actions.GitHubComment.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestValidateSlackNeedsWebhook(t *testing.T) {
	cfg := validConfig()
	cfg.Rules[0].Action = ActionConfig{Type: "slack", Message: "ping"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires actions.slack.webhook_url")

	cfg.Actions.Slack.WebhookURL = "https://hooks.slack.com/services/T/B/X"
	assert.NoError(t, cfg.Validate())
}

func TestValidateMessageLength(t *testing.T) {
	cfg := validConfig()
	long := make([]byte, rules.MaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}
	cfg.Rules[0].Action.Message = string(long)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action.message exceeds 1000 characters")
}

func TestValidateNoActivitySinceDefault(t *testing.T) {
	cfg := validConfig()
	cfg.Rules[0].Trigger.Conditions = []ConditionConfig{{Type: "no_activity", Activity: "review"}}
	assert.NoError(t, cfg.Validate())

	cfg.Rules[0].Trigger.Conditions = []ConditionConfig{{Type: "no_activity", Activity: "deploy"}}
	assert.Error(t, cfg.Validate())
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestDiscoverOrder(t *testing.T) {
	work := t.TempDir()
	xdg := t.TempDir()
	chdir(t, work)
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv(envConfig, "")

	_, err := Discover("")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "concierge"), 0o700))
	xdgPath := writeFile(t, filepath.Join(xdg, "concierge"), "config.yaml", "version: 1\n")
	got, err := Discover("")
	require.NoError(t, err)
	assert.Equal(t, xdgPath, got)

	writeFile(t, work, "concierge.yml", "version: 1\n")
	got, err = Discover("")
	require.NoError(t, err)
	assert.Equal(t, "concierge.yml", got)

	writeFile(t, work, "concierge.toml", "version = 1\n")
	got, err = Discover("")
	require.NoError(t, err)
	assert.Equal(t, "concierge.toml", got)

	envPath := writeFile(t, xdg, "from-env.toml", "version = 1\n")
	t.Setenv(envConfig, envPath)
	got, err = Discover("")
	require.NoError(t, err)
	assert.Equal(t, envPath, got)

	explicit := writeFile(t, xdg, "explicit.toml", "version = 1\n")
	got, err = Discover(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	_, err = Discover(filepath.Join(xdg, "nope.toml"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	_, err := Token()
	assert.Error(t, err)

	t.Setenv("GH_TOKEN", "gh-fallback")
	tok, err := Token()
	require.NoError(t, err)
	assert.Equal(t, "gh-fallback", tok)

	t.Setenv("GITHUB_TOKEN", " primary ")
	tok, err = Token()
	require.NoError(t, err)
	assert.Equal(t, "primary", tok)
}
