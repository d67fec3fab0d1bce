package cfg

import (
	"errors"
	"flag"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config holds the application-level settings of the faultline server.
// Transport, logging, tracing and profiling settings live in their own
// go-core config structs.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	MaxPayloadBytes       int64
	DispatchTimeout       time.Duration

	DatabaseURL     string
	SQLitePath      string
	DBSlowQueryTime time.Duration

	AppNamespaces string
	RulesFile     string
	DocsCatalog   string

	GitHubToken       string
	GitHubRepo        string
	GitHubBaseBranch  string
	GitHubSourceRoots string
	GitHubAPIURL      string

	SlackWebhookURL string
	SlackBotToken   string
	SlackChannel    string

	DiscordBotToken string
	DiscordChannel  string

	ClaudeAPIKey string
	ClaudeModel  string

	IngestToken string
	QueryToken  string
	JWTSecret   string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.Int64Var(&c.MaxPayloadBytes, "max-payload-bytes", 1<<20, "largest accepted alert payload in bytes")
	fs.DurationVar(&c.DispatchTimeout, "dispatch-timeout", 5*time.Minute, "upper bound on a single remediation call")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.DurationVar(&c.DBSlowQueryTime, "db-slow-query", 0, "only log postgres queries slower than this (0 = log all; failures always logged)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when database-url is empty; both empty = in-memory store)")

	fs.StringVar(&c.AppNamespaces, "app-namespaces", "", "comma-separated package prefixes that count as application code when picking the primary frame")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML file with extra classification rules")
	fs.StringVar(&c.DocsCatalog, "docs-catalog", "", "YAML file with extra configuration documentation entries")

	fs.StringVar(&c.GitHubToken, "github-token", "", "GitHub token used to open code-fix pull requests")
	fs.StringVar(&c.GitHubRepo, "github-repo", "", "repository (owner/name) receiving code-fix pull requests")
	fs.StringVar(&c.GitHubBaseBranch, "github-base-branch", "", "base branch for pull requests (empty = repository default)")
	fs.StringVar(&c.GitHubSourceRoots, "github-source-roots", "src/main/java", "comma-separated source roots tried when resolving a frame to a file")
	fs.StringVar(&c.GitHubAPIURL, "github-api-url", "", "GitHub API base URL (empty = api.github.com)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.SlackBotToken, "slack-bot-token", "", "Slack bot token for uploading report attachments")
	fs.StringVar(&c.SlackChannel, "slack-channel", "", "Slack channel ID that receives report attachments")

	fs.StringVar(&c.DiscordBotToken, "discord-bot-token", "", "Discord bot token for notifications")
	fs.StringVar(&c.DiscordChannel, "discord-channel", "", "Discord channel ID for notifications")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude narrator (empty = template text only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.IngestToken, "ingest-token", "", "bearer token required on POST /api/v1/signals (empty = open)")
	fs.StringVar(&c.QueryToken, "query-token", "", "static bearer token accepted on incident queries")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret for operator tokens on incident queries")
}

var repoRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.MaxPayloadBytes <= 0 || c.MaxPayloadBytes > 16<<20 {
		errs = append(errs, fmt.Errorf("invalid MAX_PAYLOAD_BYTES %d (must be 1..%d)", c.MaxPayloadBytes, 16<<20))
	}
	if c.DispatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_TIMEOUT %s (must be positive)", c.DispatchTimeout))
	}

	if c.DBSlowQueryTime < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY %s (must not be negative)", c.DBSlowQueryTime))
	}
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	// Code fixes need both a token and a target repository
	if (c.GitHubToken == "") != (c.GitHubRepo == "") {
		errs = append(errs, errors.New("GITHUB_TOKEN and GITHUB_REPO must be set together"))
	}
	if c.GitHubRepo != "" && !repoRe.MatchString(c.GitHubRepo) {
		errs = append(errs, fmt.Errorf("invalid GITHUB_REPO %q (want owner/name)", c.GitHubRepo))
	}

	if c.SlackBotToken != "" && c.SlackChannel == "" {
		errs = append(errs, errors.New("SLACK_CHANNEL is required with SLACK_BOT_TOKEN"))
	}
	if c.DiscordBotToken != "" && c.DiscordChannel == "" {
		errs = append(errs, errors.New("DISCORD_CHANNEL is required with DISCORD_BOT_TOKEN"))
	}

	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required with CLAUDE_API_KEY"))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 bytes (got %d)", len(c.JWTSecret)))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SplitList splits a comma-separated flag value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
