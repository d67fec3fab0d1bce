package main

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/faultline/internal/alertapi"
	"github.com/linnemanlabs/faultline/internal/authmw"
	fc "github.com/linnemanlabs/faultline/internal/cfg"
	"github.com/linnemanlabs/faultline/internal/classify"
	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/incident/memstore"
	"github.com/linnemanlabs/faultline/internal/incident/pgstore"
	"github.com/linnemanlabs/faultline/internal/incident/sqlitestore"
	"github.com/linnemanlabs/faultline/internal/llm/claude"
	"github.com/linnemanlabs/faultline/internal/notify/discord"
	"github.com/linnemanlabs/faultline/internal/notify/slack"
	"github.com/linnemanlabs/faultline/internal/postgres"
	"github.com/linnemanlabs/faultline/internal/remediate/docs"
	"github.com/linnemanlabs/faultline/internal/remediate/github"
)

// openStore picks the incident store from config: Postgres, then SQLite,
// then memory. The returned close func is never nil.
func openStore(ctx context.Context, c *fc.Config, L log.Logger) (incident.Store, func(), error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return st, pool.Close, nil

	case c.SQLitePath != "":
		st, err := sqlitestore.Open(c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", c.SQLitePath)
		return st, func() {
			if err := st.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close sqlite store")
			}
		}, nil
	}

	L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
	return memstore.New(), func() {}, nil
}

// buildClassifier returns the built-in rule table extended by the optional
// rule file.
func buildClassifier(c *fc.Config) (*classify.Classifier, error) {
	if c.RulesFile == "" {
		return classify.New(), nil
	}
	extra, err := classify.LoadRules(c.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load classification rules: %w", err)
	}
	return classify.New(extra...), nil
}

// buildDocs returns the documentation catalog. Operator entries take
// precedence over the built-in ones.
func buildDocs(c *fc.Config) (*docs.Catalog, error) {
	builtin := docs.Builtin()
	if c.DocsCatalog == "" {
		return builtin, nil
	}
	user, err := docs.Load(c.DocsCatalog)
	if err != nil {
		return nil, err
	}
	return user.Extend(builtin), nil
}

// capabilities are the optional collaborators wired from config.
type capabilities struct {
	narrator  incident.Narrator
	codeFixer incident.CodeFixer
	notifier  incident.Notifier
	deliverer incident.ReportDeliverer
}

func buildCapabilities(ctx context.Context, c *fc.Config, L log.Logger) (*capabilities, error) {
	caps := &capabilities{}

	var narrator *claude.Client
	if c.ClaudeAPIKey != "" {
		narrator = claude.New(c.ClaudeAPIKey, c.ClaudeModel, L)
		caps.narrator = narrator
		L.Info(ctx, "narrator enabled", "provider", "claude", "model", c.ClaudeModel)
	}

	if c.GitHubToken != "" {
		var opts []github.Option
		if c.GitHubAPIURL != "" {
			opts = append(opts, github.WithBaseURL(c.GitHubAPIURL))
		}
		if narrator != nil {
			opts = append(opts, github.WithNarrator(narrator))
		}
		caps.codeFixer = github.New(c.GitHubToken, L, opts...)
		L.Info(ctx, "code fixer enabled", "type", "github", "repo", c.GitHubRepo)
	}

	var notifiers incident.MultiNotifier
	if c.SlackWebhookURL != "" || c.SlackBotToken != "" {
		var opts []slack.Option
		if c.SlackBotToken != "" {
			opts = append(opts, slack.WithBotToken(c.SlackBotToken, c.SlackChannel))
		}
		sn := slack.New(c.SlackWebhookURL, L, opts...)
		if c.SlackWebhookURL != "" {
			notifiers = append(notifiers, sn)
		}
		caps.deliverer = sn
		L.Info(ctx, "notifier enabled", "type", "slack", "report_upload", c.SlackBotToken != "")
	}
	if c.DiscordBotToken != "" {
		dn, err := discord.New(discord.Config{BotToken: c.DiscordBotToken, DefaultChannel: c.DiscordChannel}, L)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, dn)
		L.Info(ctx, "notifier enabled", "type", "discord", "channel", c.DiscordChannel)
	}
	switch len(notifiers) {
	case 0:
	case 1:
		caps.notifier = notifiers[0]
	default:
		caps.notifier = notifiers
	}

	return caps, nil
}

// apiOptions maps the auth settings onto alertapi middleware.
func apiOptions(c *fc.Config) []alertapi.Option {
	opts := []alertapi.Option{alertapi.WithMaxPayload(c.MaxPayloadBytes)}
	if c.IngestToken != "" {
		opts = append(opts, alertapi.WithIngestAuth(authmw.BearerToken(c.IngestToken)))
	}
	switch {
	case c.JWTSecret != "":
		opts = append(opts, alertapi.WithQueryAuth(authmw.JWT(c.JWTSecret, c.QueryToken)))
	case c.QueryToken != "":
		opts = append(opts, alertapi.WithQueryAuth(authmw.BearerToken(c.QueryToken)))
	}
	return opts
}
