// Package cmd wires the CLI commands: serve, backfill, preview and config.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Dotan-Peleh/hs-automation/internal/api"
	"github.com/Dotan-Peleh/hs-automation/internal/config"
	"github.com/Dotan-Peleh/hs-automation/internal/database"
	"github.com/Dotan-Peleh/hs-automation/internal/enrich"
	"github.com/Dotan-Peleh/hs-automation/internal/helpscout"
	"github.com/Dotan-Peleh/hs-automation/internal/jobs"
	"github.com/Dotan-Peleh/hs-automation/internal/notify"
	slackalert "github.com/Dotan-Peleh/hs-automation/internal/slack"
	"github.com/Dotan-Peleh/hs-automation/internal/store"
	"github.com/Dotan-Peleh/hs-automation/internal/triage"
	"github.com/Dotan-Peleh/hs-automation/internal/vector"
)

// ServeCommand starts the webhook server and the job queue workers.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the triage API server and queue workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured HTTP port",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if p := c.Int("port"); p != 0 {
				cfg.Server.Port = p
			}

			ctx := context.Background()
			app, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.queue.Start(ctx); err != nil {
				return fmt.Errorf("start job queue: %w", err)
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := app.queue.Stop(stopCtx); err != nil {
					log.Warn().Err(err).Msg("queue shutdown incomplete")
				}
			}()

			return app.server.Start()
		},
	}
}

// application holds everything the serve command runs.
type application struct {
	server *api.Server
	queue  *jobs.Queue
}

// buildApp constructs the full dependency graph from config. Integrations
// without credentials come up disabled, not broken.
func buildApp(ctx context.Context, cfg *config.Config) (*application, func(), error) {
	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	cleanup := func() {
		pool.Close()
		db.Close()
	}

	st := store.NewPostgresStore(db)

	hsClient := helpscout.NewClient(helpscout.Config{
		AppID:     cfg.HelpScout.AppID,
		AppSecret: cfg.HelpScout.AppSecret,
		PAT:       cfg.HelpScout.PAT,
		MailboxID: cfg.HelpScout.MailboxID,
	}, st)

	var llmClient enrich.Client
	if ac, err := enrich.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model); err != nil {
		cleanup()
		return nil, nil, err
	} else if ac != nil {
		llmClient = ac
	}
	enricher := enrich.NewEnricher(llmClient)
	learner := enrich.NewLearner(st)

	alerts := slackalert.NewNotifier(cfg.Slack.BotToken, cfg.Slack.AlertChannel)
	indexer := vector.NewIndexer(
		vector.NewEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel),
		vector.NewPineconeIndex(cfg.Pinecone.APIKey, cfg.Pinecone.IndexHost, cfg.Pinecone.Namespace),
	)

	anomaly := triage.NewAnomalyDetector(time.Duration(cfg.Triage.AnomalyWindowMinutes) * time.Minute)
	thresholds := triage.Thresholds{
		ZMedium:   cfg.Triage.ZMedium,
		ZHigh:     cfg.Triage.ZHigh,
		ZCritical: cfg.Triage.ZCritical,
	}
	hub := notify.NewHub()

	pipeline := jobs.NewPipeline(jobs.PipelineDeps{
		Store:      st,
		HelpScout:  hsClient,
		Enricher:   enricher,
		Learner:    learner,
		Alerts:     alerts,
		Indexer:    indexer,
		Anomaly:    anomaly,
		Thresholds: thresholds,
		Hub:        hub,
	})

	queue, err := jobs.NewQueue(pool, pipeline)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	server := api.NewServer(cfg.Server.Host, cfg.Server.Port, api.Deps{
		Store:              st,
		Queue:              queue,
		HelpScout:          hsClient,
		Enricher:           enricher,
		Learner:            learner,
		Indexer:            indexer,
		Anomaly:            anomaly,
		Hub:                hub,
		Thresholds:         thresholds,
		HelpScoutSecret:    cfg.HelpScout.WebhookSecret,
		HelpScoutAppID:     cfg.HelpScout.AppID,
		SlackSigningSecret: cfg.Slack.SigningSecret,
	})

	return &application{server: server, queue: queue}, cleanup, nil
}
