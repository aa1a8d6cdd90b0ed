package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apiPkg "github.com/mn-ai/mnvoice/internal/api"
	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/config"
	"github.com/mn-ai/mnvoice/internal/connector"
	slackconn "github.com/mn-ai/mnvoice/internal/connector/slack"
	"github.com/mn-ai/mnvoice/internal/connector/telegram"
	"github.com/mn-ai/mnvoice/internal/connector/webhook"
	"github.com/mn-ai/mnvoice/internal/crm"
	"github.com/mn-ai/mnvoice/internal/funnel"
	"github.com/mn-ai/mnvoice/internal/knowledge"
	"github.com/mn-ai/mnvoice/internal/logbuf"
	"github.com/mn-ai/mnvoice/internal/orchestrator"
	"github.com/mn-ai/mnvoice/internal/scheduler"
	"github.com/mn-ai/mnvoice/internal/store"
	"github.com/mn-ai/mnvoice/internal/summarizer"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	platformURL := flag.String("platform-url", os.Getenv("MNV_PLATFORM_URL"), "Platform dashboard URL")
	deploymentID := flag.String("deployment-id", os.Getenv("MNV_DEPLOYMENT_ID"), "Deployment ID for platform mode")
	platformKey := flag.String("platform-key", os.Getenv("MNV_PLATFORM_KEY"), "API key for platform auth")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))
	slog.SetDefault(logger)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load config (3 modes: file, platform, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else if *platformURL != "" {
		logger.Info("loading config from platform", "url", *platformURL, "deployment_id", *deploymentID)
		cfg, err = config.LoadFromPlatform(ctx, config.PlatformOptions{
			PlatformURL:  *platformURL,
			DeploymentID: *deploymentID,
			APIKey:       *platformKey,
		})
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("mnvoiced starting", "service_id", cfg.Service.ID)

	// 1. Knowledge base: FAQ answers and prompt overrides
	kbPath := cfg.Service.KnowledgePath()
	kb, err := knowledge.Load(kbPath)
	if err != nil {
		// Qualification still runs without FAQ answers.
		logger.Warn("knowledge base unusable, FAQ disabled", "path", kbPath, "error", err)
		kb = knowledge.Empty()
	}
	logger.Info("knowledge base loaded", "path", kbPath, "faq_entries", len(kb.FAQ), "prompt_overrides", len(kb.Prompts))

	// 2. Store
	if err := os.MkdirAll(cfg.Service.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "path", cfg.Service.DataDir, "error", err)
		os.Exit(1)
	}
	st, err := store.NewSQLiteStore(cfg.Service.DBPath())
	if err != nil {
		logger.Error("failed to open store", "path", cfg.Service.DBPath(), "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// 3. Conversation engine + calls service
	orch := orchestrator.New(orchestrator.Config{
		Router:  kb.Router(),
		Prompts: kb.Renderer(),
		Logger:  logger,
	})
	svc := calls.New(calls.Config{Store: st, Orchestrator: orch, Logger: logger})

	// 4. Post-call pipeline: summaries and CRM outbox delivery
	sum := summarizer.New(st, logger)
	worker := crm.NewWorker(st, cfg.CRM.MaxAttempts, logger)
	if cfg.CRM.Enabled() {
		var opts []crm.Option
		if cfg.CRM.BaseURL != "" {
			opts = append(opts, crm.WithBaseURL(cfg.CRM.BaseURL))
		}
		if cfg.CRM.Action != "" {
			opts = append(opts, crm.WithAction(cfg.CRM.Action))
		}
		client := crm.NewClient(cfg.CRM.Domain, cfg.CRM.AppSecret, opts...)
		worker.Handle(protocol.ActionAppendNote, client)
		worker.Handle(protocol.ActionUpsertLead, client)
		logger.Info("crm delivery enabled", "domain", cfg.CRM.Domain)
	} else {
		logger.Warn("crm not configured, outbox entries will accumulate")
	}
	if cfg.Slack != nil {
		worker.Handle(protocol.ActionNotifySales, crm.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel))
		logger.Info("slack sales notifications enabled", "channel", cfg.Slack.Channel)
	} else {
		logger.Warn("slack not configured, sales notifications will stay pending")
	}

	sched := scheduler.New(logger)
	if err := sched.AddJob("summarizer", cfg.Summarizer.Schedule, func(ctx context.Context) error {
		n, err := sum.RunPending(ctx)
		if n > 0 {
			logger.Info("summaries created", "count", n)
		}
		return err
	}); err != nil {
		logger.Error("failed to schedule summarizer", "error", err)
		os.Exit(1)
	}
	if err := sched.AddJob("crm-outbox", cfg.CRM.Schedule, func(ctx context.Context) error {
		stats, err := worker.DeliverPending(ctx)
		if stats.Delivered+stats.Retrying+stats.Failed > 0 {
			logger.Info("outbox delivery", "delivered", stats.Delivered, "retrying", stats.Retrying, "failed", stats.Failed)
		}
		return err
	}); err != nil {
		logger.Error("failed to schedule crm outbox", "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 5. Channels
	dispatcher := connector.NewDispatcher(svc, logger)
	var connectors []connector.Connector

	if cfg.Telegram != nil {
		tgConn, err := telegram.New(
			telegram.Config{
				Token:     cfg.Telegram.Token,
				AllowFrom: cfg.Telegram.AllowFrom,
			},
			dispatcher.Handle,
			logger.With("connector", "telegram"),
		)
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		connectors = append(connectors, tgConn)
	}
	if cfg.SlackChat != nil {
		slConn, err := slackconn.New(
			slackconn.Config{
				BotToken: cfg.SlackChat.BotToken,
				AppToken: cfg.SlackChat.AppToken,
				Channels: cfg.SlackChat.Channels,
			},
			dispatcher.Handle,
			logger.With("connector", "slack"),
		)
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		connectors = append(connectors, slConn)
	}
	for _, c := range connectors {
		go safeGo(logger, c.Name(), func() { c.Start(ctx) })
		logger.Info("connector started", "connector", c.Name())
	}

	var apiOpts []apiPkg.Option
	apiOpts = append(apiOpts, apiPkg.WithFunnel(funnel.New(st)))
	if cfg.Webhook != nil {
		endpoints := make(map[string]webhook.EndpointConfig, len(cfg.Webhook.Endpoints))
		for name, ep := range cfg.Webhook.Endpoints {
			endpoints[name] = webhook.EndpointConfig{Secret: ep.Secret, BearerToken: ep.BearerToken}
		}
		hook := webhook.New(webhook.Config{Endpoints: endpoints}, dispatcher.Handle, logger)
		apiOpts = append(apiOpts, apiPkg.WithWebhook(hook))
		logger.Info("telephony webhook enabled", "endpoints", len(endpoints))
	}

	// 6. API server
	apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger, logBuf, apiOpts...)

	go safeGo(logger, "api-server", func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server stopped", "error", err)
			cancel()
		}
	})

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
	cancel()
	for _, c := range connectors {
		c.Stop()
	}
	logger.Info("mnvoiced stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
