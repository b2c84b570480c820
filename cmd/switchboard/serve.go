package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymesh/switchboard/internal/channels"
	"github.com/relaymesh/switchboard/internal/channels/discord"
	"github.com/relaymesh/switchboard/internal/channels/interactive"
	"github.com/relaymesh/switchboard/internal/channels/slack"
	"github.com/relaymesh/switchboard/internal/channels/telegram"
	"github.com/relaymesh/switchboard/internal/config"
	"github.com/relaymesh/switchboard/internal/cron"
	"github.com/relaymesh/switchboard/internal/gateway"
	"github.com/relaymesh/switchboard/internal/multiagent"
	"github.com/relaymesh/switchboard/internal/observability"
	"github.com/relaymesh/switchboard/internal/providers"
	"github.com/relaymesh/switchboard/internal/routing"
	"github.com/relaymesh/switchboard/internal/sessions"
	"github.com/relaymesh/switchboard/internal/switchmodels"
	"github.com/relaymesh/switchboard/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the switchboard gateway",
		Long: `Start the switchboard gateway with all configured channels, providers,
subagents, and cron jobs.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Logging.Format,
	})
	logger.Info(ctx, "starting switchboard gateway", "version", version, "config", configPath)

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "switchboard",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	eventStore := observability.NewMemoryEventStore(10000)
	recorder := observability.NewEventRecorder(eventStore, logger)

	sessionStore, err := sessions.NewFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("serve: open session store: %w", err)
	}

	providerRegistry := providers.NewRegistry(cfg.Providers, providers.NewAnthropicClient, providers.NewOpenAIClient)

	bindings := make([]*switchmodels.Binding, len(cfg.Bindings))
	for i := range cfg.Bindings {
		bindings[i] = &cfg.Bindings[i]
	}
	router := routing.NewRouter(bindings)
	router.Metrics = metrics

	toolRegistry := tools.NewRegistry()

	channelRegistry := channels.NewRegistry()
	if cfg.Channels.Telegram.Enabled {
		channelRegistry.Register(telegram.New(cfg.Channels.Telegram.Token))
	}
	if cfg.Channels.Discord.Enabled {
		channelRegistry.Register(discord.New(cfg.Channels.Discord.Token))
	}
	if cfg.Channels.Slack.Enabled {
		channelRegistry.Register(slack.New(cfg.Channels.Slack.BotToken, cfg.Channels.Slack.AppToken))
	}
	if cfg.Channels.Interactive.Enabled {
		channelRegistry.Register(interactive.New(cfg.Channels.Interactive.Addr))
	}

	subagentRegistry, err := multiagent.NewRegistry(cfg.DataDir + "/subagents.json")
	if err != nil {
		return fmt.Errorf("serve: open subagent registry: %w", err)
	}
	announce := multiagent.NewAnnouncePipeline(nil)

	cronStore, err := cron.NewStore(cfg.DataDir + "/cron.json")
	if err != nil {
		return fmt.Errorf("serve: open cron store: %w", err)
	}

	agentsByID := cfg.AgentsByID()
	defaultAgent := cfg.DefaultAgent()

	// gw is a tools.GatewayRef, which is all cron.NewService needs; the
	// CronService itself is wired back in via SetCron once built, avoiding
	// a construction-order cycle between the two.
	gw := gateway.New(gateway.Config{
		Router:         router,
		Sessions:       sessionStore,
		Providers:      providerRegistry,
		Tools:          toolRegistry,
		Channels:       channelRegistry,
		Subagents:      subagentRegistry,
		Announce:       announce,
		Agents:         agentsByID,
		DefaultAgentID: defaultAgent.ID,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		Recorder:       recorder,
	})

	toolRegistry.Register(gateway.NewSpawnSubagentTool(gw))
	toolRegistry.Register(gateway.NewSendMessageTool(gw))

	cronService := cron.NewService(cronStore, sessionStore, providerRegistry, toolRegistry, gw, agentsByID, defaultAgent)
	cronService.Metrics = metrics
	cronService.Tracer = tracer
	for _, job := range cfg.Cron {
		j := job
		if err := cronService.Add(&j); err != nil {
			logger.Error(ctx, "serve: failed to register cron job", "job", j.JobID, "error", err)
		}
	}
	gw.SetCron(cronService)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("serve: start gateway: %w", err)
	}
	logger.Info(ctx, "switchboard gateway started")

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error(context.Background(), "serve: shutdown error", "error", err)
	}

	logger.Info(context.Background(), "switchboard gateway stopped gracefully")
	return nil
}
