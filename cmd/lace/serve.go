package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lacekit/lace/internal/agent"
	"github.com/lacekit/lace/internal/agent/providers"
	"github.com/lacekit/lace/internal/approvals"
	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/compaction"
	"github.com/lacekit/lace/internal/config"
	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/server"
	"github.com/lacekit/lace/internal/sessions"
	"github.com/lacekit/lace/internal/tasks"
	"github.com/lacekit/lace/internal/threads"
	"github.com/lacekit/lace/internal/tools"
	"github.com/lacekit/lace/internal/tools/builtin"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lace runtime and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default: $LACE_DIR/config.yaml)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	if err := cfg.EnsureHome(); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	var store persistence.Store
	sqlStore, err := persistence.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		// Degraded mode: keep serving from memory, but nothing survives exit.
		logger.Warn("database unavailable, running with in-memory persistence; ALL STATE WILL BE LOST ON EXIT",
			"path", cfg.Database.Path, "error", err)
		store = persistence.NewMemoryStore()
	} else {
		defer sqlStore.Close()
		store = sqlStore
	}

	events := bus.New(logger)
	metrics.ObserveBus(events.Stats)

	strategies := compaction.NewRegistry()
	strategies.Register(compaction.TrimToolResults{})

	threadStore := threads.NewStore(store, strategies, events, logger)
	threadStore.SetMetrics(metrics)

	registry := tools.NewRegistry()
	if err := builtin.Register(registry, builtin.Config{
		Workspace:      cfg.Tools.Workspace,
		MaxReadBytes:   cfg.Tools.MaxReadBytes,
		MaxOutputBytes: cfg.Tools.MaxOutputBytes,
	}); err != nil {
		return err
	}

	coordinator := approvals.NewCoordinator(threadStore, store, events, logger)
	coordinator.SetMetrics(metrics)
	if cfg.Agent.ApprovalTimeoutSeconds > 0 {
		coordinator.SetTimeout(time.Duration(cfg.Agent.ApprovalTimeoutSeconds) * time.Second)
	}
	executor := tools.NewExecutor(registry, coordinator, logger)
	executor.SetMetrics(metrics)

	manager := sessions.NewManager(sessions.Config{
		Persist:            store,
		Threads:            threadStore,
		Events:             events,
		Executor:           executor,
		Logger:             logger,
		Metrics:            metrics,
		SystemPrompt:       cfg.Agent.SystemPrompt,
		CompactionStrategy: cfg.Agent.CompactionStrategy,
	})
	if err := registerProviders(manager, strategies, cfg); err != nil {
		return err
	}

	taskManager := tasks.NewManager(store, events, logger)
	taskManager.SetAgents(manager)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	manager.Start(ctx)
	defer manager.StopAll()

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		Logger:         logger,
		Bus:            events,
		Threads:        threadStore,
		Sessions:       manager,
		Tasks:          taskManager,
		Approvals:      coordinator,
		Persist:        store,
		Metrics:        metrics,
	})

	logger.Info("lace runtime starting",
		"addr", cfg.Server.Addr,
		"db", cfg.Database.Path,
		"default_provider", cfg.Providers.Default)
	return srv.Start(ctx)
}

// registerProviders wires every configured backend; the summarize strategy
// registers once a provider exists to drive it.
func registerProviders(manager *sessions.Manager, strategies *compaction.Registry, cfg *config.Config) error {
	var summarizing agent.Provider

	if cfg.Providers.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.Providers.Anthropic.APIKey,
			BaseURL:      cfg.Providers.Anthropic.BaseURL,
			DefaultModel: cfg.Providers.Anthropic.Model,
		})
		if err != nil {
			return err
		}
		manager.RegisterProvider(p)
		summarizing = p
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.Providers.OpenAI.APIKey,
			BaseURL:      cfg.Providers.OpenAI.BaseURL,
			DefaultModel: cfg.Providers.OpenAI.Model,
		})
		if err != nil {
			return err
		}
		manager.RegisterProvider(p)
		if summarizing == nil || cfg.Providers.Default == "openai" {
			summarizing = p
		}
	}

	if _, ok := manager.Provider(cfg.Providers.Default); !ok {
		return fmt.Errorf("default provider %q has no API key configured", cfg.Providers.Default)
	}

	if summarizing != nil {
		summarizer := agent.NewProviderSummarizer(summarizing, "")
		strategies.Register(compaction.NewSummarize(summarizer, threads.NewEventID))
	}
	return nil
}
