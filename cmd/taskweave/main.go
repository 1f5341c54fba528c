package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nidhogg/taskweave/internal/agents"
	"github.com/nidhogg/taskweave/internal/api"
	"github.com/nidhogg/taskweave/internal/config"
	"github.com/nidhogg/taskweave/internal/provider"
	"github.com/nidhogg/taskweave/internal/relay"
	"github.com/nidhogg/taskweave/internal/runner"
	"github.com/nidhogg/taskweave/internal/store"
	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting taskweave...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/taskweave.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	for role, providerID := range cfg.Workflow.Bindings {
		router.Bind(role, providerID)
	}
	for role, chain := range cfg.Workflow.Fallbacks {
		router.SetFallbacks(role, chain)
	}

	// Build the agents, filling model defaults from config when a run
	// does not specify its own.
	newGen := func(role string) agents.Generator {
		base := agents.NewRouterGenerator(router, role, logger)
		return agents.GeneratorFunc(func(ctx context.Context, sys, user string, opts workflow.Options) (string, error) {
			if opts.Model == "" {
				opts.Model = cfg.Workflow.DefaultModel
			}
			if opts.MaxTokens == 0 {
				opts.MaxTokens = cfg.Workflow.MaxTokens
			}
			return base.Generate(ctx, sys, user, opts)
		})
	}
	planner := agents.NewPlanner(newGen(agents.RolePlanner), logger)
	coder := agents.NewCoder(newGen(agents.RoleCoder), logger)
	reviewer := agents.NewReviewer(newGen(agents.RoleReviewer), logger)

	orch := workflow.New(planner, coder, reviewer, cfg.Workflow.MaxIterations, logger)

	// Initialize run-history store
	var runStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		st, stErr := store.New(cfg.Database.Postgres.DSN, logger)
		if stErr != nil {
			logger.Warn("PostgreSQL unavailable, running without run history", zap.Error(stErr))
		} else {
			if mErr := st.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			runStore = st
		}
	}

	// Initialize progress relay
	var progressRelay *relay.Relay
	if cfg.Database.Redis.URL != "" {
		rl, rlErr := relay.New(cfg.Database.Redis.URL, logger)
		if rlErr != nil {
			logger.Warn("Redis unavailable, running without progress relay", zap.Error(rlErr))
		} else {
			progressRelay = rl
		}
	}

	manager := runner.NewManager(orch, runStore, progressRelay, cfg.Workflow.MaxConcurrent, logger)
	handler := api.NewHandler(manager, router, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("taskweave listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down taskweave...")
	srv.Shutdown(context.Background())
	manager.Close()
	if progressRelay != nil {
		progressRelay.Close()
	}
	if runStore != nil {
		runStore.Close()
	}
}
