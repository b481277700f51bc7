package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arbiterhq/arbiter/pkg/auth"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/runtime"
	"github.com/arbiterhq/arbiter/pkg/server"
	"github.com/arbiterhq/arbiter/pkg/specialist"
)

// ServeCmd starts the claim orchestration server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes and hot-reload instruction overrides."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	// The reload callback needs the catalog, which exists only after the
	// runtime is built. Watching starts after that, so the nil window is
	// never observed.
	var catalog *specialist.Catalog
	cfg, loader, err := loadConfig(ctx, cli.Config, config.WithOnChange(func(next *config.Config) {
		if catalog == nil {
			return
		}
		catalog.SetInstructionOverrides(next.Workflow.Instructions)
		slog.Info("Instruction overrides reloaded", "count", len(next.Workflow.Instructions))
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	// Apply the config file's logging section unless CLI flags or env vars
	// already chose the logging setup.
	if !loggerOverriddenByCLI(cli.LogLevel, cli.LogFile, cli.LogFormat) {
		cleanup, err := initLoggerFromConfig(cfg.Logging)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
	}

	// Override port if explicitly specified
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()
	catalog = rt.Catalog()

	// Start config watching if enabled
	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	// Seeding writes the catalog defaults into the store so version bumps
	// have a baseline; a failure degrades version history, not processing.
	if err := rt.Orchestrator().SeedDefinitions(ctx); err != nil {
		slog.Warn("Failed to seed agent definitions", "error", err)
	}

	if err := rt.Deploy(ctx); err != nil {
		return fmt.Errorf("failed to deploy specialists: %w", err)
	}

	opts := []server.Option{server.WithObservability(rt.Observability())}
	if cfg.Auth.Enabled {
		validator, err := auth.NewJWTValidator(ctx, auth.ValidatorConfig{
			JWKSURL:  cfg.Auth.JWKSURL,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize JWT validation: %w", err)
		}
		opts = append(opts, server.WithAuthValidator(validator))
	}

	srv := server.New(cfg.Server, rt.Orchestrator(), opts...)

	// Print startup info
	blueColor := "\033[38;2;59;130;246m"
	resetColor := "\033[0m"
	fmt.Printf("\n%sArbiter claim orchestration server ready!%s\n", blueColor, resetColor)
	fmt.Printf("   API:         http://%s/v1\n", srv.Address())
	fmt.Printf("   Health:      http://%s/healthz\n", srv.Address())
	if rt.Observability().MetricsEnabled() {
		fmt.Printf("   Metrics:     http://%s/metrics\n", srv.Address())
	}
	if cfg.Store.Backend == "memory" {
		fmt.Printf("   Storage:     in-memory (not persisted)\n")
	} else {
		fmt.Printf("   Storage:     %s\n", cfg.Store.Backend)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.ExporterType, cfg.Observability.Tracing.EndpointURL)
	}
	if cfg.Auth.Enabled {
		fmt.Printf("   Auth:        JWT (%s)\n", cfg.Auth.JWKSURL)
	}

	workflow := "standard"
	if cfg.Workflow.Analytics {
		workflow = "with analytics"
	}
	fmt.Printf("   Workflow:    %s\n", workflow)

	fmt.Println("\n   Agents:")
	for _, info := range rt.Orchestrator().ListAgents(ctx) {
		state := "deployed"
		if !info.Deployed {
			state = "on demand"
		}
		fmt.Printf("     - %s v%s (%s, %s)\n", info.Name, info.Version, info.Model, state)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Start server (blocks until context is cancelled)
	return srv.Start(ctx)
}
