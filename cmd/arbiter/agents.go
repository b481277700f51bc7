package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arbiterhq/arbiter/pkg/runtime"
)

// AgentsCmd groups catalog inspection and deployment.
type AgentsCmd struct {
	List   AgentsListCmd   `cmd:"" help:"List the agent catalog."`
	Deploy AgentsDeployCmd `cmd:"" help:"Deploy the configured specialists to the agent service."`
}

// AgentsListCmd prints the catalog without touching the remote service.
type AgentsListCmd struct{}

func (c *AgentsListCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	fmt.Println("Available agents:")
	for _, info := range rt.Orchestrator().ListAgents(ctx) {
		desc := info.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("  - %s v%s (%s): %s\n", info.Name, info.Version, info.Model, desc)
	}
	return nil
}

// AgentsDeployCmd ensures every configured specialist exists on the remote
// service and prints the resulting registry state.
type AgentsDeployCmd struct{}

func (c *AgentsDeployCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	if err := rt.Orchestrator().SeedDefinitions(ctx); err != nil {
		slog.Warn("Failed to seed agent definitions", "error", err)
	}
	if err := rt.Deploy(ctx); err != nil {
		return fmt.Errorf("failed to deploy specialists: %w", err)
	}

	fmt.Println("Deployed agents:")
	for _, info := range rt.Orchestrator().ListAgents(ctx) {
		state := "deployed"
		if !info.Deployed {
			// The supervisor deploys lazily per run over the current toolset.
			state = "on demand"
		}
		fmt.Printf("  - %s v%s (%s, %s)\n", info.Name, info.Version, info.Model, state)
	}
	return nil
}
