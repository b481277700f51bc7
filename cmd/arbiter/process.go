package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/orchestrator"
	"github.com/arbiterhq/arbiter/pkg/runtime"
	"github.com/arbiterhq/arbiter/pkg/server"
)

// ProcessCmd runs the full supervisor workflow for one claim and prints
// the result as JSON.
type ProcessCmd struct {
	ClaimFile string `arg:"" help:"Path to a claim JSON file." type:"path"`
	Analytics *bool  `negatable:"" help:"Include the claims data analyst (overrides config)."`
}

func (c *ProcessCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Cancelling claim run...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if c.Analytics != nil {
		cfg.Workflow.Analytics = *c.Analytics
	}

	data, err := os.ReadFile(c.ClaimFile)
	if err != nil {
		return fmt.Errorf("failed to read claim file: %w", err)
	}
	var claim model.Claim
	if err := json.Unmarshal(data, &claim); err != nil {
		return fmt.Errorf("failed to parse claim file: %w", err)
	}
	if err := model.ValidateClaim(claim); err != nil {
		return fmt.Errorf("invalid claim: %w", err)
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

	result, err := rt.Orchestrator().ProcessClaim(ctx, claim)
	if err != nil {
		return err
	}

	out := struct {
		*orchestrator.ClaimResult
		Decision string `json:"decision,omitempty"`
	}{result, server.ExtractDecision(result.FinalSynthesis)}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(encoded))

	if result.Status == model.StatusFailed {
		return fmt.Errorf("claim run for %s ended in failure", claim.ClaimID)
	}
	return nil
}
