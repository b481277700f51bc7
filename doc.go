// Package arbiter orchestrates insurance claim reviews across a team of
// remote AI specialists.
//
// A supervisor agent delegates to domain specialists (policy check, damage
// assessment, fraud signals, claims data analytics, communication drafting)
// exposed to it as tools. Specialist calls never fail the supervisor's run:
// every failure mode is converted into a structured tool response, and the
// analytics specialist falls back to a direct SQL source when the remote
// data tool soft-fails.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/arbiterhq/arbiter/cmd/arbiter@latest
//
// Point it at an agent service and process a claim:
//
//	export AGENT_SERVICE_ENDPOINT=https://agents.example.com
//	export ARBITER_API_KEY=...
//	arbiter process claim.json
//
// Or run the REST server:
//
//	arbiter serve --config arbiter.yaml
//
// # Using as a Go Library
//
// The runtime package assembles the whole component graph from a config:
//
//	import (
//	    "github.com/arbiterhq/arbiter/pkg/config"
//	    "github.com/arbiterhq/arbiter/pkg/runtime"
//	)
//
//	cfg := config.Default()
//	cfg.Runtime.Endpoint = "https://agents.example.com"
//	rt, err := runtime.New(ctx, cfg)
//	...
//	result, err := rt.Orchestrator().ProcessClaim(ctx, claim)
//
// Individual packages can also be wired directly; see pkg/orchestrator for
// the workflow core and pkg/agentruntime for the agent service client.
package arbiter
