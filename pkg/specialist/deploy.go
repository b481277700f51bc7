package specialist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/logger"
)

// Deployer creates or rediscovers agents on the remote service and
// registers them. Deployment runs once at startup and again when
// definitions change; a deployment failure is fatal to the caller, there
// is no silent degradation.
type Deployer struct {
	client   agentruntime.Client
	catalog  *Catalog
	registry *Registry
	logger   *slog.Logger
}

// NewDeployer builds a deployer.
func NewDeployer(client agentruntime.Client, catalog *Catalog, reg *Registry, log *slog.Logger) *Deployer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Deployer{client: client, catalog: catalog, registry: reg, logger: log}
}

// DeploySpecialists creates or rediscovers every specialist of the chosen
// workflow variant in parallel and registers each one. The first failure
// cancels the remaining deployments and is returned.
func (d *Deployer) DeploySpecialists(ctx context.Context, analytics bool) error {
	defs := d.catalog.Specialists(analytics)

	existing, err := d.client.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list remote agents: %w", err)
	}
	byName := make(map[string]agentruntime.Agent, len(existing))
	for _, a := range existing {
		byName[a.Name] = a
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, def := range defs {
		g.Go(func() error {
			found, ok := byName[def.Name]
			agent, err := d.ensure(gctx, def, found, ok)
			if err != nil {
				return fmt.Errorf("failed to deploy specialist %s: %w", def.Name, err)
			}
			return d.registry.Register(Registration{
				Name:     def.Name,
				RemoteID: agent.ID,
				Toolset:  def.Tools,
			}, true)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	d.logger.Info("Specialists deployed",
		"count", len(defs),
		"analytics", analytics)
	return nil
}

// Ensure creates or rediscovers a single agent by its stable name and
// returns the remote agent. Used for the supervisor, whose toolset is
// recomputed per call.
func (d *Deployer) Ensure(ctx context.Context, def Definition) (agentruntime.Agent, error) {
	existing, err := d.client.ListAgents(ctx)
	if err != nil {
		return agentruntime.Agent{}, fmt.Errorf("failed to list remote agents: %w", err)
	}
	for _, a := range existing {
		if a.Name == def.Name {
			return d.ensure(ctx, def, a, true)
		}
	}
	return d.ensure(ctx, def, agentruntime.Agent{}, false)
}

// ensure reuses found when its toolset and instructions still match the
// definition; otherwise it deletes the stale agent and creates a fresh
// one.
func (d *Deployer) ensure(ctx context.Context, def Definition, found agentruntime.Agent, ok bool) (agentruntime.Agent, error) {
	if ok {
		if toolsMatch(found.Tools, def.Tools) && instructionsMatch(found.Instructions, def.Instructions) {
			d.logger.Debug("Reusing remote agent",
				"agent", def.Name,
				"agent_id", found.ID)
			return found, nil
		}
		d.logger.Info("Remote agent is stale, recreating",
			"agent", def.Name,
			"agent_id", found.ID)
		if err := d.client.DeleteAgent(ctx, found.ID); err != nil {
			return agentruntime.Agent{}, fmt.Errorf("failed to delete stale agent: %w", err)
		}
	}

	created, err := d.client.CreateAgent(ctx, agentruntime.AgentSpec{
		Name:         def.Name,
		Model:        def.Model,
		Instructions: def.Instructions,
		Tools:        def.Tools,
		Temperature:  def.Temperature,
	})
	if err != nil {
		return agentruntime.Agent{}, fmt.Errorf("failed to create agent: %w", err)
	}
	d.logger.Info("Remote agent created",
		"agent", def.Name,
		"agent_id", created.ID,
		"model", def.Model)
	return created, nil
}

// toolsMatch compares two toolsets by tool identity (type plus function
// name), ignoring order. A data-analytics agent that lost its fabric
// connector fails this check and gets recreated.
func toolsMatch(a, b []agentruntime.AgentTool) bool {
	return strings.Join(toolIDs(a), ",") == strings.Join(toolIDs(b), ",")
}

func toolIDs(tools []agentruntime.AgentTool) []string {
	ids := make([]string, 0, len(tools))
	for _, t := range tools {
		id := t.Type
		if t.Function != nil {
			id += ":" + t.Function.Name
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// instructionsMatch treats a service that omits instructions in listings
// as matching, so reuse does not depend on optional response fields.
func instructionsMatch(remote, local string) bool {
	return remote == "" || remote == local
}
