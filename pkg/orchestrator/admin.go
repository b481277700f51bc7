package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/store"
)

// AgentInfo is one row of the agent listing: the catalog definition joined
// with its deployment state.
type AgentInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Model       string `json:"model"`
	ToolName    string `json:"tool_name,omitempty"`
	Deployed    bool   `json:"deployed"`
}

// ListAgents returns every agent the runtime knows: the supervisor first,
// then the specialists in workflow order.
func (o *Orchestrator) ListAgents(ctx context.Context) []AgentInfo {
	infos := []AgentInfo{{
		Name:        specialist.Supervisor,
		DisplayName: specialist.DisplayName(specialist.Supervisor),
		Version:     specialist.DefaultVersion,
		Deployed:    o.registry.Available(specialist.Supervisor),
	}}

	for _, def := range o.catalog.Specialists(true) {
		infos = append(infos, AgentInfo{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Description: def.Description,
			Version:     def.Version,
			Model:       def.Model,
			ToolName:    def.ToolName(),
			Deployed:    o.registry.Available(def.Name),
		})
	}
	return infos
}

// SeedDefinitions writes a stored definition for every specialist that does
// not have one yet, so version history starts from the catalog baseline.
func (o *Orchestrator) SeedDefinitions(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	for _, def := range o.catalog.Specialists(true) {
		_, err := o.store.GetAgentDefinition(ctx, def.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to read definition for %s: %w", def.Name, err)
		}
		if err := o.store.SaveAgentDefinition(ctx, seedDefinition(def)); err != nil {
			return fmt.Errorf("failed to seed definition for %s: %w", def.Name, err)
		}
	}
	return nil
}

// BumpAgentVersion replaces a specialist's prompt, model, or temperature
// under a strictly greater version. The stored definition keeps the full
// history; the catalog override makes the next deployment pick it up.
func (o *Orchestrator) BumpAgentVersion(ctx context.Context, name string, next model.AgentVersion) (*model.AgentDefinition, error) {
	if name == specialist.Supervisor {
		return nil, fmt.Errorf("the supervisor is not versioned; only specialists can be bumped")
	}
	catalogDef, ok := o.catalog.Specialist(name)
	if !ok {
		return nil, &specialist.LookupError{Name: name, Reason: specialist.LookupUnknown}
	}
	if o.store == nil {
		return nil, fmt.Errorf("agent versioning requires a store")
	}

	def, err := o.store.GetAgentDefinition(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		def = seedDefinition(catalogDef)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load definition for %s: %w", name, err)
	}

	if err := def.BumpVersion(next); err != nil {
		return nil, err
	}
	if err := o.store.SaveAgentDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to save definition for %s: %w", name, err)
	}

	o.catalog.SetOverride(name, specialist.Override{
		Version:      def.Version,
		Instructions: def.Instructions,
		Model:        def.ModelDeployment,
		Temperature:  def.Temperature,
	})

	o.logger.Info("Agent definition bumped",
		"agent", name,
		"version", def.Version)
	return def, nil
}

// GetAgentDefinition returns the stored definition with its version
// history, seeding from the catalog when none was stored yet.
func (o *Orchestrator) GetAgentDefinition(ctx context.Context, name string) (*model.AgentDefinition, error) {
	catalogDef, ok := o.catalog.Specialist(name)
	if !ok {
		return nil, &specialist.LookupError{Name: name, Reason: specialist.LookupUnknown}
	}
	if o.store == nil {
		return seedDefinition(catalogDef), nil
	}
	def, err := o.store.GetAgentDefinition(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return seedDefinition(catalogDef), nil
	}
	return def, err
}

func seedDefinition(def specialist.Definition) *model.AgentDefinition {
	now := time.Now().UTC()
	tools := make([]model.ToolSpec, 0, len(def.Tools))
	for _, t := range def.Tools {
		spec := model.ToolSpec{Type: t.Type}
		if t.Function != nil {
			spec.Name = t.Function.Name
			spec.Description = t.Function.Description
			spec.Parameters = t.Function.Parameters
		}
		tools = append(tools, spec)
	}
	return &model.AgentDefinition{
		Name:            def.Name,
		Version:         def.Version,
		Instructions:    def.Instructions,
		ModelDeployment: def.Model,
		Temperature:     def.Temperature,
		Tools:           tools,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// GetExecution returns one persisted execution record.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID string) (*model.AgentExecution, error) {
	if o.store == nil {
		return nil, store.ErrNotFound
	}
	return o.store.GetExecution(ctx, executionID)
}

// ListExecutions returns persisted executions matching the filter, newest
// first.
func (o *Orchestrator) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*model.AgentExecution, error) {
	if o.store == nil {
		return nil, nil
	}
	return o.store.ListExecutions(ctx, filter)
}

// ClaimHistory returns every execution recorded for a claim, newest first.
func (o *Orchestrator) ClaimHistory(ctx context.Context, claimID string) ([]*model.AgentExecution, error) {
	if o.store == nil {
		return nil, nil
	}
	return o.store.ClaimHistory(ctx, claimID)
}

// ClaimTokenSummary aggregates every usage record written for one claim.
func (o *Orchestrator) ClaimTokenSummary(ctx context.Context, claimID string) (model.ClaimTokenSummary, error) {
	return o.tracker.ClaimSummary(ctx, claimID)
}

// TokenAnalytics is the aggregate usage report over a trailing window.
type TokenAnalytics struct {
	AgentType        string                          `json:"agent_type,omitempty"`
	DaysBack         int                             `json:"days_back"`
	TotalTokens      int                             `json:"total_tokens"`
	TotalCost        float64                         `json:"total_cost"`
	TotalCalls       int                             `json:"total_calls"`
	EstimatedRecords int                             `json:"estimated_records"`
	ByAgent          map[string]model.UsageBreakdown `json:"by_agent"`
	ByOperation      map[string]model.UsageBreakdown `json:"by_operation"`
	ByModel          map[string]model.UsageBreakdown `json:"by_model"`
}

// DefaultAnalyticsWindow is the trailing window applied when the caller
// does not give one.
const DefaultAnalyticsWindow = 30

// TokenAnalytics aggregates usage records over the last daysBack days,
// optionally restricted to one agent type.
func (o *Orchestrator) TokenAnalytics(ctx context.Context, agentType string, daysBack int) (*TokenAnalytics, error) {
	if o.store == nil {
		return nil, fmt.Errorf("token analytics requires a store")
	}
	if daysBack <= 0 {
		daysBack = DefaultAnalyticsWindow
	}

	records, err := o.store.ListTokenUsage(ctx, store.TokenUsageFilter{
		AgentType: agentType,
		Since:     time.Now().AddDate(0, 0, -daysBack),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list token usage: %w", err)
	}

	analytics := &TokenAnalytics{
		AgentType:   agentType,
		DaysBack:    daysBack,
		ByAgent:     make(map[string]model.UsageBreakdown),
		ByOperation: make(map[string]model.UsageBreakdown),
		ByModel:     make(map[string]model.UsageBreakdown),
	}
	for _, r := range records {
		analytics.TotalTokens += r.TotalTokens
		analytics.TotalCost += r.TotalCost
		analytics.TotalCalls++
		if r.Estimated {
			analytics.EstimatedRecords++
		}
		bump(analytics.ByAgent, orUnknown(r.AgentType), r)
		bump(analytics.ByOperation, orUnknown(r.OperationType), r)
		bump(analytics.ByModel, orUnknown(r.Model), r)
	}
	return analytics, nil
}

func bump(m map[string]model.UsageBreakdown, key string, r *model.TokenUsageRecord) {
	b := m[key]
	b.TotalTokens += r.TotalTokens
	b.TotalCost += r.TotalCost
	b.Calls++
	m[key] = b
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
