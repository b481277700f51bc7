package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arbiterhq/arbiter/pkg/model"
)

// MemStore is an in-memory Store for development and tests. All reads
// return copies so callers cannot mutate stored state.
type MemStore struct {
	mu          sync.RWMutex
	executions  map[string]*model.AgentExecution
	usage       []*model.TokenUsageRecord
	definitions map[string]*model.AgentDefinition
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		executions:  make(map[string]*model.AgentExecution),
		definitions: make(map[string]*model.AgentDefinition),
	}
}

// SaveExecution implements Store.
func (s *MemStore) SaveExecution(_ context.Context, exec *model.AgentExecution) error {
	if exec == nil || exec.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ExecutionID] = cloneExecution(exec)
	return nil
}

// GetExecution implements Store.
func (s *MemStore) GetExecution(_ context.Context, executionID string) (*model.AgentExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	return cloneExecution(exec), nil
}

// ListExecutions implements Store.
func (s *MemStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*model.AgentExecution, error) {
	s.mu.RLock()
	matched := make([]*model.AgentExecution, 0, len(s.executions))
	for _, exec := range s.executions {
		if matchesExecution(exec, filter) {
			matched = append(matched, cloneExecution(exec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ExecutionID > matched[j].ExecutionID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// ClaimHistory implements Store.
func (s *MemStore) ClaimHistory(ctx context.Context, claimID string) ([]*model.AgentExecution, error) {
	return s.ListExecutions(ctx, ExecutionFilter{ClaimID: claimID})
}

// SaveTokenUsage implements Store.
func (s *MemStore) SaveTokenUsage(_ context.Context, record *model.TokenUsageRecord) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.usage = append(s.usage, &clone)
	return nil
}

// TokenUsageByClaim implements Store.
func (s *MemStore) TokenUsageByClaim(_ context.Context, claimID string) ([]*model.TokenUsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.TokenUsageRecord
	for _, r := range s.usage {
		if r.ClaimID == claimID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ListTokenUsage implements Store. Records come back most recent first.
func (s *MemStore) ListTokenUsage(_ context.Context, filter TokenUsageFilter) ([]*model.TokenUsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.TokenUsageRecord
	for i := len(s.usage) - 1; i >= 0; i-- {
		r := s.usage[i]
		if !matchesUsage(r, filter) {
			continue
		}
		clone := *r
		out = append(out, &clone)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// SaveAgentDefinition implements Store.
func (s *MemStore) SaveAgentDefinition(_ context.Context, def *model.AgentDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.Name] = cloneDefinition(def)
	return nil
}

// GetAgentDefinition implements Store.
func (s *MemStore) GetAgentDefinition(_ context.Context, name string) (*model.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[name]
	if !ok {
		return nil, fmt.Errorf("agent definition %s: %w", name, ErrNotFound)
	}
	return cloneDefinition(def), nil
}

// ListAgentDefinitions implements Store.
func (s *MemStore) ListAgentDefinitions(_ context.Context, filter DefinitionFilter) ([]*model.AgentDefinition, error) {
	s.mu.RLock()
	out := make([]*model.AgentDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		if filter.ActiveOnly && !def.IsActive {
			continue
		}
		out = append(out, cloneDefinition(def))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close implements Store.
func (s *MemStore) Close() error {
	return nil
}

func matchesExecution(exec *model.AgentExecution, f ExecutionFilter) bool {
	if f.ClaimID != "" && exec.ClaimID != f.ClaimID {
		return false
	}
	if f.Status != "" && exec.Status != f.Status {
		return false
	}
	if f.WorkflowType != "" && exec.WorkflowType != f.WorkflowType {
		return false
	}
	if !f.Since.IsZero() && exec.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

func matchesUsage(r *model.TokenUsageRecord, f TokenUsageFilter) bool {
	if f.ClaimID != "" && r.ClaimID != f.ClaimID {
		return false
	}
	if f.AgentType != "" && r.AgentType != f.AgentType {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func cloneExecution(exec *model.AgentExecution) *model.AgentExecution {
	clone := *exec
	if exec.AgentSteps != nil {
		clone.AgentSteps = append([]model.AgentStepExecution(nil), exec.AgentSteps...)
	}
	if exec.AgentsInvoked != nil {
		clone.AgentsInvoked = append([]string(nil), exec.AgentsInvoked...)
	}
	if exec.Evaluation != nil {
		ev := *exec.Evaluation
		clone.Evaluation = &ev
	}
	return &clone
}

func cloneDefinition(def *model.AgentDefinition) *model.AgentDefinition {
	clone := *def
	if def.Tools != nil {
		clone.Tools = append([]model.ToolSpec(nil), def.Tools...)
	}
	if def.VersionHistory != nil {
		clone.VersionHistory = append([]model.AgentVersion(nil), def.VersionHistory...)
	}
	return &clone
}
