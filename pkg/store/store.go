// Package store persists execution records, token-usage records, and agent
// definitions. Three backends implement the same Store interface: an
// in-memory map store for development and tests, a SQL store supporting
// PostgreSQL, MySQL, and SQLite via database/sql, and a MongoDB document
// store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arbiterhq/arbiter/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist. Callers
// dispatch on it with errors.Is.
var ErrNotFound = errors.New("record not found")

// ExecutionFilter narrows ListExecutions. Zero-valued fields match
// everything.
type ExecutionFilter struct {
	ClaimID      string
	Status       model.ExecutionStatus
	WorkflowType string
	Since        time.Time
	Limit        int
}

// TokenUsageFilter narrows ListTokenUsage. Zero-valued fields match
// everything.
type TokenUsageFilter struct {
	ClaimID   string
	AgentType string
	Since     time.Time
	Limit     int
}

// DefinitionFilter narrows ListAgentDefinitions.
type DefinitionFilter struct {
	ActiveOnly bool
}

// Store is the persistence boundary for the runtime. Executions and token
// usage records are append-only; agent definitions are upserted so version
// bumps replace the stored row.
type Store interface {
	// SaveExecution persists a completed workflow execution. Records are
	// immutable once written.
	SaveExecution(ctx context.Context, exec *model.AgentExecution) error

	// GetExecution returns the execution with the given id, or ErrNotFound.
	GetExecution(ctx context.Context, executionID string) (*model.AgentExecution, error)

	// ListExecutions returns executions matching the filter, most recent
	// first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*model.AgentExecution, error)

	// ClaimHistory returns every execution recorded for a claim, most
	// recent first.
	ClaimHistory(ctx context.Context, claimID string) ([]*model.AgentExecution, error)

	// SaveTokenUsage appends one token-usage accounting record.
	SaveTokenUsage(ctx context.Context, record *model.TokenUsageRecord) error

	// TokenUsageByClaim returns every usage record for a claim in
	// chronological order.
	TokenUsageByClaim(ctx context.Context, claimID string) ([]*model.TokenUsageRecord, error)

	// ListTokenUsage returns usage records matching the filter, most recent
	// first.
	ListTokenUsage(ctx context.Context, filter TokenUsageFilter) ([]*model.TokenUsageRecord, error)

	// SaveAgentDefinition inserts or replaces a definition keyed by name.
	SaveAgentDefinition(ctx context.Context, def *model.AgentDefinition) error

	// GetAgentDefinition returns the definition with the given name, or
	// ErrNotFound.
	GetAgentDefinition(ctx context.Context, name string) (*model.AgentDefinition, error)

	// ListAgentDefinitions returns stored definitions sorted by name.
	ListAgentDefinitions(ctx context.Context, filter DefinitionFilter) ([]*model.AgentDefinition, error)

	// Close releases backend resources.
	Close() error
}
