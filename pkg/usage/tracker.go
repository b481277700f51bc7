package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/model"
)

// RecordStore is the slice of the execution store the tracker writes to
// and reads from.
type RecordStore interface {
	SaveTokenUsage(ctx context.Context, record *model.TokenUsageRecord) error
	TokenUsageByClaim(ctx context.Context, claimID string) ([]*model.TokenUsageRecord, error)
}

// RunContext ties usage recorded under a trace back to the claim and
// execution that produced it.
type RunContext struct {
	ClaimID     string
	ExecutionID string
	SessionID   string
	UserID      string
}

// Usage is one observed LLM interaction, before pricing.
type Usage struct {
	TraceID          string
	SpanID           string
	Model            string
	Deployment       string
	AgentType        string
	Operation        string
	PromptTokens     int
	CompletionTokens int
	DurationMS       int64
	Success          bool
	Error            string
	Estimated        bool
}

// Tracker prices observed usage, attributes it to the owning claim run,
// and appends records to the store. Begin/End bracket one orchestration
// call; concurrent claims each register their own trace id.
type Tracker struct {
	store  RecordStore
	logger *slog.Logger

	mu   sync.RWMutex
	runs map[string]RunContext
}

// NewTracker builds a tracker over a record store. A nil store disables
// persistence but keeps pricing and attribution working.
func NewTracker(store RecordStore, log *slog.Logger) *Tracker {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Tracker{
		store:  store,
		logger: log,
		runs:   make(map[string]RunContext),
	}
}

// Begin registers the run context for a trace id. Usage observed under
// that trace is attributed to this claim and execution until End.
func (t *Tracker) Begin(traceID string, rc RunContext) {
	if traceID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[traceID] = rc
}

// End drops the run context for a trace id.
func (t *Tracker) End(traceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, traceID)
}

// Lookup returns the run context registered for a trace id.
func (t *Tracker) Lookup(traceID string) (RunContext, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rc, ok := t.runs[traceID]
	return rc, ok
}

// RecordTokenUsage prices one usage observation, attaches the owning run
// context, and appends it to the store. Store failures are logged and
// swallowed: a lost accounting record must not fail the claim run.
func (t *Tracker) RecordTokenUsage(ctx context.Context, u Usage) *model.TokenUsageRecord {
	rate, known := Rates(u.Model)
	if !known {
		if u.Model == "" {
			t.logger.Warn("Token usage with no model identifier, recording zero cost")
		} else {
			t.logger.Warn("Unknown model in pricing table, using fallback rates",
				"model", u.Model,
				"fallback", FallbackModel)
		}
	}
	cost := ComputeCost(rate, u.PromptTokens, u.CompletionTokens)

	record := &model.TokenUsageRecord{
		RecordID:    uuid.NewString(),
		TraceID:     u.TraceID,
		SpanID:      u.SpanID,
		ServiceType: model.ServiceAgentRuntime,

		OperationType: u.Operation,
		AgentType:     u.AgentType,
		Model:         u.Model,
		Deployment:    u.Deployment,

		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.PromptTokens + u.CompletionTokens,

		PromptCost:     cost.Prompt,
		CompletionCost: cost.Completion,
		TotalCost:      cost.Total,

		Timestamp:  time.Now().UTC(),
		DurationMS: u.DurationMS,
		Success:    u.Success,
		Error:      u.Error,
		Estimated:  u.Estimated,
	}

	if rc, ok := t.Lookup(u.TraceID); ok {
		record.ClaimID = rc.ClaimID
		record.ExecutionID = rc.ExecutionID
		record.SessionID = rc.SessionID
		record.UserID = rc.UserID
	}

	if t.store != nil {
		if err := t.store.SaveTokenUsage(ctx, record); err != nil {
			t.logger.Error("Failed to persist token usage record",
				"record_id", record.RecordID,
				"claim_id", record.ClaimID,
				"error", err)
		}
	}

	t.logger.Debug("Token usage recorded",
		"agent_type", record.AgentType,
		"operation", record.OperationType,
		"model", record.Model,
		"total_tokens", record.TotalTokens,
		"total_cost", record.TotalCost,
		"estimated", record.Estimated)

	return record
}

// ClaimSummary aggregates every usage record written for one claim.
func (t *Tracker) ClaimSummary(ctx context.Context, claimID string) (model.ClaimTokenSummary, error) {
	if t.store == nil {
		return model.SummarizeUsage(claimID, nil), nil
	}
	records, err := t.store.TokenUsageByClaim(ctx, claimID)
	if err != nil {
		return model.ClaimTokenSummary{}, err
	}
	return model.SummarizeUsage(claimID, records), nil
}
