package model

import "time"

// Service and operation identifiers recorded on TokenUsageRecords.
const (
	ServiceAgentRuntime = "agent_runtime"

	OperationRun        = "run"
	OperationEvaluation = "evaluation"
	OperationEstimate   = "estimate"
)

// TokenUsageRecord is one append-only accounting entry for a single LLM
// interaction.
type TokenUsageRecord struct {
	RecordID    string `json:"record_id"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ClaimID     string `json:"claim_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
	SpanID      string `json:"span_id,omitempty"`

	ServiceType   string `json:"service_type"`
	OperationType string `json:"operation_type"`
	AgentType     string `json:"agent_type,omitempty"`
	Model         string `json:"model"`
	Deployment    string `json:"deployment,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	PromptCost     float64 `json:"prompt_cost"`
	CompletionCost float64 `json:"completion_cost"`
	TotalCost      float64 `json:"total_cost"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`

	// Estimated marks records whose token counts were derived from message
	// text rather than reported by the service.
	Estimated bool `json:"estimated,omitempty"`
}

// UsageBreakdown is one aggregation bucket in a claim summary.
type UsageBreakdown struct {
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	Calls       int     `json:"calls"`
}

// ClaimTokenSummary aggregates every usage record written for one claim.
type ClaimTokenSummary struct {
	ClaimID     string                    `json:"claim_id"`
	TotalTokens int                       `json:"total_tokens"`
	TotalCost   float64                   `json:"total_cost"`
	ByAgent     map[string]UsageBreakdown `json:"by_agent"`
	ByOperation map[string]UsageBreakdown `json:"by_operation"`
	TotalCalls  int                       `json:"total_calls"`
}

// SummarizeUsage folds usage records into a per-claim summary.
func SummarizeUsage(claimID string, records []*TokenUsageRecord) ClaimTokenSummary {
	summary := ClaimTokenSummary{
		ClaimID:     claimID,
		ByAgent:     make(map[string]UsageBreakdown),
		ByOperation: make(map[string]UsageBreakdown),
	}
	for _, r := range records {
		summary.TotalTokens += r.TotalTokens
		summary.TotalCost += r.TotalCost
		summary.TotalCalls++

		agent := r.AgentType
		if agent == "" {
			agent = "unknown"
		}
		a := summary.ByAgent[agent]
		a.TotalTokens += r.TotalTokens
		a.TotalCost += r.TotalCost
		a.Calls++
		summary.ByAgent[agent] = a

		op := r.OperationType
		if op == "" {
			op = "unknown"
		}
		o := summary.ByOperation[op]
		o.TotalTokens += r.TotalTokens
		o.TotalCost += r.TotalCost
		o.Calls++
		summary.ByOperation[op] = o
	}
	return summary
}
