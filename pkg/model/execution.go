package model

import "time"

// ExecutionStatus is the terminal state of an execution or a single step.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
)

// Workflow identifiers for AgentExecution.WorkflowType.
const (
	WorkflowStandard      = "standard"
	WorkflowWithAnalytics = "with_analytics"
)

// TokenUsage is the prompt/completion/total token triple reported for one
// LLM interaction.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// AgentStepExecution records one specialist invocation inside a workflow
// run.
type AgentStepExecution struct {
	AgentType    string          `json:"agent_type"`
	AgentVersion string          `json:"agent_version,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	DurationMS   int64           `json:"duration_ms"`
	InputData    string          `json:"input_data,omitempty"`
	OutputData   string          `json:"output_data,omitempty"`
	TokenUsage   TokenUsage      `json:"token_usage"`
	Cost         float64         `json:"cost"`
	Status       ExecutionStatus `json:"status"`
}

// AgentExecution is the aggregate record of one workflow run. It is
// assembled once at the end of the run and immutable after persistence.
type AgentExecution struct {
	ExecutionID   string               `json:"execution_id"`
	ClaimID       string               `json:"claim_id"`
	WorkflowType  string               `json:"workflow_type"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   time.Time            `json:"completed_at"`
	DurationMS    int64                `json:"duration_ms"`
	Status        ExecutionStatus      `json:"status"`
	AgentSteps    []AgentStepExecution `json:"agent_steps"`
	TotalTokens   int                  `json:"total_tokens"`
	TotalCost     float64              `json:"total_cost"`
	AgentsInvoked []string             `json:"agents_invoked"`
	FinalResult   string               `json:"final_result,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	Evaluation    *EvaluationResult    `json:"evaluation,omitempty"`
}

// Totalize recomputes TotalTokens, TotalCost, and AgentsInvoked from the
// recorded steps. TotalTokens is the sum of step totals; AgentsInvoked is
// the distinct agent_type set in first-seen order.
func (e *AgentExecution) Totalize() {
	e.TotalTokens = 0
	e.TotalCost = 0
	seen := make(map[string]bool, len(e.AgentSteps))
	e.AgentsInvoked = e.AgentsInvoked[:0]
	for _, step := range e.AgentSteps {
		e.TotalTokens += step.TokenUsage.TotalTokens
		e.TotalCost += step.Cost
		if !seen[step.AgentType] {
			seen[step.AgentType] = true
			e.AgentsInvoked = append(e.AgentsInvoked, step.AgentType)
		}
	}
}
