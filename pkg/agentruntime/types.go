// Package agentruntime is the client side of the remote LLM-agent service:
// agents, threads, runs, and the driver that pumps a run to a terminal
// state with manual tool dispatch.
package agentruntime

import (
	"encoding/json"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// RunStatus is the lifecycle state of a run on the remote service.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
)

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Agent is a remote agent as the service reports it.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Model        string      `json:"model"`
	Instructions string      `json:"instructions,omitempty"`
	Tools        []AgentTool `json:"tools,omitempty"`
	Temperature  float64     `json:"temperature,omitempty"`
	CreatedAt    int64       `json:"created_at,omitempty"`
}

// AgentSpec is the payload for creating a remote agent.
type AgentSpec struct {
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions"`
	Tools        []AgentTool       `json:"tools,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AgentTool declares one tool on a remote agent. Function tools carry a
// schema; connector tools such as the Fabric data agent carry their own
// configuration block instead.
type AgentTool struct {
	Type     string         `json:"type"`
	Function *FunctionSpec  `json:"function,omitempty"`
	Fabric   map[string]any `json:"fabric_dataagent,omitempty"`
}

// FunctionSpec is the declared contract of a function tool.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolTypeFunction and ToolTypeFabric are the tool types this runtime
// deploys.
const (
	ToolTypeFunction = "function"
	ToolTypeFabric   = "fabric_dataagent"
)

// Thread is an opaque conversation handle.
type Thread struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// Message is one entry in a thread.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Role      string         `json:"role"`
	Content   MessageContent `json:"content"`
	CreatedAt int64          `json:"created_at,omitempty"`
}

// MessageContent is a message payload. The service returns either a plain
// string or a list of typed content parts; both decode into the parts
// form.
type MessageContent []ContentPart

// ContentPart is one typed segment of a message payload.
type ContentPart struct {
	Type string       `json:"type"`
	Text *TextContent `json:"text,omitempty"`
}

// TextContent is the body of a type=text content part.
type TextContent struct {
	Value       string            `json:"value"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*c = MessageContent{{Type: "text", Text: &TextContent{Value: plain}}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("message content is neither a string nor a part list: %w", err)
	}
	*c = MessageContent(parts)
	return nil
}

// TextBody returns the message text: all type=text part values joined with
// newlines. Annotations and non-text parts are dropped.
func (c MessageContent) TextBody() string {
	var out string
	for _, part := range c {
		if part.Type != "text" || part.Text == nil {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += part.Text.Value
	}
	return out
}

// TextMessage builds a plain-text message, used when the driver has to
// synthesize an assistant message itself.
func TextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: MessageContent{{Type: "text", Text: &TextContent{Value: text}}},
	}
}

// Run is a single agent invocation against a thread.
type Run struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id,omitempty"`
	AgentID        string          `json:"assistant_id,omitempty"`
	Status         RunStatus       `json:"status"`
	Usage          *RunUsage       `json:"usage,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	CreatedAt      int64           `json:"created_at,omitempty"`
	CompletedAt    int64           `json:"completed_at,omitempty"`
}

// RunUsage is the cumulative token usage the service reports for a run.
type RunUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero reports whether no usage was recorded.
func (u RunUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// RunError is the service's terminal error report for a run.
type RunError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RequiredAction carries the tool calls the service is waiting on.
type RequiredAction struct {
	Type              string                   `json:"type"`
	SubmitToolOutputs *SubmitToolOutputsAction `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputsAction lists the pending tool calls for one
// requires_action round.
type SubmitToolOutputsAction struct {
	ToolCalls []ToolCallRef `json:"tool_calls"`
}

// ToolCallRef is one pending tool call surfaced by the service.
type ToolCallRef struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function the model wants invoked, with its raw
// JSON argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutput is one submitted tool result.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToolChoice constrains which tool the run may use. A nil ToolChoice
// leaves the choice to the model.
type ToolChoice struct {
	Type     string              `json:"type"`
	Function *ToolChoiceFunction `json:"function,omitempty"`
}

// ToolChoiceFunction names the forced function.
type ToolChoiceFunction struct {
	Name string `json:"name"`
}

// ForceFunction builds a tool choice requiring one named function tool.
func ForceFunction(name string) *ToolChoice {
	return &ToolChoice{Type: ToolTypeFunction, Function: &ToolChoiceFunction{Name: name}}
}

// ForceToolType builds a tool choice requiring a tool by type, used for
// connector tools that have no function name.
func ForceToolType(toolType string) *ToolChoice {
	return &ToolChoice{Type: toolType}
}

// ToolResultRecord is the in-memory record of one dispatched tool call,
// in the order the service surfaced it.
type ToolResultRecord struct {
	FunctionName string `json:"function_name"`
	CallID       string `json:"call_id"`
	Arguments    string `json:"arguments"`
	Output       string `json:"output"`
}

// RunResult is everything one driver turn produced.
type RunResult struct {
	Messages    []Message
	Usage       RunUsage
	ToolResults []ToolResultRecord
	ThreadID    string
	RunID       string
	Status      RunStatus
	// FailureReason is set when Status is failed, cancelled, or expired.
	FailureReason string
}

// Failed reports whether the run ended in a non-success terminal state.
func (r *RunResult) Failed() bool {
	return r.Status != StatusCompleted
}

// LastAssistantText returns the content of the last assistant message, or
// the empty string when none was produced.
func (r *RunResult) LastAssistantText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			return r.Messages[i].Content.TextBody()
		}
	}
	return ""
}
