package evaluation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
)

type scriptedRunner struct {
	response string
	failed   bool
	runs     int
	lastMsg  string
	lastOp   string
}

func (s *scriptedRunner) Run(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error) {
	s.runs++
	s.lastMsg = p.Message
	s.lastOp = p.Operation
	if s.failed {
		return &agentruntime.RunResult{
			Status:        agentruntime.StatusFailed,
			FailureReason: "model overloaded",
		}, nil
	}
	return &agentruntime.RunResult{
		Messages: []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, s.response)},
		Status:   agentruntime.StatusCompleted,
	}, nil
}

type agentCRUD struct {
	mu      sync.Mutex
	agents  []agentruntime.Agent
	creates int
}

func (f *agentCRUD) CreateAgent(ctx context.Context, spec agentruntime.AgentSpec) (agentruntime.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	a := agentruntime.Agent{ID: fmt.Sprintf("agent_%d", f.creates), Name: spec.Name}
	f.agents = append(f.agents, a)
	return a, nil
}

func (f *agentCRUD) ListAgents(ctx context.Context) ([]agentruntime.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentruntime.Agent(nil), f.agents...), nil
}

func (f *agentCRUD) DeleteAgent(ctx context.Context, agentID string) error { return nil }

func (f *agentCRUD) CreateThread(ctx context.Context) (agentruntime.Thread, error) {
	return agentruntime.Thread{}, fmt.Errorf("not scripted")
}

func (f *agentCRUD) PostMessage(ctx context.Context, threadID, role, content string) (agentruntime.Message, error) {
	return agentruntime.Message{}, fmt.Errorf("not scripted")
}

func (f *agentCRUD) CreateRun(ctx context.Context, threadID string, opts agentruntime.RunOptions) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *agentCRUD) GetRun(ctx context.Context, threadID, runID string) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *agentCRUD) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []agentruntime.ToolOutput) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *agentCRUD) CancelRun(ctx context.Context, threadID, runID string) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *agentCRUD) ListMessages(ctx context.Context, threadID string, opts agentruntime.ListMessagesOptions) ([]agentruntime.Message, error) {
	return nil, fmt.Errorf("not scripted")
}

func evalRequest() Request {
	return Request{
		ExecutionID: "exec_1",
		ClaimID:     "CLM-1",
		Question:    "Assess claim CLM-1",
		Answer:      "ASSESSMENT_COMPLETE\n\nPRIMARY RECOMMENDATION: APPROVE (confidence: HIGH)",
		Context:     []string{"claim_type: Major Collision", "state: CA"},
	}
}

func TestAgentEvaluatorScoresJSONResponse(t *testing.T) {
	runner := &scriptedRunner{
		response: `Here are the scores: {"groundedness": 4, "relevance": 5, "coherence": 4, "fluency": 5, "reasoning": "well supported"}`,
	}
	client := &agentCRUD{}
	ev := NewAgentEvaluator(client, runner, "gpt-4o-mini", nil)

	got, err := ev.Evaluate(context.Background(), evalRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Groundedness != 4 || got.Relevance != 5 || got.Coherence != 4 || got.Fluency != 5 {
		t.Errorf("scores = %+v", got)
	}
	if got.Overall != 4.5 {
		t.Errorf("Overall = %v, want 4.5", got.Overall)
	}
	if got.Reasoning != "well supported" {
		t.Errorf("Reasoning = %q", got.Reasoning)
	}
	if got.ExecutionID != "exec_1" || got.ClaimID != "CLM-1" {
		t.Errorf("ids = %q %q", got.ExecutionID, got.ClaimID)
	}
	if runner.lastOp != "evaluation" {
		t.Errorf("operation = %q, want evaluation", runner.lastOp)
	}
	if !strings.Contains(runner.lastMsg, "Context facts:") {
		t.Errorf("context missing from prompt: %q", runner.lastMsg)
	}

	// Second call reuses the agent.
	if _, err := ev.Evaluate(context.Background(), evalRequest()); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if client.creates != 1 {
		t.Errorf("creates = %d, want 1", client.creates)
	}
}

func TestAgentEvaluatorLenientParsing(t *testing.T) {
	runner := &scriptedRunner{
		response: "Groundedness: 3/5\nRelevance: 4\nCoherence = 5\nFluency, 4",
	}
	ev := NewAgentEvaluator(&agentCRUD{}, runner, "gpt-4o-mini", nil)

	got, err := ev.Evaluate(context.Background(), evalRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Groundedness != 3 || got.Relevance != 4 || got.Coherence != 5 || got.Fluency != 4 {
		t.Errorf("scores = %+v", got)
	}
}

func TestAgentEvaluatorClampsScores(t *testing.T) {
	runner := &scriptedRunner{
		response: `{"groundedness": 9, "relevance": 0.5, "coherence": 3, "fluency": 3}`,
	}
	ev := NewAgentEvaluator(&agentCRUD{}, runner, "gpt-4o-mini", nil)

	got, err := ev.Evaluate(context.Background(), evalRequest())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Groundedness != 5 {
		t.Errorf("Groundedness = %v, want clamp to 5", got.Groundedness)
	}
	if got.Relevance != 1 {
		t.Errorf("Relevance = %v, want clamp to 1", got.Relevance)
	}
}

func TestAgentEvaluatorFailedRun(t *testing.T) {
	runner := &scriptedRunner{failed: true}
	ev := NewAgentEvaluator(&agentCRUD{}, runner, "gpt-4o-mini", nil)

	if _, err := ev.Evaluate(context.Background(), evalRequest()); err == nil {
		t.Fatal("want error for failed evaluator run")
	}
}

func TestAgentEvaluatorUnparseableResponse(t *testing.T) {
	runner := &scriptedRunner{response: "The answer seems fine to me."}
	ev := NewAgentEvaluator(&agentCRUD{}, runner, "gpt-4o-mini", nil)

	if _, err := ev.Evaluate(context.Background(), evalRequest()); err == nil {
		t.Fatal("want error when no scores can be parsed")
	}
}

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"prose {\"a\": {\"b\": 2}} trailing", `{"a": {"b": 2}}`},
		{`{"s": "brace } inside"}`, `{"s": "brace } inside"}`},
		{"no object here", ""},
		{"{unbalanced", ""},
	}
	for _, tt := range tests {
		if got := firstJSONObject(tt.in); got != tt.want {
			t.Errorf("firstJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
