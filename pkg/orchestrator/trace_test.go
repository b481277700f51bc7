package orchestrator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/specialist"
)

func supervisorResult(final string, tools ...agentruntime.ToolResultRecord) *agentruntime.RunResult {
	return &agentruntime.RunResult{
		Messages:    []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, final)},
		ToolResults: tools,
		ThreadID:    "thread_1",
		Status:      agentruntime.StatusCompleted,
	}
}

func TestBuildTraceCompleted(t *testing.T) {
	result := supervisorResult("All findings synthesized. ASSESSMENT_COMPLETE",
		agentruntime.ToolResultRecord{FunctionName: "call_claim_assessor", CallID: "call_1", Output: "Damage assessed."},
		agentruntime.ToolResultRecord{FunctionName: "call_policy_checker", CallID: "call_2", Output: "Coverage confirmed."},
	)

	chunks := BuildTrace(result, nil, "")
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}

	if chunks[0].Agent != specialist.Supervisor || chunks[0].Source != model.ChunkSourceStatus {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	if chunks[1].Agent != "claim_assessor" || chunks[1].Messages[0] != "Damage assessed." {
		t.Errorf("chunk 1 = %+v", chunks[1])
	}
	if chunks[2].Agent != "policy_checker" {
		t.Errorf("chunk 2 = %+v", chunks[2])
	}

	final := chunks[3]
	if final.Agent != specialist.Supervisor || !final.FinalAssessment {
		t.Errorf("final chunk = %+v", final)
	}
	if final.Messages[0] != "All findings synthesized. ASSESSMENT_COMPLETE" {
		t.Errorf("final message = %q", final.Messages[0])
	}
}

func TestBuildTraceFailure(t *testing.T) {
	result := supervisorResult("Error: Agent run failed - content_filter",
		agentruntime.ToolResultRecord{FunctionName: "call_claim_assessor", CallID: "call_1", Output: "Damage assessed."},
	)
	result.Status = agentruntime.StatusFailed
	result.FailureReason = "content_filter"

	chunks := BuildTrace(result, nil, "Agent run failed - content_filter")
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	last := chunks[2]
	if last.Error != "Agent run failed - content_filter" {
		t.Errorf("error chunk = %+v", last)
	}
	if last.FinalAssessment {
		t.Error("error chunk marked as final assessment")
	}

	// Wire shape: an error chunk serializes as {"error": true, ...}.
	data, err := json.Marshal(last)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"error":true`) {
		t.Errorf("error chunk wire form = %s", data)
	}
}

func TestBuildTraceFailedRunUsesRecordedSteps(t *testing.T) {
	// The driver returns no tool results when a run ends in a failed
	// terminal status; the specialists it dispatched before failing are
	// only visible through the recorded steps.
	result := &agentruntime.RunResult{
		Messages:      []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, "Error: Agent run failed - model exploded")},
		ThreadID:      "thread_1",
		Status:        agentruntime.StatusFailed,
		FailureReason: "model exploded",
	}
	steps := []model.AgentStepExecution{
		{AgentType: "claim_assessor", OutputData: "Damage assessed.", Status: model.StatusCompleted},
		{AgentType: "policy_checker", OutputData: "Coverage confirmed.", Status: model.StatusCompleted},
	}

	chunks := BuildTrace(result, steps, "Agent run failed - model exploded")
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4 (status + 2 specialists + error)", len(chunks))
	}
	if chunks[1].Agent != "claim_assessor" || chunks[1].Messages[0] != "Damage assessed." {
		t.Errorf("chunk 1 = %+v", chunks[1])
	}
	if chunks[2].Agent != "policy_checker" || chunks[2].Source != model.ChunkSourceToolCall {
		t.Errorf("chunk 2 = %+v", chunks[2])
	}
	if chunks[3].Error != "Agent run failed - model exploded" {
		t.Errorf("error chunk = %+v", chunks[3])
	}
}

func TestBuildTraceNoDelegations(t *testing.T) {
	chunks := BuildTrace(supervisorResult("Nothing to delegate."), nil, "")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want status + synthesis", len(chunks))
	}
	if !chunks[1].FinalAssessment {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestAgentNameFromTool(t *testing.T) {
	cases := map[string]string{
		"call_claim_assessor":      "claim_assessor",
		"call_claims_data_analyst": "claims_data_analyst",
		"lookup_policy":            "lookup_policy",
	}
	for in, want := range cases {
		if got := AgentNameFromTool(in); got != want {
			t.Errorf("AgentNameFromTool(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildClaimPrompt(t *testing.T) {
	claim := testClaim()
	prompt := BuildClaimPrompt(claim, false)

	for _, want := range []string{
		`"claim_id": "CLM-2026-000001"`,
		`"estimated_damage": 28392.64`,
		"1. Call call_claim_assessor",
		"4. Call call_communication_agent",
		"5. Synthesize",
		"exactly once",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, claim.BearerToken) {
		t.Error("bearer token serialized into the prompt")
	}
	if strings.Contains(prompt, specialist.ClaimsDataAnalyst) {
		t.Error("standard prompt references the analytics specialist")
	}
}

func TestBuildClaimPromptWithAnalytics(t *testing.T) {
	prompt := BuildClaimPrompt(testClaim(), true)

	for _, want := range []string{
		"3. Call call_claims_data_analyst",
		"4. Call call_risk_analyst",
		"6. Synthesize",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
