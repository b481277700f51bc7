package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/evaluation"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/tool"
	"github.com/arbiterhq/arbiter/pkg/usage"
)

// fakeClient scripts the agent CRUD surface the deployer needs. The
// thread/run surface is never reached: runs go through workflowRunner.
type fakeClient struct {
	mu      sync.Mutex
	agents  []agentruntime.Agent
	nextID  int
	created []string
}

func (f *fakeClient) CreateAgent(ctx context.Context, spec agentruntime.AgentSpec) (agentruntime.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	agent := agentruntime.Agent{
		ID:           fmt.Sprintf("agent_%d", f.nextID),
		Name:         spec.Name,
		Model:        spec.Model,
		Instructions: spec.Instructions,
		Tools:        spec.Tools,
	}
	f.agents = append(f.agents, agent)
	f.created = append(f.created, spec.Name)
	return agent, nil
}

func (f *fakeClient) ListAgents(ctx context.Context) ([]agentruntime.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agentruntime.Agent, len(f.agents))
	copy(out, f.agents)
	return out, nil
}

func (f *fakeClient) DeleteAgent(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.agents {
		if a.ID == agentID {
			f.agents = append(f.agents[:i], f.agents[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("agent %s not found", agentID)
}

func (f *fakeClient) CreateThread(ctx context.Context) (agentruntime.Thread, error) {
	return agentruntime.Thread{}, fmt.Errorf("not scripted")
}

func (f *fakeClient) PostMessage(ctx context.Context, threadID, role, content string) (agentruntime.Message, error) {
	return agentruntime.Message{}, fmt.Errorf("not scripted")
}

func (f *fakeClient) CreateRun(ctx context.Context, threadID string, opts agentruntime.RunOptions) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *fakeClient) GetRun(ctx context.Context, threadID, runID string) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *fakeClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []agentruntime.ToolOutput) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *fakeClient) CancelRun(ctx context.Context, threadID, runID string) (agentruntime.Run, error) {
	return agentruntime.Run{}, fmt.Errorf("not scripted")
}

func (f *fakeClient) ListMessages(ctx context.Context, threadID string, opts agentruntime.ListMessagesOptions) ([]agentruntime.Message, error) {
	return nil, fmt.Errorf("not scripted")
}

// Failure modes for the scripted supervisor run.
const (
	failNone      = ""
	failRun       = "failed"    // terminal non-completed status
	failTimeout   = "timeout"   // partial result plus TimeoutError
	failTransport = "transport" // nil result plus error
)

// workflowRunner plays the agent service for both layers of the workflow:
// a supervisor run dispatches every delegation tool the way the live
// service would, and each delegation lands back here as a specialist run.
type workflowRunner struct {
	t *testing.T

	mu               sync.Mutex
	supervisorParams []agentruntime.RunParams
	specialistParams map[string]agentruntime.RunParams

	specialistText map[string]string
	specialistFail map[string]string
	finalText      string

	failMode      string
	failReason    string
	dispatchLimit int // 0 means dispatch every delegation
}

func newWorkflowRunner(t *testing.T) *workflowRunner {
	return &workflowRunner{
		t:                t,
		specialistParams: make(map[string]agentruntime.RunParams),
		specialistText:   make(map[string]string),
		specialistFail:   make(map[string]string),
		finalText:        "FINAL ASSESSMENT: the claim is consistent and covered.\n\nASSESSMENT_COMPLETE",
	}
}

func (r *workflowRunner) Run(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error) {
	if p.AgentName == specialist.Supervisor {
		return r.runSupervisor(ctx, p)
	}
	return r.runSpecialist(p)
}

func (r *workflowRunner) runSpecialist(p agentruntime.RunParams) (*agentruntime.RunResult, error) {
	r.mu.Lock()
	r.specialistParams[p.AgentName] = p
	text, ok := r.specialistText[p.AgentName]
	reason, failed := r.specialistFail[p.AgentName]
	r.mu.Unlock()
	if failed {
		return &agentruntime.RunResult{
			Messages:      []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, "Error: Agent run failed - "+reason)},
			ThreadID:      "thread_" + p.AgentName,
			RunID:         "run_" + p.AgentName,
			Status:        agentruntime.StatusFailed,
			FailureReason: reason,
		}, nil
	}
	if !ok {
		text = p.AgentName + " reviewed the claim and found nothing unusual."
	}
	return &agentruntime.RunResult{
		Messages: []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, text)},
		Usage:    agentruntime.RunUsage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
		ThreadID: "thread_" + p.AgentName,
		RunID:    "run_" + p.AgentName,
		Status:   agentruntime.StatusCompleted,
	}, nil
}

func (r *workflowRunner) runSupervisor(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error) {
	r.mu.Lock()
	r.supervisorParams = append(r.supervisorParams, p)
	r.mu.Unlock()

	if r.failMode == failTransport {
		return nil, errors.New("dial tcp: connection refused")
	}

	order := specialist.WorkflowOrder(false)
	if _, ok := p.Functions[specialist.ToolPrefix+specialist.ClaimsDataAnalyst]; ok {
		order = specialist.WorkflowOrder(true)
	}

	var toolResults []agentruntime.ToolResultRecord
	for i, name := range order {
		if r.dispatchLimit > 0 && i >= r.dispatchLimit {
			break
		}
		fn, ok := p.Functions[specialist.ToolPrefix+name]
		if !ok {
			r.t.Fatalf("supervisor is missing delegation function for %s", name)
		}
		args, err := tool.ParseArguments(fmt.Sprintf(`{"context": "Handle the %s stage."}`, name))
		if err != nil {
			r.t.Fatalf("ParseArguments: %v", err)
		}
		out, err := fn(ctx, args)
		if err != nil {
			r.t.Fatalf("delegation %s: %v", name, err)
		}
		toolResults = append(toolResults, agentruntime.ToolResultRecord{
			FunctionName: specialist.ToolPrefix + name,
			CallID:       fmt.Sprintf("call_%d", i+1),
			Arguments:    args.Raw,
			Output:       fmt.Sprint(out),
		})
	}

	switch r.failMode {
	case failRun:
		// A run that ends in a failed terminal status surfaces no tool
		// results, matching the driver contract; only the timeout path
		// carries the partial results its abort gathered.
		return &agentruntime.RunResult{
			Messages:      []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, "Error: Agent run failed - "+r.failReason)},
			ThreadID:      "thread_supervisor",
			RunID:         "run_supervisor",
			Status:        agentruntime.StatusFailed,
			FailureReason: r.failReason,
		}, nil
	case failTimeout:
		terr := &agentruntime.TimeoutError{ThreadID: "thread_supervisor", RunID: "run_supervisor", Elapsed: 5 * time.Minute}
		return &agentruntime.RunResult{
			Messages:      []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, "Error: Agent run failed - "+terr.Error())},
			ToolResults:   toolResults,
			ThreadID:      "thread_supervisor",
			RunID:         "run_supervisor",
			Status:        agentruntime.StatusCancelled,
			FailureReason: terr.Error(),
		}, terr
	}

	return &agentruntime.RunResult{
		Messages:    []agentruntime.Message{agentruntime.TextMessage(agentruntime.RoleAssistant, r.finalText)},
		ToolResults: toolResults,
		Usage:       agentruntime.RunUsage{PromptTokens: 900, CompletionTokens: 300, TotalTokens: 1200},
		ThreadID:    "thread_supervisor",
		RunID:       "run_supervisor",
		Status:      agentruntime.StatusCompleted,
	}, nil
}

type fakeEvaluator struct {
	mu    sync.Mutex
	calls int
	last  evaluation.Request
	err   error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req evaluation.Request) (*model.EvaluationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	result := &model.EvaluationResult{
		ExecutionID:  req.ExecutionID,
		ClaimID:      req.ClaimID,
		Groundedness: 4,
		Relevance:    5,
		Coherence:    4,
		Fluency:      5,
		Reasoning:    "well grounded in the specialist findings",
		Evaluator:    evaluation.AgentName,
		EvaluatedAt:  time.Now().UTC(),
	}
	result.ComputeOverall()
	return result, nil
}

type testEnv struct {
	orch      *Orchestrator
	client    *fakeClient
	runner    *workflowRunner
	store     *store.MemStore
	catalog   *specialist.Catalog
	registry  *specialist.Registry
	evaluator *fakeEvaluator
}

func newTestEnv(t *testing.T, analytics bool, deployed ...string) *testEnv {
	t.Helper()

	client := &fakeClient{}
	catalog := specialist.NewCatalog(specialist.CatalogConfig{
		SpecialistModel: "gpt-4o-mini",
		SupervisorModel: "gpt-4o",
		Temperature:     0.2,
		FabricTool:      map[string]any{"connection_id": "fabric-conn-1"},
	})
	registry := specialist.NewRegistry(catalog)
	for _, name := range deployed {
		if err := registry.Register(specialist.Registration{Name: name, RemoteID: "agent_" + name}, false); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	runner := newWorkflowRunner(t)
	adapters := specialist.NewAdapters(registry, catalog, runner, nil, specialist.AdapterConfig{
		PollInterval:    time.Millisecond,
		MaxPollDuration: time.Second,
	}, nil)

	memStore := store.NewMemStore()
	evaluator := &fakeEvaluator{}

	orch, err := New(Options{
		Client:    client,
		Runner:    runner,
		Deployer:  specialist.NewDeployer(client, catalog, registry, nil),
		Catalog:   catalog,
		Registry:  registry,
		Adapters:  adapters,
		Store:     memStore,
		Tracker:   usage.NewTracker(memStore, nil),
		Evaluator: evaluator,
		Config:    Config{AnalyticsEnabled: analytics},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		orch:      orch,
		client:    client,
		runner:    runner,
		store:     memStore,
		catalog:   catalog,
		registry:  registry,
		evaluator: evaluator,
	}
}

func testClaim() model.Claim {
	return model.Claim{
		ClaimID:         "CLM-2026-000001",
		ClaimType:       "Major Collision",
		ClaimantID:      "CLM-1310",
		ClaimantName:    "Jordan Avery",
		State:           "CA",
		PolicyNumber:    "POL-88821",
		EstimatedDamage: 28392.64,
		Description:     "Rear-ended at a stoplight, airbag deployed.",
		BearerToken:     "user-jwt-token",
	}
}

// interiorAgents lists the agents of the chunks between the opening status
// chunk and the closing supervisor or error chunk.
func interiorAgents(chunks []model.TraceChunk) []string {
	if len(chunks) < 2 {
		return nil
	}
	agents := make([]string, 0, len(chunks)-2)
	for _, c := range chunks[1 : len(chunks)-1] {
		agents = append(agents, c.Agent)
	}
	return agents
}

func TestProcessClaimStandardWorkflow(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	claim := testClaim()

	res, err := env.orch.ProcessClaim(context.Background(), claim)
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}

	if res.Status != model.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
	if len(res.Chunks) != 6 {
		t.Fatalf("chunks = %d, want 6 (status + 4 specialists + synthesis)", len(res.Chunks))
	}

	first := res.Chunks[0]
	if first.Agent != specialist.Supervisor || first.Source != model.ChunkSourceStatus {
		t.Errorf("first chunk = %+v, want supervisor status chunk", first)
	}
	if first.Messages[0] != ProcessingPlaceholder {
		t.Errorf("status message = %q", first.Messages[0])
	}

	wantOrder := specialist.WorkflowOrder(false)
	if got := interiorAgents(res.Chunks); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("specialist chunk order = %v, want %v", got, wantOrder)
	}

	last := res.Chunks[len(res.Chunks)-1]
	if last.Agent != specialist.Supervisor || !last.FinalAssessment || last.Source != model.ChunkSourceRun {
		t.Errorf("last chunk = %+v, want supervisor final assessment", last)
	}
	if !strings.Contains(last.Messages[0], "ASSESSMENT_COMPLETE") {
		t.Errorf("final synthesis %q missing completion marker", last.Messages[0])
	}

	exec, err := env.store.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != model.StatusCompleted {
		t.Errorf("persisted status = %s", exec.Status)
	}
	if exec.WorkflowType != model.WorkflowStandard {
		t.Errorf("workflow type = %s", exec.WorkflowType)
	}
	if len(exec.AgentSteps) != 4 {
		t.Fatalf("agent steps = %d, want 4", len(exec.AgentSteps))
	}
	if !reflect.DeepEqual(exec.AgentsInvoked, wantOrder) {
		t.Errorf("agents invoked = %v, want %v", exec.AgentsInvoked, wantOrder)
	}
	if !reflect.DeepEqual(interiorAgents(res.Chunks), exec.AgentsInvoked) {
		t.Errorf("trace agents %v != agents invoked %v", interiorAgents(res.Chunks), exec.AgentsInvoked)
	}
	if exec.TotalTokens != 4*160 {
		t.Errorf("total tokens = %d, want %d", exec.TotalTokens, 4*160)
	}
	if exec.TotalCost <= 0 {
		t.Errorf("total cost = %f, want > 0", exec.TotalCost)
	}
	if exec.FinalResult == "" || exec.ErrorMessage != "" {
		t.Errorf("final result %q / error %q", exec.FinalResult, exec.ErrorMessage)
	}

	if res.Usage.TotalTokens != 1200+4*160 {
		t.Errorf("result usage = %d, want supervisor plus steps (%d)", res.Usage.TotalTokens, 1200+4*160)
	}
	if res.TotalCost != exec.TotalCost {
		t.Errorf("result cost %f != execution cost %f", res.TotalCost, exec.TotalCost)
	}
}

func TestProcessClaimSupervisorPromptAndToken(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	claim := testClaim()

	if _, err := env.orch.ProcessClaim(context.Background(), claim); err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}

	if len(env.runner.supervisorParams) != 1 {
		t.Fatalf("supervisor runs = %d, want 1", len(env.runner.supervisorParams))
	}
	params := env.runner.supervisorParams[0]

	if params.UserToken != claim.BearerToken {
		t.Errorf("user token = %q, want the claim bearer token", params.UserToken)
	}
	if strings.Contains(params.Message, claim.BearerToken) {
		t.Error("bearer token leaked into the supervisor prompt")
	}
	for _, want := range []string{
		`"claim_id": "CLM-2026-000001"`,
		"1. Call call_claim_assessor",
		"2. Call call_policy_checker",
		"3. Call call_risk_analyst",
		"4. Call call_communication_agent",
		"5. Synthesize",
	} {
		if !strings.Contains(params.Message, want) {
			t.Errorf("supervisor prompt missing %q", want)
		}
	}
	if strings.Contains(params.Message, specialist.ClaimsDataAnalyst) {
		t.Error("standard workflow prompt mentions the analytics specialist")
	}
	if params.AgentID == "" {
		t.Error("supervisor run has no agent id")
	}
}

func TestProcessClaimWithAnalytics(t *testing.T) {
	env := newTestEnv(t, true, specialist.WorkflowOrder(true)...)
	env.runner.specialistText[specialist.ClaimsDataAnalyst] = "Historical data shows 2 prior collision claims for this claimant."

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}

	if len(res.Chunks) != 7 {
		t.Fatalf("chunks = %d, want 7 (status + 5 specialists + synthesis)", len(res.Chunks))
	}
	wantOrder := specialist.WorkflowOrder(true)
	if got := interiorAgents(res.Chunks); !reflect.DeepEqual(got, wantOrder) {
		t.Fatalf("specialist order = %v, want %v", got, wantOrder)
	}

	// The analyst runs third and its output carries the query annotation.
	analystChunk := res.Chunks[3]
	if analystChunk.Agent != specialist.ClaimsDataAnalyst {
		t.Fatalf("chunk 3 agent = %s", analystChunk.Agent)
	}
	wantPrefix := specialist.QueryHeader + "Show historical fraud patterns for collision claims in CA"
	if !strings.HasPrefix(analystChunk.Messages[0], wantPrefix) {
		t.Errorf("analyst chunk = %q, want prefix %q", analystChunk.Messages[0], wantPrefix)
	}
	if !strings.Contains(analystChunk.Messages[0], "2 prior collision claims") {
		t.Errorf("analyst chunk lost the data response: %q", analystChunk.Messages[0])
	}

	analystParams := env.runner.specialistParams[specialist.ClaimsDataAnalyst]
	if analystParams.ToolChoice == nil || analystParams.ToolChoice.Type != agentruntime.ToolTypeFabric {
		t.Errorf("analyst tool choice = %+v, want forced fabric tool", analystParams.ToolChoice)
	}
	if analystParams.UserToken != "user-jwt-token" {
		t.Errorf("analyst user token = %q", analystParams.UserToken)
	}

	exec, err := env.store.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.WorkflowType != model.WorkflowWithAnalytics {
		t.Errorf("workflow type = %s", exec.WorkflowType)
	}
	if len(exec.AgentsInvoked) != 5 || exec.AgentsInvoked[2] != specialist.ClaimsDataAnalyst {
		t.Errorf("agents invoked = %v", exec.AgentsInvoked)
	}
}

func TestProcessClaimAnalyticsFallback(t *testing.T) {
	env := newTestEnv(t, true, specialist.WorkflowOrder(true)...)
	env.runner.specialistText[specialist.ClaimsDataAnalyst] = "I'm sorry, I cannot access the claims data right now."

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}

	analystChunk := res.Chunks[3]
	msg := analystChunk.Messages[0]
	if !strings.HasPrefix(msg, specialist.QueryHeader) {
		t.Errorf("fallback chunk missing query annotation: %q", msg)
	}
	if !strings.Contains(msg, "Claims Data Analysis for CLM-1310") {
		t.Errorf("fallback chunk missing local analysis: %q", msg)
	}
	if strings.Contains(msg, "I'm sorry") {
		t.Errorf("apology leaked through the fallback: %q", msg)
	}
}

func TestProcessClaimSupervisorRunFails(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	env.runner.failMode = failRun
	env.runner.failReason = "content_filter triggered"
	env.runner.dispatchLimit = 2

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("a failed run should still return the trace, got error: %v", err)
	}

	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", res.Status)
	}
	if len(res.Chunks) != 4 {
		t.Fatalf("chunks = %d, want 4 (status + 2 specialists + error)", len(res.Chunks))
	}
	// The failed run surfaced no tool results, so the specialist chunks
	// must come from the recorded steps.
	wantAgents := specialist.WorkflowOrder(false)[:2]
	if got := interiorAgents(res.Chunks); !reflect.DeepEqual(got, wantAgents) {
		t.Errorf("specialist chunks = %v, want %v", got, wantAgents)
	}
	for _, c := range res.Chunks[1:3] {
		if len(c.Messages) != 1 || !strings.Contains(c.Messages[0], "reviewed the claim") {
			t.Errorf("%s chunk lost its output: %+v", c.Agent, c)
		}
		if c.Source != model.ChunkSourceToolCall {
			t.Errorf("%s chunk source = %s", c.Agent, c.Source)
		}
	}
	last := res.Chunks[len(res.Chunks)-1]
	if last.Error != "Agent run failed - content_filter triggered" {
		t.Errorf("error chunk = %q", last.Error)
	}
	if res.FinalSynthesis != "" {
		t.Errorf("failed run has synthesis %q", res.FinalSynthesis)
	}

	exec, err := env.store.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != model.StatusFailed {
		t.Errorf("persisted status = %s", exec.Status)
	}
	if len(exec.AgentSteps) != 2 {
		t.Errorf("steps = %d, want the 2 completed delegations", len(exec.AgentSteps))
	}
	if exec.ErrorMessage != "Agent run failed - content_filter triggered" {
		t.Errorf("error message = %q", exec.ErrorMessage)
	}
	if exec.FinalResult != "" {
		t.Errorf("final result = %q, want empty", exec.FinalResult)
	}

	if env.evaluator.calls != 0 {
		t.Errorf("evaluator ran %d times on a failed execution", env.evaluator.calls)
	}
}

func TestProcessClaimMissingSpecialistStillTraced(t *testing.T) {
	deployed := []string{specialist.ClaimAssessor, specialist.RiskAnalyst, specialist.CommunicationAgent}
	env := newTestEnv(t, false, deployed...)

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}

	if res.Status != model.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED despite the missing specialist", res.Status)
	}

	policyChunk := res.Chunks[2]
	if policyChunk.Agent != specialist.PolicyChecker {
		t.Fatalf("chunk 2 agent = %s", policyChunk.Agent)
	}
	if policyChunk.Messages[0] != "Error: Policy Checker agent not available" {
		t.Errorf("policy chunk = %q", policyChunk.Messages[0])
	}

	exec, err := env.store.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if !reflect.DeepEqual(exec.AgentsInvoked, specialist.WorkflowOrder(false)) {
		t.Errorf("agents invoked = %v, want full order including the missing one", exec.AgentsInvoked)
	}
	if !reflect.DeepEqual(interiorAgents(res.Chunks), exec.AgentsInvoked) {
		t.Errorf("trace agents %v != agents invoked %v", interiorAgents(res.Chunks), exec.AgentsInvoked)
	}

	var policyStep *model.AgentStepExecution
	for i := range exec.AgentSteps {
		if exec.AgentSteps[i].AgentType == specialist.PolicyChecker {
			policyStep = &exec.AgentSteps[i]
		}
	}
	if policyStep == nil {
		t.Fatal("no step recorded for the missing specialist")
	}
	if policyStep.Status != model.StatusFailed {
		t.Errorf("missing specialist step status = %s", policyStep.Status)
	}
}

func TestProcessClaimTransportFailure(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	env.runner.failMode = failTransport

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err == nil {
		t.Fatal("expected an error when the run never starts")
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil", res)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %v", err)
	}

	execs, err := env.store.ClaimHistory(context.Background(), "CLM-2026-000001")
	if err != nil {
		t.Fatalf("ClaimHistory: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want the failure recorded", len(execs))
	}
	if execs[0].Status != model.StatusFailed {
		t.Errorf("status = %s", execs[0].Status)
	}
	if !strings.Contains(execs[0].ErrorMessage, "connection refused") {
		t.Errorf("error message = %q", execs[0].ErrorMessage)
	}
	if len(execs[0].AgentSteps) != 0 {
		t.Errorf("steps = %d, want 0", len(execs[0].AgentSteps))
	}
}

// nilRunner violates the Runner contract by returning neither a result
// nor an error.
type nilRunner struct{}

func (nilRunner) Run(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error) {
	return nil, nil
}

func TestProcessClaimRunnerReturnsNothing(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	env.orch.runner = nilRunner{}

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err == nil {
		t.Fatal("expected an error when the runner returns neither result nor error")
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil", res)
	}

	execs, err := env.store.ClaimHistory(context.Background(), "CLM-2026-000001")
	if err != nil {
		t.Fatalf("ClaimHistory: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != model.StatusFailed {
		t.Fatalf("executions = %+v, want one FAILED record", execs)
	}
	if execs[0].ErrorMessage == "" {
		t.Error("failed execution has no error message")
	}
}

func TestProcessClaimTimeout(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	env.runner.failMode = failTimeout
	env.runner.dispatchLimit = 3

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("a timed-out run should still return its partial trace, got: %v", err)
	}

	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want FAILED", res.Status)
	}
	if len(res.Chunks) != 5 {
		t.Fatalf("chunks = %d, want 5 (status + 3 specialists + error)", len(res.Chunks))
	}
	last := res.Chunks[len(res.Chunks)-1]
	if !strings.Contains(last.Error, "timed out") {
		t.Errorf("error chunk = %q", last.Error)
	}

	exec, err := env.store.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != model.StatusFailed || len(exec.AgentSteps) != 3 {
		t.Errorf("persisted %s with %d steps, want FAILED with 3", exec.Status, len(exec.AgentSteps))
	}
}

func TestProcessClaimEmptySynthesisFails(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	env.runner.finalText = "   "

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want FAILED on empty synthesis", res.Status)
	}
	last := res.Chunks[len(res.Chunks)-1]
	if last.Error != "Agent run failed - empty final response" {
		t.Errorf("error chunk = %q", last.Error)
	}
}

func TestProcessClaimEvaluationDecoratesResponseOnly(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}

	if res.Evaluation == nil {
		t.Fatal("no evaluation on the response")
	}
	if res.Evaluation.Overall != 4.5 {
		t.Errorf("overall = %f, want 4.5", res.Evaluation.Overall)
	}
	if env.evaluator.last.ExecutionID != res.ExecutionID {
		t.Errorf("evaluator saw execution %q, want %q", env.evaluator.last.ExecutionID, res.ExecutionID)
	}
	if env.evaluator.last.Answer != res.FinalSynthesis {
		t.Error("evaluator answer is not the final synthesis")
	}
	if !strings.Contains(strings.Join(env.evaluator.last.Context, "\n"), "claim_id: CLM-2026-000001") {
		t.Errorf("evaluation context = %v", env.evaluator.last.Context)
	}

	// The persisted record stays as written; scores only decorate the
	// response payload.
	exec, err := env.store.GetExecution(context.Background(), res.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Evaluation != nil {
		t.Error("evaluation was persisted onto the execution record")
	}
}

func TestProcessClaimEvaluatorFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	env.evaluator.err = errors.New("evaluator unavailable")

	res, err := env.orch.ProcessClaim(context.Background(), testClaim())
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if res.Evaluation != nil {
		t.Error("evaluation present despite evaluator failure")
	}
}

func TestProcessClaimRejectsInvalidClaims(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)

	if _, err := env.orch.ProcessClaim(context.Background(), model.Claim{}); err == nil {
		t.Error("claim without an id was accepted")
	}
	if _, err := env.orch.ProcessClaim(context.Background(), model.Claim{ClaimID: "CLM-1", EstimatedDamage: -5}); err == nil {
		t.Error("negative damage was accepted")
	}
	if len(env.runner.supervisorParams) != 0 {
		t.Error("invalid claims reached the supervisor")
	}
}

func TestProcessClaimZeroFieldClaim(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)

	res, err := env.orch.ProcessClaim(context.Background(), model.Claim{ClaimID: "CLM-EMPTY-1"})
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
	if len(res.Chunks) != 6 {
		t.Errorf("chunks = %d, want the full trace", len(res.Chunks))
	}
}

func TestProcessClaimDistinctExecutions(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	claim := testClaim()

	first, err := env.orch.ProcessClaim(context.Background(), claim)
	if err != nil {
		t.Fatalf("first ProcessClaim: %v", err)
	}
	second, err := env.orch.ProcessClaim(context.Background(), claim)
	if err != nil {
		t.Fatalf("second ProcessClaim: %v", err)
	}

	if first.ExecutionID == second.ExecutionID {
		t.Errorf("both runs share execution id %s", first.ExecutionID)
	}

	history, err := env.store.ClaimHistory(context.Background(), claim.ClaimID)
	if err != nil {
		t.Fatalf("ClaimHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history = %d executions, want 2", len(history))
	}
}

func TestEnsureSupervisorCachesDeployment(t *testing.T) {
	env := newTestEnv(t, false, specialist.WorkflowOrder(false)...)
	claim := testClaim()

	for i := 0; i < 3; i++ {
		if _, err := env.orch.ProcessClaim(context.Background(), claim); err != nil {
			t.Fatalf("ProcessClaim %d: %v", i, err)
		}
	}

	supervisorCreates := 0
	for _, name := range env.client.created {
		if name == specialist.Supervisor {
			supervisorCreates++
		}
	}
	if supervisorCreates != 1 {
		t.Errorf("supervisor created %d times, want 1", supervisorCreates)
	}

	// Changed instructions must invalidate the cached deployment.
	env.catalog.SetOverride(specialist.Supervisor, specialist.Override{Instructions: "New coordination rules."})
	if _, err := env.orch.ProcessClaim(context.Background(), claim); err != nil {
		t.Fatalf("ProcessClaim after override: %v", err)
	}

	supervisorCreates = 0
	for _, name := range env.client.created {
		if name == specialist.Supervisor {
			supervisorCreates++
		}
	}
	if supervisorCreates != 2 {
		t.Errorf("supervisor created %d times after instruction change, want 2", supervisorCreates)
	}
}
