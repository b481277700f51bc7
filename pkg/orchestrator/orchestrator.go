// Package orchestrator runs the supervisor workflow: it deploys the
// supervisor over the delegation toolset, drives one run per claim, folds
// the delegation steps into an execution record, and persists the outcome.
//
// The orchestrator owns nothing below it. The agent service client, run
// driver, specialist registry, store, and usage tracker are all injected,
// so every seam is replaceable in tests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/evaluation"
	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/observability"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/tool"
	"github.com/arbiterhq/arbiter/pkg/usage"
)

// Runner drives one remote agent run to a terminal state. Implementations
// must return a non-nil result or a non-nil error; a timed-out run returns
// both, carrying the tool results gathered before the deadline.
type Runner interface {
	Run(ctx context.Context, p agentruntime.RunParams) (*agentruntime.RunResult, error)
}

// Config carries the orchestrator's workflow knobs.
type Config struct {
	// AnalyticsEnabled inserts the claims data analyst into the workflow.
	AnalyticsEnabled bool

	PollInterval    time.Duration
	MaxPollDuration time.Duration
}

// Options bundles the orchestrator's dependencies for New.
type Options struct {
	Client    agentruntime.Client
	Runner    Runner
	Deployer  *specialist.Deployer
	Catalog   *specialist.Catalog
	Registry  *specialist.Registry
	Adapters  *specialist.Adapters
	Store     store.Store
	Tracker   *usage.Tracker
	Estimator *usage.Estimator
	Evaluator evaluation.Evaluator
	Config    Config
	Logger    *slog.Logger
}

// Orchestrator coordinates claim processing end to end.
type Orchestrator struct {
	client    agentruntime.Client
	runner    Runner
	deployer  *specialist.Deployer
	catalog   *specialist.Catalog
	registry  *specialist.Registry
	adapters  *specialist.Adapters
	store     store.Store
	tracker   *usage.Tracker
	estimator *usage.Estimator
	evaluator evaluation.Evaluator
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer

	// Supervisor deployments are cached by definition signature; a catalog
	// change (hot reload, version bump, toolset change) misses the cache and
	// re-ensures the remote agent.
	mu            sync.Mutex
	supervisorID  string
	supervisorSig string
}

// New wires an orchestrator from its dependencies. Client, Runner,
// Deployer, Catalog, Registry, and Adapters are required; the rest degrade
// gracefully when absent.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Client == nil:
		return nil, fmt.Errorf("orchestrator requires an agent service client")
	case opts.Runner == nil:
		return nil, fmt.Errorf("orchestrator requires a run driver")
	case opts.Deployer == nil:
		return nil, fmt.Errorf("orchestrator requires a deployer")
	case opts.Catalog == nil:
		return nil, fmt.Errorf("orchestrator requires a specialist catalog")
	case opts.Registry == nil:
		return nil, fmt.Errorf("orchestrator requires a specialist registry")
	case opts.Adapters == nil:
		return nil, fmt.Errorf("orchestrator requires delegation adapters")
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = usage.NewTracker(nil, log)
	}

	return &Orchestrator{
		client:    opts.Client,
		runner:    opts.Runner,
		deployer:  opts.Deployer,
		catalog:   opts.Catalog,
		registry:  opts.Registry,
		adapters:  opts.Adapters,
		store:     opts.Store,
		tracker:   tracker,
		estimator: opts.Estimator,
		evaluator: opts.Evaluator,
		cfg:       opts.Config,
		logger:    log,
		tracer:    observability.GetTracer("arbiter.orchestrator"),
	}, nil
}

// ClaimResult is the caller-facing outcome of one claim run.
type ClaimResult struct {
	ExecutionID    string                  `json:"execution_id"`
	ClaimID        string                  `json:"claim_id"`
	Status         model.ExecutionStatus   `json:"status"`
	Chunks         []model.TraceChunk      `json:"conversation_chronological"`
	FinalSynthesis string                  `json:"final_synthesis,omitempty"`
	ThreadID       string                  `json:"thread_id,omitempty"`
	Usage          model.TokenUsage        `json:"token_usage"`
	TotalCost      float64                 `json:"total_cost"`
	Evaluation     *model.EvaluationResult `json:"evaluation_results,omitempty"`

	// Execution is the persisted record, available to in-process callers.
	Execution *model.AgentExecution `json:"-"`
}

var errStepFailed = errors.New("specialist step failed")

// ProcessClaim runs the full supervisor workflow for one claim. A run that
// reaches a terminal state, even a failed one, returns a result carrying
// the trace; an error return means the run never produced anything usable.
func (o *Orchestrator) ProcessClaim(ctx context.Context, claim model.Claim) (res *ClaimResult, err error) {
	if verr := model.ValidateClaim(claim); verr != nil {
		return nil, fmt.Errorf("invalid claim: %w", verr)
	}

	executionID := uuid.NewString()
	startedAt := time.Now()
	workflowType := model.WorkflowStandard
	if o.cfg.AnalyticsEnabled {
		workflowType = model.WorkflowWithAnalytics
	}

	ctx, span := o.tracer.Start(ctx, observability.SpanClaimProcess,
		trace.WithAttributes(
			attribute.String(observability.AttrClaimID, claim.ClaimID),
			attribute.String(observability.AttrExecutionID, executionID),
		))
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	o.tracker.Begin(traceID, usage.RunContext{ClaimID: claim.ClaimID, ExecutionID: executionID})
	defer o.tracker.End(traceID)

	recorder := specialist.NewStepRecorder()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic while processing claim",
				"claim_id", claim.ClaimID,
				"execution_id", executionID,
				"panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			exec := buildExecution(executionID, claim, workflowType, startedAt, recorder.Steps(), "", msg)
			o.persist(ctx, exec)
			span.SetStatus(codes.Error, msg)
			res, err = nil, fmt.Errorf("claim processing failed: %v", r)
		}
	}()

	o.logger.Info("Processing claim",
		"claim_id", claim.ClaimID,
		"execution_id", executionID,
		"workflow", workflowType)

	scope := &specialist.CallScope{Claim: claim, UserToken: claim.BearerToken, Recorder: recorder}
	descs := o.adapters.DelegationTools(scope, o.cfg.AnalyticsEnabled)

	supervisorID, supervisorModel, err := o.ensureSupervisor(ctx, descs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to prepare supervisor: %w", err)
	}

	functions := make(map[string]tool.Invoker, len(descs))
	for _, d := range descs {
		functions[d.Name] = d.Invoke
	}

	prompt := BuildClaimPrompt(claim, o.cfg.AnalyticsEnabled)
	result, runErr := o.runner.Run(ctx, agentruntime.RunParams{
		AgentID:         supervisorID,
		AgentName:       specialist.Supervisor,
		Model:           supervisorModel,
		Message:         prompt,
		Functions:       functions,
		UserToken:       claim.BearerToken,
		PollInterval:    o.cfg.PollInterval,
		MaxPollDuration: o.cfg.MaxPollDuration,
	})

	steps := o.estimateSteps(ctx, traceID, recorder.Steps())
	o.recordStepMetrics(ctx, steps)

	if result == nil {
		// Transport failure before the service produced anything. The steps
		// gathered so far still make the execution record.
		if runErr == nil {
			runErr = errors.New("runner returned neither a result nor an error")
		}
		exec := buildExecution(executionID, claim, workflowType, startedAt, steps, "", runErr.Error())
		o.persist(ctx, exec)
		span.SetStatus(codes.Error, runErr.Error())
		return nil, fmt.Errorf("supervisor run failed: %w", runErr)
	}

	finalText := result.LastAssistantText()
	failure := ""
	switch {
	case result.Failed():
		failure = "Agent run failed - " + result.FailureReason
	case strings.TrimSpace(finalText) == "":
		failure = "Agent run failed - empty final response"
	}

	if failure == "" && o.estimator.Enabled() && result.Usage.IsZero() {
		o.estimator.RecordEstimate(ctx, traceID, supervisorModel, specialist.Supervisor,
			model.OperationEstimate, prompt, finalText)
	}

	chunks := BuildTrace(result, steps, failure)

	var exec *model.AgentExecution
	if failure != "" {
		exec = buildExecution(executionID, claim, workflowType, startedAt, steps, "", failure)
		span.SetStatus(codes.Error, failure)
	} else {
		exec = buildExecution(executionID, claim, workflowType, startedAt, steps, finalText, "")
		span.SetStatus(codes.Ok, "completed")
	}

	persisted := o.persist(ctx, exec)

	var evalResult *model.EvaluationResult
	if exec.Status == model.StatusCompleted && (persisted || o.store == nil) {
		evalResult = o.evaluate(ctx, claim, exec, prompt)
	}

	total := model.TokenUsage(result.Usage)
	for _, s := range steps {
		total = total.Add(s.TokenUsage)
	}

	o.logger.Info("Claim processed",
		"claim_id", claim.ClaimID,
		"execution_id", executionID,
		"status", exec.Status,
		"agents_invoked", len(exec.AgentsInvoked),
		"total_tokens", exec.TotalTokens)

	return &ClaimResult{
		ExecutionID:    executionID,
		ClaimID:        claim.ClaimID,
		Status:         exec.Status,
		Chunks:         chunks,
		FinalSynthesis: exec.FinalResult,
		ThreadID:       result.ThreadID,
		Usage:          total,
		TotalCost:      exec.TotalCost,
		Evaluation:     evalResult,
		Execution:      exec,
	}, nil
}

// ensureSupervisor deploys (or reuses) the supervisor agent over the given
// delegation toolset and returns its remote id and model.
func (o *Orchestrator) ensureSupervisor(ctx context.Context, descs []tool.Descriptor) (string, string, error) {
	def := o.catalog.SupervisorDefinition(specialist.AgentTools(descs))
	sig := supervisorSignature(def)

	o.mu.Lock()
	if o.supervisorID != "" && o.supervisorSig == sig {
		id := o.supervisorID
		o.mu.Unlock()
		return id, def.Model, nil
	}
	o.mu.Unlock()

	agent, err := o.deployer.Ensure(ctx, def)
	if err != nil {
		return "", "", err
	}
	if err := o.registry.Register(specialist.Registration{
		Name:     specialist.Supervisor,
		RemoteID: agent.ID,
		Toolset:  def.Tools,
	}, true); err != nil {
		return "", "", err
	}

	o.mu.Lock()
	o.supervisorID = agent.ID
	o.supervisorSig = sig
	o.mu.Unlock()

	return agent.ID, def.Model, nil
}

func supervisorSignature(def specialist.Definition) string {
	names := make([]string, 0, len(def.Tools))
	for _, t := range def.Tools {
		name := t.Type
		if t.Function != nil {
			name += ":" + t.Function.Name
		}
		names = append(names, name)
	}
	return fmt.Sprintf("%s|%s|%.2f|%s|%s", def.Version, def.Model, def.Temperature,
		strings.Join(names, ","), def.Instructions)
}

// estimateSteps fills token usage for steps where the service reported
// none, using text-based estimation when enabled.
func (o *Orchestrator) estimateSteps(ctx context.Context, traceID string, steps []model.AgentStepExecution) []model.AgentStepExecution {
	if !o.estimator.Enabled() {
		return steps
	}
	for i := range steps {
		step := &steps[i]
		if !step.TokenUsage.IsZero() || step.Status != model.StatusCompleted {
			continue
		}
		def, ok := o.catalog.Specialist(step.AgentType)
		if !ok {
			continue
		}
		rec := o.estimator.RecordEstimate(ctx, traceID, def.Model, step.AgentType,
			model.OperationEstimate, step.InputData, step.OutputData)
		if rec == nil {
			continue
		}
		step.TokenUsage = model.TokenUsage{
			PromptTokens:     rec.PromptTokens,
			CompletionTokens: rec.CompletionTokens,
			TotalTokens:      rec.TotalTokens,
		}
		step.Cost = rec.TotalCost
	}
	return steps
}

func (o *Orchestrator) recordStepMetrics(ctx context.Context, steps []model.AgentStepExecution) {
	m := observability.ActiveMetrics()
	for _, step := range steps {
		var stepErr error
		if step.Status == model.StatusFailed {
			stepErr = errStepFailed
		}
		m.RecordAgentCall(ctx, step.AgentType,
			time.Duration(step.DurationMS)*time.Millisecond,
			step.TokenUsage.TotalTokens, stepErr)
	}
}

// buildExecution folds the run into its persistent record. Passing a
// non-empty errMsg marks the execution failed.
func buildExecution(executionID string, claim model.Claim, workflowType string, startedAt time.Time, steps []model.AgentStepExecution, finalResult, errMsg string) *model.AgentExecution {
	completedAt := time.Now()
	status := model.StatusCompleted
	if errMsg != "" {
		status = model.StatusFailed
	}
	exec := &model.AgentExecution{
		ExecutionID:  executionID,
		ClaimID:      claim.ClaimID,
		WorkflowType: workflowType,
		StartedAt:    startedAt.UTC(),
		CompletedAt:  completedAt.UTC(),
		DurationMS:   completedAt.Sub(startedAt).Milliseconds(),
		Status:       status,
		AgentSteps:   steps,
		FinalResult:  finalResult,
		ErrorMessage: errMsg,
	}
	exec.Totalize()
	return exec
}

// persist writes the execution record. Persistence failures are logged and
// swallowed so the caller still receives the run's outcome.
func (o *Orchestrator) persist(ctx context.Context, exec *model.AgentExecution) bool {
	if o.store == nil {
		return false
	}
	if err := o.store.SaveExecution(ctx, exec); err != nil {
		o.logger.Error("Failed to persist execution",
			"execution_id", exec.ExecutionID,
			"claim_id", exec.ClaimID,
			"error", err)
		return false
	}
	return true
}

// evaluate scores the final synthesis. The result decorates the response
// only; the persisted execution record is never rewritten. Evaluation
// failures are logged and dropped.
func (o *Orchestrator) evaluate(ctx context.Context, claim model.Claim, exec *model.AgentExecution, question string) *model.EvaluationResult {
	if o.evaluator == nil {
		return nil
	}
	result, err := o.evaluator.Evaluate(ctx, evaluation.Request{
		ExecutionID: exec.ExecutionID,
		ClaimID:     claim.ClaimID,
		Question:    question,
		Answer:      exec.FinalResult,
		Context:     claimContext(claim),
	})
	if err != nil {
		o.logger.Warn("Evaluation failed, omitting scores from response",
			"execution_id", exec.ExecutionID,
			"error", err)
		return nil
	}
	return result
}
