package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/pkg/agentruntime"
	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/observability"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/usage"
)

// SingleRunResult is the outcome of running one specialist outside the
// supervisor workflow.
type SingleRunResult struct {
	AgentName     string                 `json:"agent_name"`
	Messages      []agentruntime.Message `json:"messages"`
	ThreadID      string                 `json:"thread_id"`
	Usage         model.TokenUsage       `json:"usage"`
	Failed        bool                   `json:"failed,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

// RunSingleAgent runs one specialist directly against a claim, bypassing
// the supervisor. The response is the raw turn: no annotation or fallback
// post-processing is applied.
func (o *Orchestrator) RunSingleAgent(ctx context.Context, name string, claim model.Claim) (*SingleRunResult, error) {
	if err := model.ValidateClaim(claim); err != nil {
		return nil, fmt.Errorf("invalid claim: %w", err)
	}
	def, ok := o.catalog.Specialist(name)
	if !ok {
		return nil, &specialist.LookupError{Name: name, Reason: specialist.LookupUnknown}
	}
	reg, err := o.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	params := agentruntime.RunParams{
		AgentID:         reg.RemoteID,
		AgentName:       name,
		Model:           def.Model,
		Functions:       reg.ToolFunctions,
		PollInterval:    o.cfg.PollInterval,
		MaxPollDuration: o.cfg.MaxPollDuration,
	}
	if name == specialist.ClaimsDataAnalyst {
		_, query := specialist.ClassifyClaim(claim)
		params.Message = query
		params.ToolChoice = agentruntime.ForceToolType(agentruntime.ToolTypeFabric)
		params.UserToken = claim.BearerToken
	} else {
		params.Message = specialist.ShapePrompt(name, claim, "")
	}

	return o.singleRun(ctx, name, claim.ClaimID, params)
}

// ContinueSingleAgent posts a follow-up message on an existing specialist
// thread, preserving the service-side conversation state.
func (o *Orchestrator) ContinueSingleAgent(ctx context.Context, name, threadID, message, userToken string) (*SingleRunResult, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("thread id is required to continue a conversation")
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message is required to continue a conversation")
	}
	def, ok := o.catalog.Specialist(name)
	if !ok {
		return nil, &specialist.LookupError{Name: name, Reason: specialist.LookupUnknown}
	}
	reg, err := o.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	params := agentruntime.RunParams{
		AgentID:         reg.RemoteID,
		AgentName:       name,
		Model:           def.Model,
		Message:         message,
		ThreadID:        threadID,
		Functions:       reg.ToolFunctions,
		PollInterval:    o.cfg.PollInterval,
		MaxPollDuration: o.cfg.MaxPollDuration,
	}
	if name == specialist.ClaimsDataAnalyst {
		params.UserToken = userToken
	}

	return o.singleRun(ctx, name, "", params)
}

func (o *Orchestrator) singleRun(ctx context.Context, name, claimID string, params agentruntime.RunParams) (*SingleRunResult, error) {
	ctx, span := o.tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, name)))
	defer span.End()
	if claimID != "" {
		span.SetAttributes(attribute.String(observability.AttrClaimID, claimID))
		traceID := span.SpanContext().TraceID().String()
		o.tracker.Begin(traceID, usage.RunContext{ClaimID: claimID})
		defer o.tracker.End(traceID)
	}

	result, err := o.runner.Run(ctx, params)
	if result == nil {
		if err == nil {
			err = errors.New("runner returned neither a result nor an error")
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("agent %s run failed: %w", name, err)
	}

	out := &SingleRunResult{
		AgentName: name,
		Messages:  result.Messages,
		ThreadID:  result.ThreadID,
		Usage:     model.TokenUsage(result.Usage),
	}
	if result.Failed() {
		out.Failed = true
		out.FailureReason = result.FailureReason
		span.SetStatus(codes.Error, result.FailureReason)
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
	return out, nil
}
