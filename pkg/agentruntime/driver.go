package agentruntime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/pkg/logger"
	"github.com/arbiterhq/arbiter/pkg/observability"
	"github.com/arbiterhq/arbiter/pkg/tool"
)

const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollDuration = 5 * time.Minute
)

// RunDriver executes one conversation turn against the agent service:
// create or reuse a thread, post the user message, start a run, poll it to
// a terminal state, and dispatch tool calls whenever the run pauses in
// requires_action.
type RunDriver struct {
	client Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRunDriver builds a driver on top of a service client.
func NewRunDriver(client Client, log *slog.Logger) *RunDriver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &RunDriver{
		client: client,
		logger: log,
		tracer: observability.GetTracer("arbiter.agentruntime"),
	}
}

// RunParams describe one turn.
type RunParams struct {
	AgentID   string
	AgentName string
	Model     string
	Message   string
	// ThreadID reuses an existing thread when set; empty creates a new one.
	ThreadID  string
	Functions map[string]tool.Invoker
	// ToolChoice optionally forces a specific tool for this run.
	ToolChoice *ToolChoice
	// UserToken is forwarded on run creation for on-behalf-of data access.
	// It is never persisted and never logged.
	UserToken string
	// Operation labels the run's usage records; empty defaults to "run".
	Operation       string
	PollInterval    time.Duration
	MaxPollDuration time.Duration
}

// Run executes one turn and returns the messages produced since the turn
// started, the run's token usage, and the tool results in dispatch order.
//
// Model-side failures (a run ending failed, cancelled, or expired) do not
// return an error: the result carries a single synthesized assistant
// message and the failure reason, so callers can still record a trace. A
// nil error therefore does not imply a completed run; check
// RunResult.Failed.
//
// On deadline expiry the driver attempts a best-effort cancel and returns
// both a partial result (tool results gathered so far) and a
// *TimeoutError.
func (d *RunDriver) Run(ctx context.Context, p RunParams) (*RunResult, error) {
	if p.AgentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if p.Message == "" {
		return nil, fmt.Errorf("message is required")
	}

	pollInterval := p.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	maxPoll := p.MaxPollDuration
	if maxPoll <= 0 {
		maxPoll = DefaultMaxPollDuration
	}

	start := time.Now()
	deadline := start.Add(maxPoll)

	ctx, span := d.tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, p.AgentName),
			attribute.String(observability.AttrLLMModel, p.Model),
		),
	)
	defer span.End()
	if p.Operation != "" {
		span.SetAttributes(attribute.String(observability.AttrOperation, p.Operation))
	}

	runCtx, cancelRunCtx := context.WithDeadline(ctx, deadline)
	defer cancelRunCtx()

	threadID := p.ThreadID
	if threadID == "" {
		thread, err := d.client.CreateThread(runCtx)
		if err != nil {
			return nil, d.transportFailure(ctx, span, start, p, fmt.Errorf("failed to create thread: %w", err))
		}
		threadID = thread.ID
	}
	span.SetAttributes(attribute.String(observability.AttrThreadID, threadID))

	turnStart := time.Now().Unix()
	posted, err := d.client.PostMessage(runCtx, threadID, RoleUser, p.Message)
	if err != nil {
		return nil, d.transportFailure(ctx, span, start, p, fmt.Errorf("failed to post message: %w", err))
	}

	run, err := d.client.CreateRun(runCtx, threadID, RunOptions{
		AgentID:    p.AgentID,
		ToolChoice: p.ToolChoice,
		UserToken:  p.UserToken,
	})
	if err != nil {
		return nil, d.transportFailure(ctx, span, start, p, fmt.Errorf("failed to create run: %w", err))
	}
	span.SetAttributes(attribute.String(observability.AttrRunID, run.ID))

	d.logger.Debug("Run started",
		"agent", p.AgentName,
		"thread_id", threadID,
		"run_id", run.ID)

	var toolResults []ToolResultRecord

	for !run.Status.Terminal() {
		if run.Status == StatusRequiresAction {
			outputs, records := d.dispatchToolCalls(runCtx, run.RequiredAction, p.Functions)
			toolResults = append(toolResults, records...)

			run, err = d.client.SubmitToolOutputs(runCtx, threadID, run.ID, outputs)
			if err != nil {
				if runCtx.Err() != nil {
					return d.abort(ctx, span, start, p, threadID, run.ID, toolResults)
				}
				return nil, d.transportFailure(ctx, span, start, p, fmt.Errorf("failed to submit tool outputs: %w", err))
			}
			continue
		}

		if time.Now().After(deadline) {
			return d.abort(ctx, span, start, p, threadID, run.ID, toolResults)
		}

		select {
		case <-runCtx.Done():
			return d.abort(ctx, span, start, p, threadID, run.ID, toolResults)
		case <-time.After(pollInterval):
		}

		run, err = d.client.GetRun(runCtx, threadID, run.ID)
		if err != nil {
			if runCtx.Err() != nil {
				return d.abort(ctx, span, start, p, threadID, run.ID, toolResults)
			}
			return nil, d.transportFailure(ctx, span, start, p, fmt.Errorf("failed to poll run: %w", err))
		}
	}

	if run.Status != StatusCompleted {
		return d.failedRun(ctx, span, start, p, threadID, run)
	}

	usage := RunUsage{}
	if run.Usage != nil {
		usage = *run.Usage
	}

	allMessages, err := d.client.ListMessages(runCtx, threadID, ListMessagesOptions{Order: "asc", Limit: 100})
	if err != nil {
		return nil, d.transportFailure(ctx, span, start, p, fmt.Errorf("failed to list messages: %w", err))
	}

	result := &RunResult{
		Messages:    messagesSince(allMessages, turnStart, run.ID, posted.ID),
		Usage:       usage,
		ToolResults: toolResults,
		ThreadID:    threadID,
		RunID:       run.ID,
		Status:      StatusCompleted,
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "completed")

	observability.ActiveMetrics().RecordRun(ctx, p.Model, time.Since(start), usage.PromptTokens, usage.CompletionTokens, nil)

	d.logger.Debug("Run completed",
		"agent", p.AgentName,
		"run_id", run.ID,
		"total_tokens", usage.TotalTokens,
		"tool_calls", len(toolResults))

	return result, nil
}

// failedRun synthesizes the result for a run that ended failed, cancelled,
// or expired: one assistant error message, zero usage, no tool results.
func (d *RunDriver) failedRun(ctx context.Context, span trace.Span, start time.Time, p RunParams, threadID string, run Run) (*RunResult, error) {
	reason := string(run.Status)
	if run.LastError != nil && run.LastError.Message != "" {
		reason = run.LastError.Message
	}

	span.SetStatus(codes.Error, reason)
	span.SetAttributes(attribute.String(observability.AttrErrorType, string(run.Status)))

	observability.ActiveMetrics().RecordRun(ctx, p.Model, time.Since(start), 0, 0, fmt.Errorf("run %s: %s", run.Status, reason))

	d.logger.Warn("Run ended without completing",
		"agent", p.AgentName,
		"run_id", run.ID,
		"status", run.Status,
		"reason", reason)

	return &RunResult{
		Messages:      []Message{TextMessage(RoleAssistant, "Error: Agent run failed - "+reason)},
		ThreadID:      threadID,
		RunID:         run.ID,
		Status:        run.Status,
		FailureReason: reason,
	}, nil
}

// abort handles deadline expiry and caller cancellation: best-effort
// cancel RPC, then a partial result plus the terminal error.
func (d *RunDriver) abort(ctx context.Context, span trace.Span, start time.Time, p RunParams, threadID, runID string, toolResults []ToolResultRecord) (*RunResult, error) {
	elapsed := time.Since(start)

	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := d.client.CancelRun(cancelCtx, threadID, runID); err != nil {
		d.logger.Warn("Best-effort run cancel failed", "run_id", runID, "error", err)
	}

	var terminal error
	reason := ""
	if ctxErr := ctx.Err(); ctxErr != nil {
		terminal = ctxErr
		reason = "run cancelled: " + ctxErr.Error()
	} else {
		terminal = &TimeoutError{ThreadID: threadID, RunID: runID, Elapsed: elapsed}
		reason = terminal.Error()
	}

	span.RecordError(terminal)
	span.SetStatus(codes.Error, reason)

	observability.ActiveMetrics().RecordRun(ctx, p.Model, elapsed, 0, 0, terminal)

	d.logger.Warn("Run aborted",
		"agent", p.AgentName,
		"run_id", runID,
		"elapsed", elapsed.Round(time.Millisecond),
		"tool_results", len(toolResults))

	result := &RunResult{
		Messages:      []Message{TextMessage(RoleAssistant, "Error: Agent run failed - "+reason)},
		ToolResults:   toolResults,
		ThreadID:      threadID,
		RunID:         runID,
		Status:        StatusCancelled,
		FailureReason: reason,
	}
	return result, terminal
}

func (d *RunDriver) transportFailure(ctx context.Context, span trace.Span, start time.Time, p RunParams, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observability.ActiveMetrics().RecordRun(ctx, p.Model, time.Since(start), 0, 0, err)
	return err
}

// messagesSince keeps the messages belonging to this turn: the posted user
// message, anything attributed to the run, and (for services that omit run
// attribution) anything created after the turn started.
func messagesSince(all []Message, sinceUnix int64, runID, postedID string) []Message {
	out := make([]Message, 0, len(all))
	for _, m := range all {
		switch {
		case postedID != "" && m.ID == postedID:
			out = append(out, m)
		case runID != "" && m.RunID == runID:
			out = append(out, m)
		case m.RunID == "" && m.CreatedAt >= sinceUnix:
			out = append(out, m)
		}
	}
	return out
}
