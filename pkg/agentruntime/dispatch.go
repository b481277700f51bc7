package agentruntime

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/pkg/observability"
	"github.com/arbiterhq/arbiter/pkg/tool"
)

// dispatchToolCalls executes every pending tool call of one
// requires_action round and returns the outputs to submit plus the
// in-memory records, both in the order the service surfaced the calls.
// Every call id gets exactly one output; failures become error strings so
// the run can continue.
func (d *RunDriver) dispatchToolCalls(ctx context.Context, action *RequiredAction, functions map[string]tool.Invoker) ([]ToolOutput, []ToolResultRecord) {
	if action == nil || action.SubmitToolOutputs == nil {
		return nil, nil
	}

	calls := action.SubmitToolOutputs.ToolCalls
	outputs := make([]ToolOutput, 0, len(calls))
	records := make([]ToolResultRecord, 0, len(calls))

	for _, call := range calls {
		output := d.executeToolCall(ctx, call, functions)
		outputs = append(outputs, ToolOutput{ToolCallID: call.ID, Output: output})
		records = append(records, ToolResultRecord{
			FunctionName: call.Function.Name,
			CallID:       call.ID,
			Arguments:    call.Function.Arguments,
			Output:       output,
		})
	}

	return outputs, records
}

func (d *RunDriver) executeToolCall(ctx context.Context, call ToolCallRef, functions map[string]tool.Invoker) string {
	name := call.Function.Name
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)),
	)
	defer span.End()

	invoke, ok := functions[name]
	if !ok {
		err := fmt.Errorf("function not registered: %s", name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ActiveMetrics().RecordToolExecution(ctx, name, time.Since(start), err)
		d.logger.Warn("Tool call for unregistered function", "function", name, "call_id", call.ID)
		return "Error: function not registered: " + name
	}

	args, err := tool.ParseArguments(call.Function.Arguments)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ActiveMetrics().RecordToolExecution(ctx, name, time.Since(start), err)
		d.logger.Warn("Tool arguments failed to parse", "function", name, "call_id", call.ID, "error", err)
		return fmt.Sprintf("Error: failed to parse arguments for %s: %v", name, err)
	}

	value, err := safeInvoke(ctx, invoke, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ActiveMetrics().RecordToolExecution(ctx, name, time.Since(start), err)
		d.logger.Warn("Tool invocation failed", "function", name, "call_id", call.ID, "error", err)
		return fmt.Sprintf("Error executing %s: %s", name, err.Error())
	}

	span.SetStatus(codes.Ok, "")
	observability.ActiveMetrics().RecordToolExecution(ctx, name, time.Since(start), nil)

	return tool.CoerceOutput(value)
}

// safeInvoke converts invoker panics into errors so a misbehaving tool
// cannot take down the run.
func safeInvoke(ctx context.Context, invoke tool.Invoker, args tool.Arguments) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return invoke(ctx, args)
}
