package usage

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/observability"
)

func TestSpanObserverForwardsTokenSpans(t *testing.T) {
	sink := &memSink{}
	tracker := NewTracker(sink, nil)
	observer := NewSpanObserver(tracker)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(observer))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), observability.SpanAgentRun)
	_ = ctx

	traceID := span.SpanContext().TraceID().String()
	tracker.Begin(traceID, RunContext{ClaimID: "CLM-42", ExecutionID: "exec-42"})
	defer tracker.End(traceID)

	span.SetAttributes(
		attribute.String(observability.AttrAgentName, "claim_assessor"),
		attribute.String(observability.AttrLLMModel, "gpt-4o"),
		attribute.Int(observability.AttrLLMTokensInput, 120),
		attribute.Int(observability.AttrLLMTokensOutput, 80),
	)
	span.End()

	saved := sink.saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(saved))
	}

	record := saved[0]
	if record.PromptTokens != 120 || record.CompletionTokens != 80 || record.TotalTokens != 200 {
		t.Errorf("tokens = %d/%d/%d", record.PromptTokens, record.CompletionTokens, record.TotalTokens)
	}
	if record.ClaimID != "CLM-42" || record.ExecutionID != "exec-42" {
		t.Errorf("attribution = %s/%s", record.ClaimID, record.ExecutionID)
	}
	if record.AgentType != "claim_assessor" || record.Model != "gpt-4o" {
		t.Errorf("identity = %s/%s", record.AgentType, record.Model)
	}
	if record.OperationType != model.OperationRun {
		t.Errorf("operation = %s", record.OperationType)
	}
	if record.TraceID != traceID {
		t.Errorf("trace id = %s, want %s", record.TraceID, traceID)
	}
	if !record.Success {
		t.Error("span without error status should record success")
	}
}

func TestSpanObserverIgnoresSpansWithoutTokenAttributes(t *testing.T) {
	sink := &memSink{}
	observer := NewSpanObserver(NewTracker(sink, nil))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(observer))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), observability.SpanToolExecution)
	span.SetAttributes(attribute.String(observability.AttrToolName, "claim_assessor"))
	span.End()

	if got := len(sink.saved()); got != 0 {
		t.Errorf("saved %d records for a tokenless span, want 0", got)
	}
}

func TestSpanObserverEvaluationOperation(t *testing.T) {
	sink := &memSink{}
	observer := NewSpanObserver(NewTracker(sink, nil))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(observer))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), observability.SpanEvaluation)
	span.SetAttributes(
		attribute.String(observability.AttrLLMModel, "gpt-4o-mini"),
		attribute.Int(observability.AttrLLMTokensInput, 40),
		attribute.Int(observability.AttrLLMTokensOutput, 10),
	)
	span.End()

	saved := sink.saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(saved))
	}
	if saved[0].OperationType != model.OperationEvaluation {
		t.Errorf("operation = %s, want %s", saved[0].OperationType, model.OperationEvaluation)
	}
}
