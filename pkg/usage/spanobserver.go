package usage

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/observability"
)

// SpanObserver is a span processor that watches for ended spans carrying
// token attributes and forwards them into the tracker. It is registered
// on the tracer provider at startup, so every agent-service call is
// captured regardless of which component issued it.
type SpanObserver struct {
	tracker *Tracker
}

// NewSpanObserver builds an observer feeding the given tracker.
func NewSpanObserver(tracker *Tracker) *SpanObserver {
	return &SpanObserver{tracker: tracker}
}

func (o *SpanObserver) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

func (o *SpanObserver) OnEnd(s sdktrace.ReadOnlySpan) {
	var (
		promptTokens     int
		completionTokens int
		sawTokens        bool
		modelName        string
		agentType        string
		operation        string
		estimated        bool
	)

	for _, attr := range s.Attributes() {
		switch string(attr.Key) {
		case observability.AttrLLMTokensInput:
			promptTokens = int(attr.Value.AsInt64())
			sawTokens = true
		case observability.AttrLLMTokensOutput:
			completionTokens = int(attr.Value.AsInt64())
			sawTokens = true
		case observability.AttrLLMModel:
			modelName = attr.Value.AsString()
		case observability.AttrAgentName:
			agentType = attr.Value.AsString()
		case observability.AttrOperation:
			operation = attr.Value.AsString()
		case observability.AttrTokensEstimated:
			estimated = attr.Value.AsBool()
		}
	}

	if !sawTokens {
		return
	}

	if operation == "" {
		switch s.Name() {
		case observability.SpanEvaluation:
			operation = model.OperationEvaluation
		default:
			operation = model.OperationRun
		}
	}

	spanCtx := s.SpanContext()
	o.tracker.RecordTokenUsage(context.Background(), Usage{
		TraceID:          spanCtx.TraceID().String(),
		SpanID:           spanCtx.SpanID().String(),
		Model:            modelName,
		AgentType:        agentType,
		Operation:        operation,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		DurationMS:       s.EndTime().Sub(s.StartTime()).Milliseconds(),
		Success:          s.Status().Code != codes.Error,
		Error:            statusError(s),
		Estimated:        estimated,
	})
}

func (o *SpanObserver) Shutdown(ctx context.Context) error { return nil }

func (o *SpanObserver) ForceFlush(ctx context.Context) error { return nil }

func statusError(s sdktrace.ReadOnlySpan) string {
	if s.Status().Code == codes.Error {
		return s.Status().Description
	}
	return ""
}

var _ sdktrace.SpanProcessor = (*SpanObserver)(nil)
