package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards all recordings. Used before Initialize and in tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordAgentCall(ctx context.Context, agentType string, duration time.Duration, tokens int, err error) {
}

func (NoopMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
}

func (NoopMetrics) RecordRun(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
}

func (NoopMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration, responseSize int) {
}

var _ Metrics = NoopMetrics{}

// NoopTracer returns a tracer that records nothing.
func NoopTracer(name string) trace.Tracer {
	return noop.NewTracerProvider().Tracer(name)
}

// ActiveMetrics returns the global metrics recorder, or a noop recorder
// when none has been installed yet.
func ActiveMetrics() Metrics {
	if m := GetGlobalMetrics(); m != nil {
		return m
	}
	return NoopMetrics{}
}
