package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("arbiter")

	agentDuration, err := meter.Float64Histogram(
		"arbiter_agent_call_duration_seconds",
		metric.WithDescription("Specialist agent call duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}

	agentCalls, err := meter.Int64Counter(
		"arbiter_agent_calls_total",
		metric.WithDescription("Total specialist agent calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent calls counter: %w", err)
	}

	agentErrors, err := meter.Int64Counter(
		"arbiter_agent_errors_total",
		metric.WithDescription("Total specialist agent errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent errors counter: %w", err)
	}

	agentTokens, err := meter.Int64Counter(
		"arbiter_agent_tokens_used_total",
		metric.WithDescription("Total tokens used by specialist agents"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent tokens counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"arbiter_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"arbiter_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"arbiter_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram(
		"arbiter_run_duration_seconds",
		metric.WithDescription("Agent service run duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	runInputTokens, err := meter.Int64Counter(
		"arbiter_run_tokens_input_total",
		metric.WithDescription("Total prompt tokens reported by runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run input tokens counter: %w", err)
	}

	runOutputTokens, err := meter.Int64Counter(
		"arbiter_run_tokens_output_total",
		metric.WithDescription("Total completion tokens reported by runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run output tokens counter: %w", err)
	}

	runErrors, err := meter.Int64Counter(
		"arbiter_run_errors_total",
		metric.WithDescription("Total failed runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run errors counter: %w", err)
	}

	httpDuration, err := meter.Float64Histogram(
		"arbiter_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	httpRequests, err := meter.Int64Counter(
		"arbiter_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return NewPrometheusMetrics(
		agentDuration,
		agentCalls,
		agentErrors,
		agentTokens,
		toolDuration,
		toolCalls,
		toolErrors,
		runDuration,
		runInputTokens,
		runOutputTokens,
		runErrors,
		httpDuration,
		httpRequests,
	), nil
}
