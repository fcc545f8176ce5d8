package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ToolCallOutcome is the outcome of a tool call as recorded in metrics.
type ToolCallOutcome string

const (
	ToolCallOutcomeSuccess ToolCallOutcome = "success"
	ToolCallOutcomeError   ToolCallOutcome = "error"
)

// CustomMetrics records toolgate's domain metrics.
// The rest of the code uses this interface without checking if telemetry is enabled.
type CustomMetrics interface {
	// RecordToolCall records a single call routed through the gateway.
	RecordToolCall(ctx context.Context, serverID, toolName string, outcome ToolCallOutcome, elapsed time.Duration)

	// RecordServerState records a server entering a new connection state.
	RecordServerState(ctx context.Context, serverID, kind, state string)

	// RecordSandboxRun records one execution inside a sandbox runtime.
	RecordSandboxRun(ctx context.Context, runtime, outcome string, elapsed time.Duration)
}

// NoopCustomMetrics does nothing. It is used when telemetry is disabled.
type NoopCustomMetrics struct{}

func NewNoopCustomMetrics() CustomMetrics {
	return &NoopCustomMetrics{}
}

func (n *NoopCustomMetrics) RecordToolCall(context.Context, string, string, ToolCallOutcome, time.Duration) {
}

func (n *NoopCustomMetrics) RecordServerState(context.Context, string, string, string) {}

func (n *NoopCustomMetrics) RecordSandboxRun(context.Context, string, string, time.Duration) {}

// OtelCustomMetrics records metrics through an OpenTelemetry meter.
type OtelCustomMetrics struct {
	toolCalls        metric.Int64Counter
	toolCallLatency  metric.Float64Histogram
	stateTransitions metric.Int64Counter
	sandboxRuns      metric.Int64Counter
	sandboxLatency   metric.Float64Histogram
}

func NewOtelCustomMetrics(meter metric.Meter) (CustomMetrics, error) {
	toolCalls, err := meter.Int64Counter(
		"toolgate.tool.calls",
		metric.WithDescription("Number of tool calls routed through the gateway"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool call counter: %w", err)
	}
	toolCallLatency, err := meter.Float64Histogram(
		"toolgate.tool.call.duration",
		metric.WithDescription("Latency of tool calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool call histogram: %w", err)
	}
	stateTransitions, err := meter.Int64Counter(
		"toolgate.server.state.transitions",
		metric.WithDescription("Number of tool server connection state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state transition counter: %w", err)
	}
	sandboxRuns, err := meter.Int64Counter(
		"toolgate.sandbox.runs",
		metric.WithDescription("Number of executions inside sandbox runtimes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox run counter: %w", err)
	}
	sandboxLatency, err := meter.Float64Histogram(
		"toolgate.sandbox.run.duration",
		metric.WithDescription("Latency of sandbox executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox run histogram: %w", err)
	}

	return &OtelCustomMetrics{
		toolCalls:        toolCalls,
		toolCallLatency:  toolCallLatency,
		stateTransitions: stateTransitions,
		sandboxRuns:      sandboxRuns,
		sandboxLatency:   sandboxLatency,
	}, nil
}

func (m *OtelCustomMetrics) RecordToolCall(
	ctx context.Context, serverID, toolName string, outcome ToolCallOutcome, elapsed time.Duration,
) {
	attrs := metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.String("tool_name", toolName),
		attribute.String("outcome", string(outcome)),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolCallLatency.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *OtelCustomMetrics) RecordServerState(ctx context.Context, serverID, kind, state string) {
	m.stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server_id", serverID),
		attribute.String("kind", kind),
		attribute.String("state", state),
	))
}

func (m *OtelCustomMetrics) RecordSandboxRun(ctx context.Context, runtime, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("runtime", runtime),
		attribute.String("outcome", outcome),
	)
	m.sandboxRuns.Add(ctx, 1, attrs)
	m.sandboxLatency.Record(ctx, elapsed.Seconds(), attrs)
}
