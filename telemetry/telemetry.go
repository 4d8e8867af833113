// Package telemetry holds the OpenTelemetry tracer and meter used by agents,
// flows and tools. Both default to noop providers; install real ones with
// SetTracerProvider and SetMeterProvider.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/hupe1980/reagent"

// Span names.
const (
	SpanInvoke   = "reagent.invoke"
	SpanGenerate = "reagent.model.generate"
	SpanToolCall = "reagent.tool.call"
)

// Attribute keys.
const (
	KeyAgent        = attribute.Key("reagent.agent")
	KeyInvocationID = attribute.Key("reagent.invocation_id")
	KeyModel        = attribute.Key("reagent.model")
	KeyProvider     = attribute.Key("reagent.provider")
	KeyIteration    = attribute.Key("reagent.iteration")
	KeyTool         = attribute.Key("reagent.tool")
	KeyToolCallID   = attribute.Key("reagent.tool_call_id")
	KeySuccess      = attribute.Key("reagent.success")
)

var (
	mu sync.RWMutex

	tracer trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	meter  metric.Meter = noopm.Meter{}

	instruments = newInstruments(meter)
)

type counters struct {
	modelCalls    metric.Int64Counter
	toolCalls     metric.Int64Counter
	notifyDropped metric.Int64Counter
}

func newInstruments(m metric.Meter) counters {
	// Instrument creation only fails on invalid names; the noop fallbacks keep
	// recording safe in that case.
	modelCalls, err := m.Int64Counter("reagent.model.calls", metric.WithDescription("Provider round-trips"))
	if err != nil {
		modelCalls, _ = noopm.Meter{}.Int64Counter("reagent.model.calls")
	}
	toolCalls, err := m.Int64Counter("reagent.tool.calls", metric.WithDescription("Tool executions"))
	if err != nil {
		toolCalls, _ = noopm.Meter{}.Int64Counter("reagent.tool.calls")
	}
	dropped, err := m.Int64Counter("reagent.notifications.dropped", metric.WithDescription("Notifications dropped for lagging subscribers"))
	if err != nil {
		dropped, _ = noopm.Meter{}.Int64Counter("reagent.notifications.dropped")
	}
	return counters{modelCalls: modelCalls, toolCalls: toolCalls, notifyDropped: dropped}
}

// SetTracerProvider installs the provider used for new spans.
func SetTracerProvider(tp trace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	tracer = tp.Tracer(instrumentationName)
}

// SetMeterProvider installs the provider used for counters.
func SetMeterProvider(mp metric.MeterProvider) {
	mu.Lock()
	defer mu.Unlock()
	meter = mp.Meter(instrumentationName)
	instruments = newInstruments(meter)
}

// Tracer returns the current tracer.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracer
}

// Meter returns the current meter.
func Meter() metric.Meter {
	mu.RLock()
	defer mu.RUnlock()
	return meter
}

func current() counters {
	mu.RLock()
	defer mu.RUnlock()
	return instruments
}

// StartSpan starts a span with the current tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordModelCall counts one provider round-trip.
func RecordModelCall(ctx context.Context, provider string, success bool) {
	current().modelCalls.Add(ctx, 1, metric.WithAttributes(KeyProvider.String(provider), KeySuccess.Bool(success)))
}

// RecordToolCall counts one tool execution.
func RecordToolCall(ctx context.Context, tool string, success bool) {
	current().toolCalls.Add(ctx, 1, metric.WithAttributes(KeyTool.String(tool), KeySuccess.Bool(success)))
}

// RecordNotificationDropped counts one notification dropped for a lagging subscriber.
func RecordNotificationDropped(ctx context.Context, agent string) {
	current().notifyDropped.Add(ctx, 1, metric.WithAttributes(KeyAgent.String(agent)))
}
