package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StoredTrace is the W3C trace context persisted next to outbox events and
// reminder jobs, so the process that later publishes them joins the trace of
// the request that created them.
type StoredTrace struct {
	Parent string
	State  string
}

func CaptureTrace(ctx context.Context) StoredTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return StoredTrace{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

// Context returns ctx carrying the stored trace as its remote parent. An
// empty value leaves ctx untouched.
func (t StoredTrace) Context(ctx context.Context) context.Context {
	if t.Parent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": t.Parent}
	if t.State != "" {
		carrier.Set("tracestate", t.State)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
