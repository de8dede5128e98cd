package fsm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fsm"

// startApplySpan creates the span covering a single ApplyEvent call.
// The caller is responsible for calling span.End().
//
//nolint:spancheck // Span lifecycle managed by caller (factory pattern)
func startApplySpan(ctx context.Context, machine, state string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)

	ctx, span := tracer.Start(ctx, "fsm.apply_event")
	span.SetAttributes(
		attribute.String("machine", machine),
		attribute.String("state", state),
	)

	return ctx, span
}
