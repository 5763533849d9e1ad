// Package traces provides OpenTelemetry span helpers for the ledger core.
// It does not configure an exporter itself — that is a deployment concern
// for whatever wires a TracerProvider into the process — it only starts
// spans against whatever provider is globally registered, falling back to
// OpenTelemetry's no-op provider when none is.
package traces

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/slawa19/geoledger"

// StartSpan starts a new span with the given name and returns the updated
// context and span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Common attribute helpers for consistent span decoration across the
// payment engine, clearing engine, and invariant checker.

func ParticipantID(id string) attribute.KeyValue {
	return attribute.String("participant.id", id)
}

func EquivalentID(id string) attribute.KeyValue {
	return attribute.String("equivalent.id", id)
}

func Amount(amount string) attribute.KeyValue {
	return attribute.String("amount", amount)
}

func TransactionID(id string) attribute.KeyValue {
	return attribute.String("transaction.id", id)
}

func PrepareLockID(id string) attribute.KeyValue {
	return attribute.String("prepare_lock.id", id)
}

func CycleDepth(depth int) attribute.KeyValue {
	return attribute.Int("clearing.cycle_depth", depth)
}
