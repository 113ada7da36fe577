package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/redhat-et/did-jwt-verifier"

// Span attribute keys for the credential verification domain.
var (
	AttrKid            = attribute.Key("didverifier.token.kid")
	AttrIssuer         = attribute.Key("didverifier.token.issuer")
	AttrSubject        = attribute.Key("didverifier.token.subject")
	AttrValid          = attribute.Key("didverifier.token.valid")
	AttrReason         = attribute.Key("didverifier.reason")
	AttrDecision       = attribute.Key("didverifier.decision")
	AttrPolicy         = attribute.Key("didverifier.policy")
	AttrHolder         = attribute.Key("didverifier.holder")
	AttrKeySource      = attribute.Key("didverifier.keystore.source")
	AttrBatchSize      = attribute.Key("didverifier.batch.size")
	AttrCallerSPIFFEID = attribute.Key("didverifier.caller.spiffe_id")
)

// Tracer returns the project-wide OTel tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan creates a new span with the given name and optional attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// SetSpanError records an error on the span and sets its status to Error.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to OK.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
