package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// BusinessMetrics holds custom business metrics
type BusinessMetrics struct {
	objectWrites         metric.Int64Counter
	preconditionFailures metric.Int64Counter
	syncOperations       metric.Int64Counter
	authAttempts         metric.Int64Counter
	storageUsed          metric.Int64UpDownCounter
}

// NewBusinessMetrics creates business metrics instruments
func NewBusinessMetrics() (*BusinessMetrics, error) {
	meter := otel.Meter(instrumentationName)

	objectWrites, err := meter.Int64Counter(
		"libsync.object.writes",
		metric.WithDescription("Total number of data object writes"),
		metric.WithUnit("{writes}"),
	)
	if err != nil {
		return nil, err
	}

	preconditionFailures, err := meter.Int64Counter(
		"libsync.precondition.failures",
		metric.WithDescription("Total number of conditional request failures"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		return nil, err
	}

	syncOperations, err := meter.Int64Counter(
		"libsync.sync.operations",
		metric.WithDescription("Total number of legacy sync operations"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	authAttempts, err := meter.Int64Counter(
		"libsync.auth.attempts",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	storageUsed, err := meter.Int64UpDownCounter(
		"libsync.storage.bytes",
		metric.WithDescription("Attachment storage used in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		objectWrites:         objectWrites,
		preconditionFailures: preconditionFailures,
		syncOperations:       syncOperations,
		authAttempts:         authAttempts,
		storageUsed:          storageUsed,
	}, nil
}

// RecordObjectWrite records a data object write
func (m *BusinessMetrics) RecordObjectWrite(ctx context.Context, objectType string, changed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("object_type", objectType),
		attribute.Bool("changed", changed),
	}
	m.objectWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPreconditionFailure records a conditional request failure
func (m *BusinessMetrics) RecordPreconditionFailure(ctx context.Context, status int) {
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
	}
	m.preconditionFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSyncOperation records a legacy sync operation and its outcome
func (m *BusinessMetrics) RecordSyncOperation(ctx context.Context, operationType, outcome string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation_type", operationType),
		attribute.String("outcome", outcome),
	}
	m.syncOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuthAttempt records an authentication attempt
func (m *BusinessMetrics) RecordAuthAttempt(ctx context.Context, method string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("auth_method", method),
		attribute.Bool("success", success),
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStoredBytes adjusts the attachment storage gauge
func (m *BusinessMetrics) RecordStoredBytes(ctx context.Context, delta int64) {
	m.storageUsed.Add(ctx, delta)
}
