// Package tracer provides the tracing abstraction used by relq.
// The default implementation is backed by OpenTelemetry.
package tracer

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by relq.
const InstrumentationName = "github.com/coregx/relq"

// Span names.
const (
	SpanLoad      = "relq.load"
	SpanStatement = "relq.statement"
	SpanPreload   = "relq.preload"
)

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span that captures the execution of an operation.
type Span interface {
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code codes.Code, description string)
	End()
}

// NoopTracer is a tracer that does nothing (zero overhead when tracing is disabled).
type NoopTracer struct{}

// StartSpan returns the context unchanged with a no-op span.
func (n *NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &NoopSpan{}
}

// NoopSpan is a span that does nothing.
type NoopSpan struct{}

// SetAttributes does nothing.
func (n *NoopSpan) SetAttributes(_ ...attribute.KeyValue) {}

// RecordError does nothing.
func (n *NoopSpan) RecordError(_ error) {}

// SetStatus does nothing.
func (n *NoopSpan) SetStatus(_ codes.Code, _ string) {}

// End does nothing.
func (n *NoopSpan) End() {}

// OtelTracer adapts an OpenTelemetry tracer.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer creates a new OpenTelemetry tracer adapter.
// The provided tracer must not be nil.
func NewOtelTracer(tracer trace.Tracer) *OtelTracer {
	return &OtelTracer{tracer: tracer}
}

// NewGlobal returns a tracer bound to the global OpenTelemetry provider.
func NewGlobal() *OtelTracer {
	return NewOtelTracer(otel.Tracer(InstrumentationName))
}

// StartSpan starts a client span.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	return ctx, &OtelSpan{span: span}
}

// OtelSpan wraps an OpenTelemetry span.
type OtelSpan struct {
	span trace.Span
}

// SetAttributes sets OpenTelemetry attributes on the span.
func (s *OtelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// RecordError records an error on the OpenTelemetry span.
func (s *OtelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

// SetStatus sets the status of the OpenTelemetry span.
func (s *OtelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// End completes the OpenTelemetry span.
func (s *OtelSpan) End() {
	s.span.End()
}

// StatementMetadata describes one executed statement.
type StatementMetadata struct {
	SQL       string
	Dialect   string // postgres, mysql, sqlite
	Operation string // SELECT, UPDATE, DELETE
	Table     string
	LoadID    string
	Rows      int64 // rows read or affected
	Duration  time.Duration
	Err       error
}

// AddStatementAttributes records database semantic convention attributes and
// the span status for a finished statement.
func AddStatementAttributes(span Span, meta *StatementMetadata) {
	attrs := []attribute.KeyValue{
		System(meta.Dialect),
		semconv.DBQueryText(meta.SQL),
		semconv.DBOperationName(meta.Operation),
		attribute.Float64("db.duration_ms", float64(meta.Duration.Microseconds())/1000.0),
		attribute.Int64("db.rows", meta.Rows),
	}
	if meta.Table != "" {
		attrs = append(attrs, semconv.DBCollectionName(meta.Table))
	}
	if meta.LoadID != "" {
		attrs = append(attrs, attribute.String("relq.load_id", meta.LoadID))
	}
	span.SetAttributes(attrs...)

	if meta.Err != nil {
		span.RecordError(meta.Err)
		span.SetStatus(codes.Error, meta.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// System maps a dialect name to the db.system attribute.
func System(dialect string) attribute.KeyValue {
	switch dialect {
	case "postgres":
		return semconv.DBSystemPostgreSQL
	case "mysql":
		return semconv.DBSystemMySQL
	case "sqlite":
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemKey.String(dialect)
	}
}

// DetectOperation returns SELECT, UPDATE, DELETE, INSERT, EXPLAIN, or UNKNOWN.
func DetectOperation(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, op := range []string{"SELECT", "UPDATE", "DELETE", "INSERT", "EXPLAIN"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	if strings.HasPrefix(sql, "WITH") {
		return "SELECT"
	}
	return "UNKNOWN"
}
