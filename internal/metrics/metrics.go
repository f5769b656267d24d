// Package metrics records relq statement and loading metrics through the
// OpenTelemetry metric API.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope used by NewGlobal.
const MeterName = "github.com/coregx/relq"

// Recorder holds the relq instruments. A nil *Recorder records nothing.
type Recorder struct {
	statementDuration metric.Float64Histogram
	statements        metric.Int64Counter
	statementErrors   metric.Int64Counter
	loadedRecords     metric.Int64Histogram
	preloadKeys       metric.Int64Histogram
	preloadSkipped    metric.Int64Counter
	batches           metric.Int64Counter
	stmtCacheHits     metric.Int64Counter
	stmtCacheMisses   metric.Int64Counter
}

// NewGlobal creates a Recorder on the global meter provider.
func NewGlobal() (*Recorder, error) {
	return New(otel.Meter(MeterName))
}

// New creates a Recorder using the given meter.
func New(meter metric.Meter) (*Recorder, error) {
	statementDuration, err := meter.Float64Histogram(
		"relq.statement.duration",
		metric.WithDescription("Duration of executed statements in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement duration histogram: %w", err)
	}

	statements, err := meter.Int64Counter(
		"relq.statements.total",
		metric.WithDescription("Total number of executed statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement counter: %w", err)
	}

	statementErrors, err := meter.Int64Counter(
		"relq.statement.errors",
		metric.WithDescription("Number of failed statements by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement error counter: %w", err)
	}

	loadedRecords, err := meter.Int64Histogram(
		"relq.load.records",
		metric.WithDescription("Number of records materialized by a load"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loaded records histogram: %w", err)
	}

	preloadKeys, err := meter.Int64Histogram(
		"relq.preload.keys",
		metric.WithDescription("Number of owner keys in a preload query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preload keys histogram: %w", err)
	}

	preloadSkipped, err := meter.Int64Counter(
		"relq.preload.skipped",
		metric.WithDescription("Number of preload queries skipped because no owner keys were present"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create preload skipped counter: %w", err)
	}

	batches, err := meter.Int64Counter(
		"relq.batches.total",
		metric.WithDescription("Number of batches yielded by batch enumeration"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch counter: %w", err)
	}

	stmtCacheHits, err := meter.Int64Counter(
		"relq.stmt_cache.hits",
		metric.WithDescription("Number of prepared statement cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement cache hits counter: %w", err)
	}

	stmtCacheMisses, err := meter.Int64Counter(
		"relq.stmt_cache.misses",
		metric.WithDescription("Number of prepared statement cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement cache misses counter: %w", err)
	}

	return &Recorder{
		statementDuration: statementDuration,
		statements:        statements,
		statementErrors:   statementErrors,
		loadedRecords:     loadedRecords,
		preloadKeys:       preloadKeys,
		preloadSkipped:    preloadSkipped,
		batches:           batches,
		stmtCacheHits:     stmtCacheHits,
		stmtCacheMisses:   stmtCacheMisses,
	}, nil
}

// RecordStatement records one executed statement. errorKind is empty on success.
func (r *Recorder) RecordStatement(ctx context.Context, operation, table string, duration time.Duration, errorKind string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.Bool("has_error", errorKind != ""),
	)
	r.statementDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	r.statements.Add(ctx, 1, attrs)
	if errorKind != "" {
		r.statementErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("error_kind", errorKind),
		))
	}
}

// RecordLoad records how many records a load materialized.
func (r *Recorder) RecordLoad(ctx context.Context, table string, records int) {
	if r == nil {
		return
	}
	r.loadedRecords.Record(ctx, int64(records), metric.WithAttributes(attribute.String("table", table)))
}

// RecordPreload records the key count of a preload query, or a skip when keys is zero.
func (r *Recorder) RecordPreload(ctx context.Context, association string, keys int) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("association", association))
	if keys == 0 {
		r.preloadSkipped.Add(ctx, 1, attrs)
		return
	}
	r.preloadKeys.Record(ctx, int64(keys), attrs)
}

// RecordBatch counts one yielded batch.
func (r *Recorder) RecordBatch(ctx context.Context, table string) {
	if r == nil {
		return
	}
	r.batches.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// RecordStmtCache counts a prepared statement cache lookup.
func (r *Recorder) RecordStmtCache(ctx context.Context, hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.stmtCacheHits.Add(ctx, 1)
		return
	}
	r.stmtCacheMisses.Add(ctx, 1)
}
