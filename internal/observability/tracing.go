package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

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

// StartStoreSpan starts a span for durable store operations
func StartStoreSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("Store %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartDeliverySpan starts a span for a delivery attempt against the server
func StartDeliverySpan(ctx context.Context, kind string, localID int64) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("Deliver %s", kind),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			QueueKind(kind),
			ItemID(localID),
		),
	)
}

// StartProxySpan starts a span for a cache proxy decision
func StartProxySpan(ctx context.Context, class string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("Proxy %s", class),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.class", class),
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

// DatabaseMetrics holds durable-store metrics
type DatabaseMetrics struct {
	queryDuration metric.Float64Histogram
	queryCount    metric.Int64Counter
	errorCount    metric.Int64Counter
}

// NewDatabaseMetrics creates durable-store metrics instruments
func NewDatabaseMetrics() (*DatabaseMetrics, error) {
	meter := otel.Meter(instrumentationName)

	queryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Durable store query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queryCount, err := meter.Int64Counter(
		"db.query.count",
		metric.WithDescription("Total number of durable store queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"db.error.count",
		metric.WithDescription("Total number of durable store errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		queryDuration: queryDuration,
		queryCount:    queryCount,
		errorCount:    errorCount,
	}, nil
}

// TraceDB wraps sql.DB with tracing
type TraceDB struct {
	db      *sql.DB
	metrics *DatabaseMetrics
}

// NewTraceDB creates a traced database wrapper
func NewTraceDB(db *sql.DB) (*TraceDB, error) {
	metrics, err := NewDatabaseMetrics()
	if err != nil {
		return nil, err
	}

	return &TraceDB{
		db:      db,
		metrics: metrics,
	}, nil
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := StartSpan(ctx, "DB Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	t.record(ctx, duration, err)
	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := StartSpan(ctx, "DB Exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	t.record(ctx, duration, err)
	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := StartSpan(ctx, "DB QueryRow",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	// Note: span.End() should be called after scanning the row
	// This is a limitation of the sql.Row interface

	row := t.db.QueryRowContext(ctx, query, args...)
	span.End()
	return row
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

func (t *TraceDB) record(ctx context.Context, duration time.Duration, err error) {
	t.metrics.queryCount.Add(ctx, 1)
	t.metrics.queryDuration.Record(ctx, float64(duration.Milliseconds()))
	if err != nil {
		t.metrics.errorCount.Add(ctx, 1)
	}
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// SyncMetrics holds queue and delivery metrics
type SyncMetrics struct {
	enqueues         metric.Int64Counter
	deliveries       metric.Int64Counter
	deliveryFailures metric.Int64Counter
	syncRuns         metric.Int64Counter
}

// NewSyncMetrics creates queue and delivery metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	enqueues, err := meter.Int64Counter(
		"agent.queue.enqueues",
		metric.WithDescription("Total number of captures queued"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter(
		"agent.sync.deliveries",
		metric.WithDescription("Total number of successful deliveries"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	deliveryFailures, err := meter.Int64Counter(
		"agent.sync.failures",
		metric.WithDescription("Total number of failed delivery attempts"),
		metric.WithUnit("{items}"),
	)
	if err != nil {
		return nil, err
	}

	syncRuns, err := meter.Int64Counter(
		"agent.sync.runs",
		metric.WithDescription("Total number of sync drains started"),
		metric.WithUnit("{runs}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		enqueues:         enqueues,
		deliveries:       deliveries,
		deliveryFailures: deliveryFailures,
		syncRuns:         syncRuns,
	}, nil
}

// RecordEnqueue records a capture entering the queue
func (m *SyncMetrics) RecordEnqueue(ctx context.Context, kind string) {
	m.enqueues.Add(ctx, 1, metric.WithAttributes(QueueKind(kind)))
}

// RecordDelivery records the outcome of one delivery attempt
func (m *SyncMetrics) RecordDelivery(ctx context.Context, kind string, success bool) {
	if success {
		m.deliveries.Add(ctx, 1, metric.WithAttributes(QueueKind(kind)))
	} else {
		m.deliveryFailures.Add(ctx, 1, metric.WithAttributes(QueueKind(kind)))
	}
}

// RecordSyncRun records a drain that actually executed
func (m *SyncMetrics) RecordSyncRun(ctx context.Context) {
	m.syncRuns.Add(ctx, 1)
}

// CacheMetrics holds cache proxy metrics
type CacheMetrics struct {
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// NewCacheMetrics creates cache proxy metrics instruments
func NewCacheMetrics() (*CacheMetrics, error) {
	meter := otel.Meter(instrumentationName)

	hits, err := meter.Int64Counter(
		"agent.cache.hits",
		metric.WithDescription("Requests answered from the cache"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"agent.cache.misses",
		metric.WithDescription("Requests that fell through to the network"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{hits: hits, misses: misses}, nil
}

// RecordLookup records a cache lookup outcome for a request class
func (m *CacheMetrics) RecordLookup(ctx context.Context, class string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache.class", class))
	if hit {
		m.hits.Add(ctx, 1, attrs)
	} else {
		m.misses.Add(ctx, 1, attrs)
	}
}
