package client

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ============================================================================
// LoggingHook - Logs batch operations
// ============================================================================

// LoggingHook logs batch operations with configurable detail levels.
type LoggingHook struct {
	logger       Logger
	logReplies   bool // Log rendered replies
	logDurations bool // Log execution times
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logReplies, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:       logger,
		logReplies:   logReplies,
		logDurations: logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	h.logger.Debug("batch operation starting",
		String("operation", hookCtx.Operation),
		String("batch_id", hookCtx.BatchID),
		Int("commands", hookCtx.Commands),
		String("trace_id", hookCtx.TraceID))
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("operation", hookCtx.Operation),
		String("batch_id", hookCtx.BatchID),
		String("trace_id", hookCtx.TraceID),
		Int("commands", hookCtx.Commands),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, Error("error", hookCtx.Error))
		h.logger.Error("batch operation failed", fields...)
		return nil
	}

	if h.logReplies && hookCtx.Replies != nil {
		fields = append(fields, String("replies", hookCtx.Replies.String()))
	}
	h.logger.Debug("batch operation completed", fields...)
	return nil
}

// ============================================================================
// MetricsHook - Prometheus metrics for batch operations
// ============================================================================

// MetricsHook records batch operation counts, durations and sizes.
type MetricsHook struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	batchSize  *prometheus.HistogramVec
	aborts     prometheus.Counter
}

// NewMetricsHook creates a metrics hook registering its collectors with reg.
// A nil reg creates unregistered collectors.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	factory := promauto.With(reg)

	return &MetricsHook{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_operations_total",
			Help:      "The total number of batch operations by operation, strategy and outcome.",
		}, []string{"operation", "strategy", "outcome"}),

		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_operation_duration_seconds",
			Help:      "Latency of batch operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation", "strategy"}),

		batchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_commands",
			Help:      "The number of commands per executed batch.",
			Buckets:   []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		}, []string{"strategy"}),

		aborts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transaction_aborts_total",
			Help:      "The total number of transactions aborted by the server.",
		}),
	}
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	strategy := strategyLabel(hookCtx)

	outcome := "success"
	switch {
	case errors.Is(hookCtx.Error, ErrTransactionAborted):
		outcome = "aborted"
		h.aborts.Inc()
	case hookCtx.Error != nil:
		outcome = "error"
	}

	h.operations.WithLabelValues(hookCtx.Operation, strategy, outcome).Inc()
	h.durations.WithLabelValues(hookCtx.Operation, strategy).Observe(hookCtx.Duration.Seconds())

	if hookCtx.Operation == "exec" && hookCtx.Error == nil {
		h.batchSize.WithLabelValues(strategy).Observe(float64(hookCtx.Commands))
	}

	return nil
}

// Collectors returns the hook's collectors, for registering with a custom registry.
func (h *MetricsHook) Collectors() []prometheus.Collector {
	return []prometheus.Collector{h.operations, h.durations, h.batchSize, h.aborts}
}

func strategyLabel(hookCtx *HookContext) string {
	switch {
	case !hookCtx.Transaction:
		return "pipeline"
	case hookCtx.Piped:
		return "transaction_piped"
	default:
		return "transaction"
	}
}

// ============================================================================
// TracingHook - OpenTelemetry spans around batch operations
// ============================================================================

const traceSpanKey = "trace_span"

// TracingHook starts one client span per batch operation.
type TracingHook struct {
	tracer trace.Tracer
}

// NewTracingHook creates a tracing hook. A nil tracer uses the global provider.
func NewTracingHook(tracer trace.Tracer) *TracingHook {
	if tracer == nil {
		tracer = otel.Tracer("github.com/dan-strohschein/qpipe/client")
	}
	return &TracingHook{tracer: tracer}
}

func (h *TracingHook) Name() string {
	return "tracing"
}

func (h *TracingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	_, span := h.tracer.Start(ctx, "qpipe."+hookCtx.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", hookCtx.Operation),
			attribute.String("qpipe.batch_id", hookCtx.BatchID),
			attribute.String("qpipe.strategy", strategyLabel(hookCtx)),
		))
	hookCtx.Metadata[traceSpanKey] = span
	return nil
}

func (h *TracingHook) After(ctx context.Context, hookCtx *HookContext) error {
	span, ok := hookCtx.Metadata[traceSpanKey].(trace.Span)
	if !ok {
		return nil
	}
	defer span.End()

	span.SetAttributes(attribute.Int("qpipe.commands", hookCtx.Commands))
	if len(hookCtx.Keys) > 0 {
		span.SetAttributes(attribute.StringSlice("qpipe.watch_keys", hookCtx.Keys))
	}

	if hookCtx.Error != nil {
		span.RecordError(hookCtx.Error)
		span.SetStatus(codes.Error, hookCtx.Error.Error())
	}
	return nil
}
