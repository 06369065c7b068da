package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation. Without telemetry in the
// context it only times the operation.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}
