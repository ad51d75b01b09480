package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetricsRegistry registers the engine's Prometheus instruments on
// reg instead of an isolated registry.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithTracer sets the tracer used for per-node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMaxConcurrentRuns caps how many runs may execute at once across
// all threads. Zero or negative means no cap.
func WithMaxConcurrentRuns(n int64) Option {
	return func(e *Engine) { e.maxConcurrent = n }
}

// WithNodeTimeout bounds each handler invocation. Zero disables the
// per-node deadline.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}
