package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// PrometheusMetricsRecorder exports operation counters and latency
// histograms labelled by operation and result.
type PrometheusMetricsRecorder struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the ledger collectors with reg. A
// nil reg uses the default registerer. Registering twice against the same
// registry reuses the collectors already present.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supplyledger",
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Ledger operations by result.",
		},
		[]string{"operation", "result"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "supplyledger",
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)
	var err error
	if calls, err = registerCollector(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}
	return &PrometheusMetricsRecorder{calls: calls, duration: duration}, nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.calls.WithLabelValues(operation, result).Inc()
	r.duration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// TracingConfig configures OTelTracer.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"` // none|stdout
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// OTelTracer adapts an OpenTelemetry tracer to the service Tracer contract.
type OTelTracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTelTracer builds a tracer from cfg. Disabled tracing yields a no-op
// OpenTelemetry tracer. The stdout exporter writes spans to w (os.Stdout
// when nil is passed by callers that want the default).
func NewOTelTracer(cfg TracingConfig, w io.Writer) (*OTelTracer, error) {
	if !cfg.Enabled {
		return &OTelTracer{tracer: noop.NewTracerProvider().Tracer("noop")}, nil
	}
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		opts := []stdouttrace.Option{}
		if w != nil {
			opts = append(opts, stdouttrace.WithWriter(w))
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
	name := cfg.ServiceName
	if name == "" {
		name = "supplyledger"
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}
	return NewOTelTracerFromProvider(sdktrace.NewTracerProvider(opts...), name), nil
}

// NewOTelTracerFromProvider wraps an existing SDK provider.
func NewOTelTracerFromProvider(provider *sdktrace.TracerProvider, name string) *OTelTracer {
	return &OTelTracer{provider: provider, tracer: provider.Tracer(name)}
}

// Start implements Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("ledger.operation", operation)))
	return ctx, otelSpan{span: span}
}

// Shutdown flushes pending spans.
func (t *OTelTracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetAttributes(attribute.String("ledger.error_kind", domain.ErrorKind(err)))
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
