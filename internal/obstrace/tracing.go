// Package obstrace wires up OpenTelemetry tracing for the merge engine so
// merges show up as spans in an external collector; the analytics exporter
// starts no spans. It is trimmed relative to the log-capture lineage this is
// adapted from: no jaeger branch, no HTTP middleware, no log-entry
// injection helpers — Flow Core has no HTTP surface of its own and no log
// lines that need trace correlation baked in.
package obstrace

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures the tracing manager.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	Exporter       string            `yaml:"exporter"` // "otlp" or "console"
	Endpoint       string            `yaml:"endpoint"`
	SampleRate     float64           `yaml:"sample_rate"`
	BatchTimeout   time.Duration     `yaml:"batch_timeout"`
	MaxBatchSize   int               `yaml:"max_batch_size"`
	Headers        map[string]string `yaml:"headers"`
}

// DefaultConfig returns tracing disabled by default; enabling it is an
// explicit operator decision.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "flowcore",
		ServiceVersion: "v1",
		Environment:    "production",
		Exporter:       "otlp",
		Endpoint:       "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		Headers:        make(map[string]string),
	}
}

// Manager owns the tracer provider's lifecycle. When disabled it hands out
// the global no-op tracer so call sites never need a feature check.
type Manager struct {
	config   Config
	log      *logrus.Entry
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// New constructs a tracing manager. If cfg.Enabled is false, GetTracer
// returns a no-op tracer and no exporter is created.
func New(cfg Config, log *logrus.Logger) (*Manager, error) {
	if log == nil {
		log = logrus.New()
	}
	entry := log.WithField("component", "obstrace")

	if !cfg.Enabled {
		return &Manager{config: cfg, log: entry, tracer: otel.Tracer("flowcore-noop")}, nil
	}

	m := &Manager{config: cfg, log: entry}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create trace resource: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(m.config.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(m.config.MaxBatchSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(m.config.SampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)

	m.log.WithFields(logrus.Fields{
		"exporter":    m.config.Exporter,
		"endpoint":    m.config.Endpoint,
		"sample_rate": m.config.SampleRate,
	}).Info("tracing initialized")
	return nil
}

func (m *Manager) createExporter() (sdktrace.SpanExporter, error) {
	switch m.config.Exporter {
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
		if len(m.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case "console":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", m.config.Exporter)
	}
}

// GetTracer returns the tracer the merge engine starts its spans from.
func (m *Manager) GetTracer() oteltrace.Tracer {
	return m.tracer
}

// Shutdown flushes and stops the tracer provider, if one was created.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}
