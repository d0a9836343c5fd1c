package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"licensekit/internal/config"
	"licensekit/pkg/contracts"
)

// MeterName is the instrumentation scope of every licensekit instrument
const MeterName = "licensekit"

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// OTelConfigFromTelemetry maps the telemetry section of the application config
func OTelConfigFromTelemetry(cfg config.TelemetryConfig) *OTelConfig {
	exporter := "none"
	if cfg.TracingEnabled {
		exporter = "stdout"
	}
	return &OTelConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: contracts.Version,
		Environment:    cfg.Environment,
		TraceExporter:  exporter,
		EnableMetrics:  cfg.MetricsEnabled,
		EnableTracing:  cfg.TracingEnabled,
		SampleRatio:    cfg.SampleRate,
	}
}

// DefaultOTelConfig returns a metrics-only configuration
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    config.AppName,
		ServiceVersion: contracts.Version,
		Environment:    "development",
		TraceExporter:  "none",
		EnableMetrics:  true,
		SampleRatio:    1.0,
	}
}

// InitializeOTel sets up tracing and metrics. When metrics are disabled the
// returned Meter is a no-op so instruments can always be created.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	if logger == nil {
		logger = GetLogger()
	}

	ctx := context.Background()

	res := createResource(cfg)

	providers := &OTelProviders{
		Logger: logger,
		Meter:  noop.NewMeterProvider().Meter(MeterName),
		Tracer: otel.Tracer(MeterName),
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

func createResource(cfg *OTelConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	)
}

func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

// initializeMetrics wires a Prometheus exporter on a private registry so
// repeated initialization in one process does not collide
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	otel.SetMeterProvider(mp)

	providers.Logger.DebugContext(ctx, "metrics initialized", slog.String("exporter", "prometheus"))
	return nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// LicenseMetrics holds the instruments of the license authority
type LicenseMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	LicenseOperations        metric.Int64Counter
	LicenseOperationDuration metric.Float64Histogram
	ActivationSlotsCreated   metric.Int64Counter
	GuardBlocks              metric.Int64Counter

	UpdateChecks     metric.Int64Counter
	PackageDownloads metric.Int64Counter
	PackageBytesSent metric.Int64Counter
}

// CreateLicenseMetrics creates the authority's instruments on meter
func CreateLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	var (
		m   LicenseMetrics
		err error
	)

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.LicenseOperations, err = meter.Int64Counter(
		"license_operations_total",
		metric.WithDescription("License operations by operation and resulting license_status"),
	); err != nil {
		return nil, err
	}
	if m.LicenseOperationDuration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ActivationSlotsCreated, err = meter.Int64Counter(
		"license_activation_slots_created_total",
		metric.WithDescription("Activation slots created or reactivated"),
	); err != nil {
		return nil, err
	}
	if m.GuardBlocks, err = meter.Int64Counter(
		"license_guard_blocks_total",
		metric.WithDescription("Requests refused because the client probed too many unknown keys"),
	); err != nil {
		return nil, err
	}
	if m.UpdateChecks, err = meter.Int64Counter(
		"update_checks_total",
		metric.WithDescription("Update checks by product and availability"),
	); err != nil {
		return nil, err
	}
	if m.PackageDownloads, err = meter.Int64Counter(
		"update_package_downloads_total",
		metric.WithDescription("Authorized package downloads"),
	); err != nil {
		return nil, err
	}
	if m.PackageBytesSent, err = meter.Int64Counter(
		"update_package_bytes_total",
		metric.WithDescription("Bytes of package archives served"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordLicenseOperation records one license operation outcome
func (m *LicenseMetrics) RecordLicenseOperation(ctx context.Context, operation, licenseStatus string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("license_status", licenseStatus),
	)
	m.LicenseOperations.Add(ctx, 1, attrs)
	m.LicenseOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSlotCreated counts a newly active activation slot
func (m *LicenseMetrics) RecordSlotCreated(ctx context.Context, product string, reactivated bool) {
	if m == nil {
		return
	}
	m.ActivationSlotsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("product", product),
		attribute.Bool("reactivated", reactivated),
	))
}

// RecordGuardBlock counts a request refused by the guard
func (m *LicenseMetrics) RecordGuardBlock(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.GuardBlocks.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RecordUpdateCheck counts an answered update check
func (m *LicenseMetrics) RecordUpdateCheck(ctx context.Context, product string, available bool) {
	if m == nil {
		return
	}
	m.UpdateChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("product", product),
		attribute.Bool("update_available", available),
	))
}

// RecordDownload counts a served package
func (m *LicenseMetrics) RecordDownload(ctx context.Context, product, version string, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("product", product),
		attribute.String("version", version),
	)
	m.PackageDownloads.Add(ctx, 1, attrs)
	m.PackageBytesSent.Add(ctx, size, attrs)
}

// RecordHTTPRequest records a finished HTTP request
func (m *LicenseMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts the OpenTelemetry trace ID for log correlation
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}
