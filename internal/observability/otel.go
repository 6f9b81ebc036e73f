package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhishekgusain07/clip-farm/internal/platform/envutil"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

const tracerName = "github.com/abhishekgusain07/clip-farm"

const defaultSampleRatio = 0.1

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string
}

// traceSettings is the OTEL_* environment as the exporter sees it.
type traceSettings struct {
	Enabled     bool
	Exporter    string // otlp, stdout or none
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	SampleRatio float64
}

func traceSettingsFromEnv() traceSettings {
	ts := traceSettings{
		Enabled:     envutil.Bool("OTEL_ENABLED", false),
		Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		Headers:     parseHeaderList(envutil.List("OTEL_EXPORTER_OTLP_HEADERS", nil)),
		SampleRatio: parseSampleRatio(envutil.String("OTEL_SAMPLER_RATIO", "")),
	}
	ts.Exporter = strings.ToLower(envutil.String("OTEL_TRACES_EXPORTER", ""))
	if ts.Exporter == "" {
		ts.Exporter = "stdout"
		if ts.Endpoint != "" {
			ts.Exporter = "otlp"
		}
	}
	return ts
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
)

// InitOTel installs the global tracer provider when OTEL_ENABLED is set and
// returns its shutdown func. Disabled tracing leaves the no-op provider.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		ts := traceSettingsFromEnv()
		if !ts.Enabled {
			return
		}
		if log == nil {
			log = logger.Nop()
		}
		name := strings.TrimSpace(cfg.ServiceName)
		if name == "" {
			name = "clipfarm"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		))
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ts.SampleRatio))),
			sdktrace.WithResource(res),
		}
		exporter, err := newSpanExporter(ctx, ts)
		if err != nil {
			log.Warn("otel exporter init failed (continuing)", "exporter", ts.Exporter, "error", err)
		}
		if exporter != nil {
			opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)

		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized",
			"service", name,
			"exporter", ts.Exporter,
			"endpoint", ts.Endpoint,
			"sample_ratio", ts.SampleRatio,
		)
	})
	return otelShutdown
}

func newSpanExporter(ctx context.Context, ts traceSettings) (sdktrace.SpanExporter, error) {
	switch ts.Exporter {
	case "none":
		return nil, nil
	case "otlp":
		opts := []otlptracehttp.Option{}
		if ts.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(ts.Endpoint))
		}
		if ts.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(ts.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(ts.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func parseSampleRatio(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return defaultSampleRatio
	}
	return min(max(f, 0), 1)
}

// parseHeaderList turns ["k=v", ...] into a header map, skipping malformed
// and empty entries.
func parseHeaderList(parts []string) map[string]string {
	var headers map[string]string
	for _, part := range parts {
		key, val, ok := strings.Cut(part, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			continue
		}
		if headers == nil {
			headers = map[string]string{}
		}
		headers[key] = val
	}
	return headers
}
