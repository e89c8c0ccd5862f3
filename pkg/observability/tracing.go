// Package observability sets up OpenTelemetry tracing for tablesync and
// provides the span helpers used around batches.
package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/tablesync/pkg/config"
)

const instrumentationName = "github.com/ajitpratap0/tablesync"

var (
	mu       sync.RWMutex
	provider *sdktrace.TracerProvider
)

// Tracer returns the tablesync tracer. It is a no-op until Init enables tracing.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the tablesync meter of the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Init installs a tracer provider exporting to w (stdout when nil). With
// tracing disabled it leaves the global no-op provider in place.
func Init(cfg config.TracingConfig, version string, w io.Writer) error {
	if !cfg.Enabled {
		return nil
	}
	if w == nil {
		w = os.Stdout
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("tablesync"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	Install(sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter),
	))
	return nil
}

// Install makes tp the global tracer provider.
func Install(tp *sdktrace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = tp
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1.0:
		// unset means sample everything once tracing is enabled
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes and stops the installed tracer provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}

// BatchTracer traces the phases of the batches of one table.
type BatchTracer struct {
	table   string
	tracer  trace.Tracer
	batches metric.Int64Counter
	rows    metric.Int64Counter
}

// NewBatchTracer creates a tracer for table using the global providers.
func NewBatchTracer(table string) *BatchTracer {
	bt := &BatchTracer{table: table, tracer: Tracer()}
	m := Meter()
	// instrument errors only come from invalid names
	bt.batches, _ = m.Int64Counter("tablesync.batches", metric.WithDescription("Batches processed"))
	bt.rows, _ = m.Int64Counter("tablesync.rows", metric.WithDescription("Rows written"))
	return bt
}

// TraceBatch runs fn inside a span named after the phase. fn returns the
// number of rows it handled.
func (bt *BatchTracer) TraceBatch(ctx context.Context, phase string, sequence, attempt int, fn func(ctx context.Context) (int64, error)) (int64, error) {
	ctx, span := bt.tracer.Start(ctx, "batch."+phase,
		trace.WithAttributes(
			attribute.String("table", bt.table),
			attribute.Int("batch.sequence", sequence),
			attribute.Int("batch.attempt", attempt),
		),
	)
	defer span.End()

	rows, err := fn(ctx)
	span.SetAttributes(attribute.Int64("batch.rows", rows))

	status := attribute.String("status", getStatus(err))
	if bt.batches != nil {
		bt.batches.Add(ctx, 1, metric.WithAttributes(attribute.String("table", bt.table), attribute.String("phase", phase), status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rows, err
	}
	if bt.rows != nil && phase == "write" {
		bt.rows.Add(ctx, rows, metric.WithAttributes(attribute.String("table", bt.table)))
	}
	span.SetStatus(codes.Ok, "")
	return rows, nil
}

// getStatus returns status string for metrics
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// TracingMiddleware provides HTTP middleware for tracing
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			operationName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			ctx, span := Tracer().Start(ctx, operationName)
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.String("service.name", serviceName),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
