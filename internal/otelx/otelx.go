// Package otelx wires OpenTelemetry tracing: OTLP gRPC export, W3C
// propagation and the HTTP server instrumentation.
package otelx

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

type Options struct {
	Enabled bool
	// Endpoint is host:port of an OTLP gRPC collector
	Endpoint string
	Insecure bool
	// Sample is the ratio of new root traces kept, parent decisions win
	Sample    float64
	Service   string
	Component string
	Version   string
}

// Init installs the global tracer provider and propagator. When disabled a
// provider with no exporter is installed so span contexts still propagate
// and request ids still correlate. The returned shutdown flushes pending
// spans and is safe to call more than once.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otel: endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// the exporter dials lazily, bound the setup anyway
	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otel: create OTLP exporter for %s", o.Endpoint)
	}

	service := o.Service
	if o.Component != "" {
		service += "." + o.Component
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(o.Version),
	))
	if err != nil {
		// conflicting schema urls, fall back to our attributes alone
		res = resource.NewSchemaless(semconv.ServiceName(service), semconv.ServiceVersion(o.Version))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.Sample))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	var once sync.Once
	return func(ctx context.Context) (err error) {
		once.Do(func() { err = tp.Shutdown(ctx) })
		return err
	}, nil
}

// HTTPMiddleware starts a server span per request using the global provider.
// Spans start out named after the method and are renamed to the chi route by
// httpmw.AnnotateHTTPRoute once routing is done.
func HTTPMiddleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method
			}),
		)
	}
}
