package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationPrefix = "merger/"

// Span attribute keys shared by the pass stages.
const (
	AttrPassID    = attribute.Key("merger.pass_id")
	AttrNetwork   = attribute.Key("merger.network")
	AttrLedger    = attribute.Key("merger.ledger_driver")
	AttrWorker    = attribute.Key("merger.worker")
	AttrPayer     = attribute.Key("merger.payer")
	AttrBatchSeq  = attribute.Key("merger.batch_seq")
	AttrUnits     = attribute.Key("merger.units")
	AttrStatus    = attribute.Key("merger.status")
	AttrCursor    = attribute.Key("merger.after_position")
	AttrPageLimit = attribute.Key("merger.limit")
)

// Config selects the exporter. An empty Endpoint installs a no-op provider.
type Config struct {
	Service  string
	Network  string
	Ledger   string
	Endpoint string
	Insecure bool
	// SampleRatio is clamped to [0, 1]; child spans follow their parent.
	SampleRatio float64
}

// Init installs the global tracer provider and returns its shutdown, which
// flushes spans still buffered when the pass ends.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	service := cfg.Service
	if service == "" {
		service = "merger"
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(service)}
	if cfg.Network != "" {
		attrs = append(attrs, AttrNetwork.String(cfg.Network))
	}
	if cfg.Ledger != "" {
		attrs = append(attrs, AttrLedger.String(cfg.Ledger))
	}
	return attrs
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

type passKey struct{}

// WithPass tags ctx so every span started under it carries the pass id.
func WithPass(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, passKey{}, passID)
}

// PassID returns the pass id set by WithPass.
func PassID(ctx context.Context) string {
	id, _ := ctx.Value(passKey{}).(string)
	return id
}

// Start opens a span named "<stage>.<op>" on the stage's tracer.
func Start(ctx context.Context, stage, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := PassID(ctx); id != "" {
		attrs = append(attrs, AttrPassID.String(id))
	}
	return otel.Tracer(instrumentationPrefix+stage).Start(ctx, stage+"."+op, trace.WithAttributes(attrs...))
}
