package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Service: "merger", Network: "testnet"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := Start(context.Background(), "worker", "merge")
	assert.False(t, span.SpanContext().IsValid(), "no-op provider records nothing")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}

func TestStart_TagsSpansWithPass(t *testing.T) {
	rec := recordSpans(t)

	ctx := WithPass(context.Background(), "pass-42")
	_, span := Start(ctx, "worker", "merge", AttrWorker.Int(2), AttrPayer.String("0xa2"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "worker.merge", spans[0].Name())
	assert.Equal(t, "merger/worker", spans[0].InstrumentationScope().Name)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "pass-42", attrs[AttrPassID].AsString())
	assert.Equal(t, int64(2), attrs[AttrWorker].AsInt64())
	assert.Equal(t, "0xa2", attrs[AttrPayer].AsString())
}

func TestStart_WithoutPassOmitsPassID(t *testing.T) {
	rec := recordSpans(t)

	_, span := Start(context.Background(), "scanner", "select_eligible", AttrCursor.Int64(10))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	_, ok := attrMap(spans[0].Attributes())[AttrPassID]
	assert.False(t, ok)
	assert.Empty(t, PassID(context.Background()))
}

func TestResourceAttrs(t *testing.T) {
	attrs := attrMap(resourceAttrs(Config{Network: "mainnet", Ledger: "sqlite"}))
	assert.Equal(t, "merger", attrs[semconv.ServiceNameKey].AsString())
	assert.Equal(t, "mainnet", attrs[AttrNetwork].AsString())
	assert.Equal(t, "sqlite", attrs[AttrLedger].AsString())

	attrs = attrMap(resourceAttrs(Config{Service: "merger-canary"}))
	assert.Equal(t, "merger-canary", attrs[semconv.ServiceNameKey].AsString())
	_, ok := attrs[AttrNetwork]
	assert.False(t, ok)
}

func TestSamplerFor_Clamps(t *testing.T) {
	assert.Contains(t, samplerFor(2).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(-1).Description(), "AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}
