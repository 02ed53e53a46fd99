package kafka

import (
	"context"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	headers := []kafkago.Header{
		{Key: "traceparent", Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")},
		{Key: "unrelated", Value: []byte("x")},
	}

	ctx := ExtractTraceContext(context.Background(), headers)
	sc := trace.SpanContextFromContext(ctx)

	assert.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
}

func TestExtractTraceContext_NoHeaders(t *testing.T) {
	ctx := ExtractTraceContext(context.Background(), nil)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
