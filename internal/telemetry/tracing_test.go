package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "test", "  ")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid(), "noop provider should not record spans")
}

func TestInitTracer_WithEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "test", "localhost:4318")
	require.NoError(t, err)
	t.Cleanup(func() {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	assert.Len(t, TraceID(ctx), 32)
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// export to an absent collector fails; shutdown still returns
	_ = shutdown(ctx)
}

func TestTraceID_Empty(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions("localhost:4318"), 3)
	assert.Len(t, exporterOptions("https://collector.example/v1/traces"), 2)
}
