package telemetry

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"testing"
)

func TestInit(t *testing.T) {
	previous := otel.GetTracerProvider()
	defer otel.SetTracerProvider(previous)

	shutdown, err := Init("", "orderflow")
	require.NoError(t, err, "трассировка выключена")
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, previous, otel.GetTracerProvider(), "без endpoint провайдер не меняется")
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")

	shutdown, err = Init("http://localhost:14268/api/traces", "orderflow")
	require.NoError(t, err, "экспорт в Jaeger")
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}
