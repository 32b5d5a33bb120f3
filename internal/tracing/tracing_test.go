package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{}, "order-service")
	require.NoError(t, err)

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	cfg := config.TracingConfig{Endpoint: "127.0.0.1:4318", URLPath: "/v1/traces", LogsPath: "/v1/logs", Insecure: true}
	shutdown, err := Setup(context.Background(), cfg, "order-service")
	require.NoError(t, err)

	_, ok := global.GetLoggerProvider().(*sdklog.LoggerProvider)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}
