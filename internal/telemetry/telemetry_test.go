package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/praytools/pray-bot/internal/config"
)

// TestSetupNoopWhenEndpointUnset covers Setup's documented escape hatch: a
// blank Endpoint must not touch the network and must still return a usable,
// safely-callable Shutdown.
func TestSetupNoopWhenEndpointUnset(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

// TestTracerNeverNil covers that Tracer() always returns a usable Tracer,
// whether or not Setup installed a real exporter, since every adapter Send
// and cron executeOne call site calls Start on it unconditionally.
func TestTracerNeverNil(t *testing.T) {
	tr := Tracer("pray-bot/test")
	require.NotNil(t, tr)

	_, span := tr.Start(context.Background(), "test-span")
	require.NotNil(t, span)
	span.End()
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	_, span := Tracer("pray-bot/test").Start(context.Background(), "test-span")
	defer span.End()

	require.NotPanics(t, func() { RecordError(span, nil) })
}

func TestRecordErrorSetsStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	_, span := tp.Tracer("pray-bot/test").Start(context.Background(), "test-span")

	require.NotPanics(t, func() { RecordError(span, errors.New("boom")) })
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Equal(t, "boom", ended[0].Status().Description)
}
