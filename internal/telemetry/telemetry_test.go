package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/danfs-crawler/internal/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Init(context.Background(), config.TelemetryConfig{}, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestInitExportsSpansOnShutdown(t *testing.T) {
	var hits atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	endpoint := strings.TrimPrefix(collector.URL, "http://")
	shutdown, err := Init(context.Background(), config.TelemetryConfig{
		OTLPEndpoint: endpoint,
		Insecure:     true,
		ServiceName:  "danfs-crawler-test",
	}, "test")
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "unit")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))
	require.Positive(t, hits.Load())
}

func TestExporterOptions(t *testing.T) {
	t.Parallel()

	require.Len(t, exporterOptions("collector:4318", false), 1)
	require.Len(t, exporterOptions("collector:4318", true), 2)
	require.Len(t, exporterOptions("https://collector:4318/v1/traces", false), 1)
}
