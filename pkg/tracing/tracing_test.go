package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingProvider() (*Provider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return &Provider{tp: tp, tracer: tp.Tracer("test")}, recorder
}

func TestInitTracerDisabled(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "interpreterd"}, nil)
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderStartSpan(t *testing.T) {
	var p *Provider
	ctx, span := p.StartSpan(context.Background(), "interpret")
	assert.NotNil(t, ctx)
	assert.False(t, span.IsRecording())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestMiddlewarePropagatesClientSpan(t *testing.T) {
	p, recorder := newRecordingProvider()

	var serverSpan trace.SpanContext
	handler := HTTPMiddleware(p)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverSpan = trace.SpanContextFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	ctx, clientSpan := p.StartSpan(context.Background(), "client")
	req := httptest.NewRequest("POST", "/v1/sessions/s/interpreters/echo/interpret", nil)
	InjectHTTPHeaders(ctx, req)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	clientSpan.End()

	assert.Equal(t, clientSpan.SpanContext().TraceID(), serverSpan.TraceID())

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "POST /v1/sessions/s/interpreters/echo/interpret", spans[0].Name())
}
