package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/metadata"
)

func TestNewTracer_NilConfig(t *testing.T) {
	tp, err := NewTracer(nil)

	assert.Nil(t, tp)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestNewTracer_Disabled(t *testing.T) {
	tp, err := NewTracer(&Config{Enabled: false})

	require.NoError(t, err)
	assert.NotNil(t, tp)
	_ = tp.Shutdown(context.Background())
}

func TestNewTracer_EmptyServiceName(t *testing.T) {
	tp, err := NewTracer(&Config{
		Enabled: true,
		OTLP:    &OTLPConfig{Endpoint: "localhost:4318"},
	})

	assert.Nil(t, tp)
	assert.ErrorIs(t, err, ErrEmptyServiceName)
}

func TestNewTracer_EmptyEndpoint(t *testing.T) {
	for _, otlp := range []*OTLPConfig{nil, {Endpoint: ""}} {
		tp, err := NewTracer(&Config{Enabled: true, ServiceName: "pubsub", OTLP: otlp})

		assert.Nil(t, tp)
		assert.ErrorIs(t, err, ErrEmptyEndpoint)
	}
}

func TestNewTracer_Enabled(t *testing.T) {
	tp, err := NewTracer(&Config{
		Enabled:      true,
		ServiceName:  "pubsub",
		SamplingRate: 0.5,
		OTLP: &OTLPConfig{
			Endpoint: "http://localhost:4318",
			Headers:  map[string]string{"Authorization": "Bearer token"},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, tp)
	_ = tp.Shutdown(context.Background())
}

func TestMustNewTracer_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustNewTracer(nil)
	})
}

func TestSamplingRate(t *testing.T) {
	assert.Equal(t, 1.0, samplingRate(0))
	assert.Equal(t, 1.0, samplingRate(-1))
	assert.Equal(t, 1.0, samplingRate(2))
	assert.Equal(t, 0.25, samplingRate(0.25))
}

func TestInjectGRPCMetadata(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	ctx = InjectGRPCMetadata(ctx)

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.NotEmpty(t, md.Get("traceparent"))
}
