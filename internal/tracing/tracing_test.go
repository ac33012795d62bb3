package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wagiedev/stdiomux/internal/config"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.TracingConfig
		wantNoop bool
		wantErr  bool
	}{
		{name: "disabled", cfg: config.TracingConfig{}, wantNoop: true},
		{name: "noop exporter", cfg: config.TracingConfig{Enabled: true, Exporter: "noop"}, wantNoop: true},
		{name: "empty exporter", cfg: config.TracingConfig{Enabled: true}, wantNoop: true},
		{name: "stdout", cfg: config.TracingConfig{Enabled: true, Exporter: "stdout"}},
		{name: "unsupported", cfg: config.TracingConfig{Enabled: true, Exporter: "zipkin"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			defer func() { require.NoError(t, shutdown(context.Background())) }()

			_, isNoop := otel.GetTracerProvider().(noop.TracerProvider)
			require.Equal(t, tt.wantNoop, isNoop)
		})
	}
}

func TestStartSpanAndEnd(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)

	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	_, ok := StartSpan(context.Background(), SpanStep, attribute.String("endpoint", "alpha"))
	End(ok, nil)

	_, failed := StartSpan(context.Background(), SpanProbe)
	End(failed, errors.New("rpc timeout"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	require.Equal(t, SpanStep, spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.String("endpoint", "alpha"))

	require.Equal(t, SpanProbe, spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "rpc timeout", spans[1].Status().Description)
}
