package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	tp, shutdown, err := Init(ctx, Config{}, "ftpd", "dev")
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(ctx, "ftp.NOOP")
	assert.False(t, span.SpanContext().IsValid(), "no-op spans carry no ids")
	span.End()

	assert.NoError(t, shutdown(ctx))
}

func TestInitEnabled(t *testing.T) {
	ctx := context.Background()

	// The gRPC exporter connects lazily, so no collector is needed.
	tp, shutdown, err := Init(ctx, Config{
		Enabled:    true,
		Endpoint:   "127.0.0.1:4317",
		Insecure:   true,
		SampleRate: 1,
	}, "ftpd", "test")
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "ftp.RETR")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	// Flushing to a missing collector may fail; it must not hang.
	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = shutdown(sctx)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := Sampler(tt.rate).Description()
		assert.True(t, strings.HasPrefix(desc, "ParentBased{"), desc)
		assert.Contains(t, desc, "root:"+tt.want, "rate %v", tt.rate)
	}

	var _ sdktrace.Sampler = Sampler(0.5)
}
