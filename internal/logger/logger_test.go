package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "WARN", "text")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, slog.LevelDebug, l.Level())

	child := l.With("session_id", "abc")
	child.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Contains(t, buf.String(), "session_id=abc")

	assert.Error(t, l.SetLevel("chatty"))
	assert.Equal(t, slog.LevelDebug, l.Level())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "INFO", "json")
	require.NoError(t, err)

	l.Info("session_started", "remote_ip", "192.0.2.1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "session_started", rec["msg"])
	assert.Equal(t, "192.0.2.1", rec["remote_ip"])
}

func TestTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "INFO", "json")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	l.InfoContext(ctx, "traced")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, sc.TraceID().String(), rec["trace_id"])
	assert.Equal(t, sc.SpanID().String(), rec["span_id"])
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "LOUD", "text")
	assert.Error(t, err)
	_, err = NewWithWriter(&bytes.Buffer{}, "INFO", "xml")
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ftpd.log")
	l, err := New(Config{Level: "INFO", Format: "text", Output: path})
	require.NoError(t, err)

	l.Info("written to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}
