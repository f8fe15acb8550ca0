package helper

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	record := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestTraceContextHandler(t *testing.T) {
	t.Run("Adds span ids from the context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewTraceContextHandler(slog.NewJSONHandler(&buf, nil)))

		logger.InfoContext(spanContext(t), "Retrieval finished", slog.Int("returned", 3))

		record := decodeRecord(t, &buf)
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", record["trace_id"])
		assert.Equal(t, "00f067aa0ba902b7", record["span_id"])
		assert.Equal(t, float64(3), record["returned"])
	})

	t.Run("Leaves records without a span untouched", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewTraceContextHandler(slog.NewJSONHandler(&buf, nil)))

		logger.InfoContext(context.Background(), "Retrieval finished")

		record := decodeRecord(t, &buf)
		assert.NotContains(t, record, "trace_id")
		assert.NotContains(t, record, "span_id")
	})

	t.Run("Keeps attributes and groups of derived handlers", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewTraceContextHandler(slog.NewJSONHandler(&buf, nil))).
			With(slog.String("component", "pipeline"))

		logger.InfoContext(spanContext(t), "Stage finished")

		record := decodeRecord(t, &buf)
		assert.Equal(t, "pipeline", record["component"])
		assert.Contains(t, record, "trace_id")
	})

	t.Run("Respects the wrapped level", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewTraceContextHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

		assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, handler.Enabled(context.Background(), slog.LevelError))
	})
}

func TestNewTracingLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTracingLogger(&buf, slog.LevelDebug)

	logger.DebugContext(spanContext(t), "Cache hit")

	assert.Contains(t, buf.String(), "Cache hit")
	assert.Contains(t, buf.String(), "4bf92f3577b34da6a3ce929d0e0e4736")
}
