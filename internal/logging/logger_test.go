package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

// captureDefault swaps the default logger for one writing JSON to a buffer.
func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	return &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestFromContext_AddsRequestID(t *testing.T) {
	buf := captureDefault(t)
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")

	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}

func TestWithRun(t *testing.T) {
	buf := captureDefault(t)
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")

	WithRun(ctx, "run-1", "orders.csv").Info("stage done")

	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
	assert.Contains(t, buf.String(), `"source":"orders.csv"`)

	buf.Reset()
	WithRun(context.Background(), "", "orders.csv").Info("no run")
	assert.NotContains(t, buf.String(), "run_id")
}

func TestWithFields(t *testing.T) {
	buf := captureDefault(t)

	WithFields(context.Background(), "run_id", "run-2", "dir", "/tmp/exc").Info("exceptions exported", "rows", 3)

	assert.Contains(t, buf.String(), `"run_id":"run-2"`)
	assert.Contains(t, buf.String(), `"dir":"/tmp/exc"`)
	assert.Contains(t, buf.String(), `"rows":3`)
}
