package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "admin-gateway", "test", "1.2.3", "info").
		With(slog.String("component", "publisher"))

	logger.Warn(context.Background(), "event_publish_failed", "publish failed", slog.String("event_id", "e-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "event_publish_failed", line["event"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "publish failed", line["msg"])
	assert.Equal(t, "admin-gateway", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "publisher", line["component"])
	assert.Equal(t, "e-1", line["event_id"])
	assert.Contains(t, line, "ts")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "svc", "test", "", "warn")

	logger.Info(context.Background(), "noise", "dropped")
	logger.Debug(context.Background(), "noise", "dropped")

	assert.Zero(t, buf.Len())
}
