package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestJSONLogger_LevelsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, slog.LevelInfo)
	ctx := context.Background()

	log.Debug(ctx, "hidden", "k", 0)
	log.Info(ctx, "keepsake delivered", "keepsake_id", "k-1")
	log.Warn(ctx, "delivery skipped", "keepsake_id", "k-2")
	log.Error(ctx, "send failed", "notification_id", "n-1")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3, "debug must be filtered at info level")

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "keepsake delivered", lines[0]["msg"])
	assert.Equal(t, "k-1", lines[0]["keepsake_id"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "ERROR", lines[2]["level"])
	assert.Equal(t, "n-1", lines[2]["notification_id"])
}

func TestJSONLogger_WithAddsModule(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, slog.LevelDebug).With("module", "delivery")

	log.Debug(context.Background(), "scan", "candidates", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "delivery", lines[0]["module"])
	assert.EqualValues(t, 2, lines[0]["candidates"])
}

func TestNopLogger(t *testing.T) {
	var l Logger = NewNopLogger()
	assert.NotPanics(t, func() {
		l.With("a", 1).Error(context.TODO(), "ignored")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
