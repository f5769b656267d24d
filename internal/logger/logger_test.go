package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopLogger(t *testing.T) {
	var l Logger = &NoopLogger{}
	assert.NotPanics(t, func() {
		l.Debug("statement executed", "sql", "SELECT 1")
		l.Info("audit_event")
		l.Warn("security_event", "fragment", "1=1; --")
		l.Error("statement failed", "error", nil)
	})
}

func TestSlogAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Debug("statement executed", "rows", 2)
	l.Info("audit_event", "operation", "DELETE")
	l.Warn("security_event", "event_type", "fragment_rejected")
	l.Error("statement failed", "error", "no such table: posts")

	var levels, msgs []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		levels = append(levels, rec["level"].(string))
		msgs = append(msgs, rec["msg"].(string))
	}
	assert.Equal(t, []string{"DEBUG", "INFO", "WARN", "ERROR"}, levels)
	assert.Equal(t, []string{"statement executed", "audit_event", "security_event", "statement failed"}, msgs)
}

func TestSlogAdapter_StatementFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, nil)))

	l.Info("statement executed",
		"sql", `SELECT "posts".* FROM "posts" WHERE "posts"."id" = $1`,
		"params", "[1]",
		"duration_ms", 15,
		"cached", true,
		"err", nil)

	output := buf.String()
	assert.Contains(t, output, `params=[1]`)
	assert.Contains(t, output, "duration_ms=15")
	assert.Contains(t, output, "cached=true")
	assert.Contains(t, output, "err=<nil>")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf})

	logger.With("load_id", "abc").Debug("statement", "rows", 3)

	output := buf.String()
	assert.Contains(t, output, `"load_id":"abc"`)
	assert.Contains(t, output, `"rows":3`)

	noop := &NoopLogger{}
	assert.Same(t, noop, noop.With("k", "v"))
}

func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "k=v")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func BenchmarkNoopLogger(b *testing.B) {
	logger := &NoopLogger{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		logger.Debug("statement",
			"sql", "SELECT * FROM users",
			"duration_ms", 15,
			"rows", 100)
	}
}
