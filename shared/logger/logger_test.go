package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	cfg.writer = output
	logger, err := New(&cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	return logger, output
}

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel []string
	}{
		{name: "debug keeps everything", level: "debug", wantLevel: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{name: "info drops debug", level: "info", wantLevel: []string{"INFO", "WARN", "ERROR"}},
		{name: "warn drops info", level: "warn", wantLevel: []string{"WARN", "ERROR"}},
		{name: "error only", level: "error", wantLevel: []string{"ERROR"}},
		{name: "uppercase level", level: "WARN", wantLevel: []string{"WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("job claimed", slog.String("job_id", "a"))
			logger.Info("job done", slog.String("job_id", "a"))
			logger.Warn("job slow", slog.String("job_id", "a"))
			logger.Error("job failed", slog.String("job_id", "a"))

			entries := decodeLines(t, output)
			levels := make([]string, 0, len(entries))
			for _, e := range entries {
				levels = append(levels, e["level"].(string))
				assert.Equal(t, "a", e["job_id"])
				assert.Contains(t, e, "time")
			}
			assert.Equal(t, tt.wantLevel, levels)
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "console", TimeFormat: time.RFC3339, NoColor: true})

	logger.Info("worker pool started", slog.Int("concurrency", 2))

	// tint abbreviates levels
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "worker pool started")
	assert.Contains(t, output.String(), "concurrency=2")
}

func TestNew_SourceLocation(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json", EnableSource: true})

	logger.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "function")
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("job_id", "b"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), `"job_id":"b"`)
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{" Error ", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json"})

	logger.WithGroup("job").Info("transition", slog.String("to", "done"))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	group, ok := entries[0]["job"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", group["to"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json"})

	logger.WithAttrs(
		slog.String("request_id", "12345"),
		slog.String("job_id", "job-67890"),
	).Info("poll")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "12345", entries[0]["request_id"])
	assert.Equal(t, "job-67890", entries[0]["job_id"])
	assert.Equal(t, "poll", entries[0]["msg"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json"})

	logger.With(slog.String("service", "stylize"), slog.Int("version", 1)).Info("ready")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "stylize", entries[0]["service"])
	assert.Equal(t, float64(1), entries[0]["version"]) // JSON numbers are float64
}
