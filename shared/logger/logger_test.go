package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
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
		level     string
		wantLevel []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"info", []string{"INFO", "WARN", "ERROR"}},
		{"WARN", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
		{"bogus", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			out := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: out})
			require.NoError(t, err)

			logger.Debug("Polling city", slog.String("city", "London"))
			logger.Info("Run finished", slog.Int("records_inserted", 3))
			logger.Warn("City failed", slog.String("city", "Colombo"))
			logger.Error("Store unreachable")

			var got []string
			for _, e := range decodeLines(t, out) {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.wantLevel, got)
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	out := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: out})
	require.NoError(t, err)

	logger.Info("Scheduler started", slog.Duration("poll_interval", 0))

	// tint abbreviates levels
	assert.Contains(t, out.String(), "INF")
	assert.Contains(t, out.String(), "Scheduler started")
}

func TestNew_SourceLocation(t *testing.T) {
	out := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", EnableSource: true, writer: out})
	require.NoError(t, err)

	logger.Info("with source")

	entries := decodeLines(t, out)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	logger, err := New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)

	logger.Info("Worker started", slog.String("worker_id", "w-1"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Worker started")
	// no ANSI colour codes in files
	assert.NotContains(t, string(data), "\x1b[")
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
	assert.NoError(t, logger.Close())
}

func TestLogger_Derived(t *testing.T) {
	out := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", writer: out})
	require.NoError(t, err)

	logger.Component("resolver").Info("Fallback fetch", slog.String("city", "Tokyo"))
	logger.WithGroup("run").Info("Finished", slog.String("job", "poll_current"))
	logger.With("service", "worker").Info("Ready")

	entries := decodeLines(t, out)
	require.Len(t, entries, 3)

	assert.Equal(t, "resolver", entries[0]["component"])
	assert.Equal(t, "Tokyo", entries[0]["city"])

	group, ok := entries[1]["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "poll_current", group["job"])

	assert.Equal(t, "worker", entries[2]["service"])
}
