package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNewTextToFallback(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info("hidden")
	log.Warn("sync failed", "project", "WEB")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "project=WEB")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info("run finished", "issues", 12)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run finished", rec["msg"])
	assert.Equal(t, float64(12), rec["issues"])
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "watch.log")
	log, closer, err := New(Options{File: path, MaxSizeMB: 1, MaxBackups: 1}, nil)
	require.NoError(t, err)

	log.Info("tick", "n", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=tick")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
