package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")
	log.With("component", "metadata_cache").Info("cache hit", "url", "https://example.test/p/1")
	log.Debug("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache hit", entry["msg"])
	assert.Equal(t, "metadata_cache", entry["component"])
	assert.Equal(t, "https://example.test/p/1", entry["url"])
}

func TestNewWithWriter_Text(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "text").Debug("rendered page", "bytes", 6000)
	assert.Contains(t, buf.String(), "msg=\"rendered page\"")
	assert.Contains(t, buf.String(), "bytes=6000")
}
