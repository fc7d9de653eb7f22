package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestInitLogger_WritesFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pipekit.log")
	var console bytes.Buffer

	InitLogger(LevelInfo, path, Options{Console: &console})
	defer Close()

	Debug("hidden at info level")
	Info("echo server listening", "pipe", "demo")
	Warn("session timed out", "pipe", "demo")
	Error("connect failed")

	assert.Equal(t, path, LogPath)
	assert.Contains(t, console.String(), "echo server listening")
	assert.Contains(t, console.String(), "pipe=demo")
	assert.NotContains(t, console.String(), "hidden at info level")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"echo server listening"`)

	warn, errs := GetCounts()
	assert.Equal(t, 1, warn)
	assert.Equal(t, 1, errs)

	entries := GetEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "session timed out", entries[0].Message)
	assert.Equal(t, slog.LevelError, entries[1].Level)
}

func TestWith_AddsAttributes(t *testing.T) {
	var console bytes.Buffer
	InitLogger(LevelDebug, filepath.Join(t.TempDir(), "pipekit.log"), Options{Console: &console})
	defer Close()

	With("session", "abc").Debug("peer attached")
	assert.Contains(t, console.String(), "session=abc")
}

func TestRingBuffer_Wraps(t *testing.T) {
	rb := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.add(LogEntry{Level: slog.LevelWarn, Message: string(rune('a' + i))})
	}

	entries := rb.getAll()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message)
	assert.Equal(t, "e", entries[2].Message)

	warn, errs := rb.getCounts()
	assert.Equal(t, 5, warn)
	assert.Zero(t, errs)
}

func TestLogEntry_Format(t *testing.T) {
	entry := LogEntry{
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   slog.LevelWarn,
		Message: "flush failed",
	}
	assert.Equal(t, "15:04:05 WARN  flush failed", entry.Format())
}
