package service

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/pipekit/internal/config"
)

// =============================================================================
// Service configuration
// =============================================================================

func TestServiceConfig_Arguments(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ServiceConfig
		expected []string
	}{
		{"defaults", ServiceConfig{}, []string{"run"}},
		{"config path", ServiceConfig{ConfigPath: "/etc/pipekit.yaml"}, []string{"run", "--config", "/etc/pipekit.yaml"}},
		{"debug", ServiceConfig{Debug: true}, []string{"run", "--debug"}},
		{"both", ServiceConfig{ConfigPath: "p.yaml", Debug: true}, []string{"run", "--config", "p.yaml", "--debug"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := serviceConfig(tt.cfg)
			assert.Equal(t, Name, cfg.Name)
			assert.Equal(t, tt.expected, cfg.Arguments)
		})
	}
}

func TestServiceConfig_UserMode(t *testing.T) {
	cfg := serviceConfig(ServiceConfig{UserMode: true})
	assert.Equal(t, true, cfg.Option["UserService"])

	if runtime.GOOS == "linux" {
		assert.Equal(t, "on-failure", cfg.Option["Restart"])
	}
}

func TestMergeOptions(t *testing.T) {
	merged := mergeOptions(nil, service.KeyValue{"a": 1})
	assert.Equal(t, service.KeyValue{"a": 1}, merged)

	merged = mergeOptions(service.KeyValue{"a": 1, "b": 2}, service.KeyValue{"b": 3})
	assert.Equal(t, service.KeyValue{"a": 1, "b": 3}, merged)
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "running", stateName(service.StatusRunning))
	assert.Equal(t, "stopped", stateName(service.StatusStopped))
	assert.Equal(t, "unknown", stateName(service.StatusUnknown))
}

func TestPermissionError(t *testing.T) {
	inner := os.ErrPermission
	err := error(&PermissionError{Err: inner})

	assert.True(t, errors.Is(err, os.ErrPermission))
	var permErr *PermissionError
	assert.True(t, errors.As(err, &permErr))
	assert.NotEmpty(t, err.Error())
}

// =============================================================================
// PID file
// =============================================================================

func TestPIDFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "pipekit.pid")

	require.NoError(t, WritePIDFile(path))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, err := CheckPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), running)

	// Rewriting our own PID is allowed.
	require.NoError(t, WritePIDFile(path))

	require.NoError(t, RemovePIDFile(path))
	require.NoError(t, RemovePIDFile(path))

	_, err = ReadPIDFile(path)
	assert.ErrorIs(t, err, ErrNoPIDFile)

	running, err = CheckPIDFile(path)
	require.NoError(t, err)
	assert.Zero(t, running)
}

func TestPIDFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipekit.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0644))

	_, err := ReadPIDFile(path)
	assert.Error(t, err)
}

func TestPIDFile_Stale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipekit.pid")
	// PIDs this large are above every platform's pid_max.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(1<<30)+"\n"), 0644))

	_, err := CheckPIDFile(path)
	assert.ErrorIs(t, err, ErrStalePIDFile)

	// A stale file does not block a new writer.
	require.NoError(t, WritePIDFile(path))
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, isProcessRunning(os.Getpid()))
	assert.False(t, isProcessRunning(0))
	assert.False(t, isProcessRunning(-1))
}

// =============================================================================
// Runner
// =============================================================================

func TestNewRunner_NilConfig(t *testing.T) {
	_, err := NewRunner(nil, "")
	assert.Error(t, err)
}

func TestRunner_StartInvalidConfig(t *testing.T) {
	r, err := NewRunner(&config.Config{}, "")
	require.NoError(t, err)

	err = r.Start()
	var verr *config.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, StateStopped, r.State())
}
