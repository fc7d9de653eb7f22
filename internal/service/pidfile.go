package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned when another pipekit server owns the PID file.
var ErrAlreadyRunning = errors.New("another pipekit server is already running")

// ErrNoPIDFile is returned when no PID file exists.
var ErrNoPIDFile = errors.New("no PID file found")

// ErrStalePIDFile is returned when the PID file exists but the process is not running.
var ErrStalePIDFile = errors.New("stale PID file (process not running)")

// WritePIDFile writes the current process ID to path, refusing when a live
// process already holds it.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if existing, err := ReadPIDFile(path); err == nil && existing > 0 && existing != os.Getpid() {
		if isProcessRunning(existing) {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, existing)
		}
	}

	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPIDFile reads the PID from the PID file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file. A missing file is not an error.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// CheckPIDFile returns the PID of the running server, or 0 when there is none.
func CheckPIDFile(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return 0, nil
		}
		return 0, err
	}

	if !isProcessRunning(pid) {
		return 0, ErrStalePIDFile
	}
	return pid, nil
}

// DefaultPIDFilePath returns ~/.config/pipekit/pipekit.pid.
func DefaultPIDFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "pipekit.pid"
	}
	return filepath.Join(homeDir, ".config", "pipekit", "pipekit.pid")
}
