package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"

	"github.com/willibrandon/pipekit/internal/config"
	"github.com/willibrandon/pipekit/internal/pipe"
)

// Name is the service name registered with the OS service manager.
const Name = "pipekit"

// Exit codes for CLI commands
const (
	ExitSuccess          = 0
	ExitPermissionDenied = 1
	ExitServiceExists    = 2
	ExitConfigError      = 3
	ExitServiceNotFound  = 1
	ExitAlreadyRunning   = 2
	ExitStartFailed      = 3
	ExitNotRunning       = 1
	ExitStopFailed       = 2
	ExitStopped          = 2
)

var (
	ErrAlreadyInstalled = errors.New("service already installed")
	ErrNotInstalled     = errors.New("service not installed")
	ErrServiceRunning   = errors.New("service already running")
	ErrNotRunning       = errors.New("service not running")
)

// ServiceConfig holds configuration for creating the service.
type ServiceConfig struct {
	ConfigPath string
	UserMode   bool
	Debug      bool
}

// program implements service.Program around a Runner.
type program struct {
	runner     *Runner
	configPath string
}

// Start must return quickly; Runner.Start only waits for the pipe to exist.
func (p *program) Start(s service.Service) error {
	cfg, err := config.LoadFromPath(p.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r, err := NewRunner(cfg, DefaultPIDFilePath())
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}
	p.runner = r
	return nil
}

// Stop is called when the service stops.
func (p *program) Stop(s service.Service) error {
	if p.runner != nil {
		return p.runner.Stop()
	}
	return nil
}

// serviceConfig builds the kardianos configuration for svcConfig.
func serviceConfig(svcConfig ServiceConfig) *service.Config {
	cfg := &service.Config{
		Name:        Name,
		DisplayName: "Pipekit Echo Server",
		Description: "Serves the pipekit named pipe echo endpoint for local clients.",
	}

	// Auto-detect a user install from the LaunchAgents plist
	userMode := svcConfig.UserMode
	if !userMode {
		userMode = isUserServiceInstalled()
	}
	if userMode {
		cfg.Option = service.KeyValue{
			"UserService": true,
		}
	}

	switch runtime.GOOS {
	case "darwin":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"KeepAlive":      true,
			"RunAtLoad":      true,
			"LaunchOnlyOnce": false,
		})
	case "linux":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"Restart": "on-failure",
		})
	case "windows":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   10,
		})
	}

	cfg.Arguments = []string{"run"}
	if svcConfig.ConfigPath != "" {
		cfg.Arguments = append(cfg.Arguments, "--config", svcConfig.ConfigPath)
	}
	if svcConfig.Debug {
		cfg.Arguments = append(cfg.Arguments, "--debug")
	}
	return cfg
}

// NewService creates a new service instance.
func NewService(svcConfig ServiceConfig) (service.Service, error) {
	prg := &program{configPath: svcConfig.ConfigPath}
	return service.New(prg, serviceConfig(svcConfig))
}

// Run hands control to the service manager, or runs interactively until
// interrupted when started from a terminal.
func Run(svcConfig ServiceConfig) error {
	svc, err := NewService(svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return svc.Run()
}

// mergeOptions merges two KeyValue maps.
func mergeOptions(base, additional service.KeyValue) service.KeyValue {
	if base == nil {
		base = service.KeyValue{}
	}
	for k, v := range additional {
		base[k] = v
	}
	return base
}

// installedStatus returns the service status, or ErrNotInstalled.
func installedStatus(svc service.Service) (service.Status, error) {
	status, err := svc.Status()
	if err != nil || status == service.StatusUnknown {
		return status, ErrNotInstalled
	}
	return status, nil
}

// Install installs the service.
func Install(svcConfig ServiceConfig) error {
	svc, err := NewService(svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if _, err := installedStatus(svc); err == nil {
		return ErrAlreadyInstalled
	}

	if err := svc.Install(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	return nil
}

// Uninstall stops the service if it is running and removes it.
func Uninstall() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := installedStatus(svc)
	if err != nil {
		return err
	}
	if status == service.StatusRunning {
		_ = svc.Stop()
	}

	if err := svc.Uninstall(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}

// StartService starts the installed service and checks that it stays up.
func StartService() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := installedStatus(svc)
	if err != nil {
		return err
	}
	if status == service.StatusRunning {
		return ErrServiceRunning
	}

	if err := svc.Start(); err != nil {
		// launchd throttles services that failed repeatedly; reload and retry once.
		if runtime.GOOS != "darwin" {
			return fmt.Errorf("failed to start service: %w", err)
		}
		if recoverErr := recoverLaunchdService(); recoverErr != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		if retryErr := svc.Start(); retryErr != nil {
			return fmt.Errorf("failed to start service after recovery: %w", retryErr)
		}
	}

	time.Sleep(500 * time.Millisecond)
	status, err = svc.Status()
	if err != nil || status != service.StatusRunning {
		return fmt.Errorf("service failed to start (check logs)")
	}
	return nil
}

// recoverLaunchdService boots the launchd job out and back in.
func recoverLaunchdService() error {
	plistPath := filepath.Join("/Library/LaunchDaemons", Name+".plist")
	domain := "system"
	if isUserServiceInstalled() {
		home, _ := os.UserHomeDir()
		plistPath = filepath.Join(home, "Library", "LaunchAgents", Name+".plist")
		domain = fmt.Sprintf("gui/%d", os.Getuid())
	}

	_ = exec.Command("launchctl", "bootout", domain+"/"+Name).Run()
	time.Sleep(100 * time.Millisecond)
	return exec.Command("launchctl", "bootstrap", domain, plistPath).Run()
}

// StopService stops the running service.
func StopService() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := installedStatus(svc)
	if err != nil {
		return err
	}
	if status != service.StatusRunning {
		return ErrNotRunning
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	return nil
}

// ServiceStatus represents the service status for CLI output.
type ServiceStatus struct {
	State   string `json:"state"`
	PID     int    `json:"pid,omitempty"`
	Pipe    string `json:"pipe,omitempty"`
	Address string `json:"address,omitempty"`
	Access  string `json:"access,omitempty"`
	Version string `json:"version,omitempty"`
}

// GetStatus reports the service manager state plus the configured pipe.
func GetStatus(configPath string) (*ServiceStatus, error) {
	svc, err := NewService(ServiceConfig{ConfigPath: configPath})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	svcStatus, err := svc.Status()
	if err != nil {
		return &ServiceStatus{State: "not_installed"}, nil
	}

	status := &ServiceStatus{State: stateName(svcStatus)}
	if cfg, err := config.LoadFromPath(configPath); err == nil {
		status.Pipe = cfg.Pipe.Name
		status.Address = pipe.FullName(cfg.Pipe.Name)
		status.Access = string(cfg.Pipe.Access)
	}
	if svcStatus == service.StatusRunning {
		if pid, err := CheckPIDFile(DefaultPIDFilePath()); err == nil {
			status.PID = pid
		}
		status.Version = Version
	}
	return status, nil
}

func stateName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PermissionError indicates an operation requires elevated privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if runtime.GOOS == "windows" {
		return "administrator privileges required"
	}
	return "permission denied (try with sudo)"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// isUserServiceInstalled checks for the plist in the user's LaunchAgents.
func isUserServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(homeDir, "Library", "LaunchAgents", Name+".plist"))
	return err == nil
}

// isSystemServiceInstalled checks for the plist in the system LaunchDaemons.
func isSystemServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := os.Stat(filepath.Join("/Library/LaunchDaemons", Name+".plist"))
	return err == nil
}

// RequiresSudo returns true if the installed service requires sudo to manage.
func RequiresSudo() bool {
	return isSystemServiceInstalled() && os.Geteuid() != 0
}
