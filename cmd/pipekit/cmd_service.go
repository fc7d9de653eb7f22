package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/pipekit/internal/service"
)

// exitOnPermission exits with ExitPermissionDenied when err is a PermissionError.
func exitOnPermission(err error) {
	var permErr *service.PermissionError
	if errors.As(err, &permErr) {
		fmt.Fprintf(os.Stderr, "%s %v\n", criticalFormat("Error:"), permErr)
		os.Exit(service.ExitPermissionDenied)
	}
}

// fail prints err and exits with code.
func fail(err error, code int) {
	fmt.Fprintf(os.Stderr, "%s %v\n", criticalFormat("Error:"), err)
	os.Exit(code)
}

// newInstallCmd creates the install subcommand
func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install pipekit as a system service",
		Long: `Install the echo server as a service that starts on boot.

Use --user to install as a user service (no elevated privileges required).
System service installation requires administrator/root privileges. Set
pipe.access to unrestricted when user clients talk to a system service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := service.Install(service.ServiceConfig{
				ConfigPath: configPath,
				UserMode:   userMode,
				Debug:      debug,
			})
			if err != nil {
				exitOnPermission(err)
				if errors.Is(err, service.ErrAlreadyInstalled) {
					fmt.Fprintln(os.Stderr, mutedFormat("Use 'pipekit uninstall' first to reinstall"))
					fail(err, service.ExitServiceExists)
				}
				fail(err, service.ExitConfigError)
			}

			out := cmd.OutOrStdout()
			kind := "system"
			if userMode {
				kind = "user"
			}
			fmt.Fprintf(out, "%s installed as %s service\n", goodFormat("pipekit"), kind)
			fmt.Fprintln(out, "\nTo start the service:")
			fmt.Fprintln(out, "  pipekit start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&userMode, "user", false, "install as user service instead of system")
	return cmd
}

// newUninstallCmd creates the uninstall subcommand
func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the pipekit service",
		Long:  `Remove the pipekit service. The service will be stopped if running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if service.RequiresSudo() {
				fmt.Fprintln(os.Stderr, mutedFormat("Run: sudo pipekit uninstall"))
				fail(errors.New("system service installed, requires sudo"), service.ExitPermissionDenied)
			}
			if err := service.Uninstall(); err != nil {
				exitOnPermission(err)
				if errors.Is(err, service.ErrNotInstalled) {
					fail(err, service.ExitServiceNotFound)
				}
				fail(err, service.ExitConfigError)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s uninstalled\n", goodFormat("pipekit"))
			return nil
		},
	}
}

// newStartCmd creates the start subcommand
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the installed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.StartService(); err != nil {
				switch {
				case errors.Is(err, service.ErrNotInstalled):
					fmt.Fprintln(os.Stderr, mutedFormat("Install it first with: pipekit install"))
					fail(err, service.ExitServiceNotFound)
				case errors.Is(err, service.ErrServiceRunning):
					fail(err, service.ExitAlreadyRunning)
				}
				fail(err, service.ExitStartFailed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s started\n", goodFormat("pipekit"))
			return nil
		},
	}
}

// newStopCmd creates the stop subcommand
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.StopService(); err != nil {
				if errors.Is(err, service.ErrNotInstalled) || errors.Is(err, service.ErrNotRunning) {
					fail(err, service.ExitNotRunning)
				}
				fail(err, service.ExitStopFailed)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", goodFormat("pipekit"))
			return nil
		},
	}
}

// newStatusCmd creates the status subcommand
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show service status including:
  - Service state (running/stopped/not installed)
  - Configured pipe and access mode
  - PID and version when running`,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := service.GetStatus(configPath)
			if err != nil {
				fail(err, 1)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					fail(fmt.Errorf("encoding JSON: %w", err), 1)
				}
			} else {
				printHumanStatus(cmd, status)
			}

			switch status.State {
			case "not_installed":
				os.Exit(service.ExitServiceNotFound)
			case "stopped":
				os.Exit(service.ExitStopped)
			case "running":
				return nil
			default:
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

// printHumanStatus prints the status in human-readable format.
func printHumanStatus(cmd *cobra.Command, status *service.ServiceStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pipekit status: %s\n", stateFormat(status.State))

	switch status.State {
	case "not_installed":
		fmt.Fprintln(out, "\nTo install the service:")
		fmt.Fprintln(out, "  pipekit install")
		return
	case "stopped":
		fmt.Fprintln(out, "\nTo start the service:")
		fmt.Fprintln(out, "  pipekit start")
	}

	if status.Address != "" {
		fmt.Fprintf(out, "  Pipe:       %s\n", outputFormat(status.Address))
	}
	if status.Access != "" {
		fmt.Fprintf(out, "  Access:     %s\n", status.Access)
	}
	if status.PID > 0 {
		fmt.Fprintf(out, "  PID:        %d\n", status.PID)
	}
	if status.Version != "" {
		fmt.Fprintf(out, "  Version:    %s\n", status.Version)
	}
}
