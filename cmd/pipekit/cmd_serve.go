package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/willibrandon/pipekit/internal/config"
	"github.com/willibrandon/pipekit/internal/logger"
	"github.com/willibrandon/pipekit/internal/pipe"
	"github.com/willibrandon/pipekit/internal/service"
)

// newServeCmd creates the serve subcommand for a foreground echo server.
func newServeCmd() *cobra.Command {
	var name string
	var unrestricted bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server in the foreground",
		Long: `Create the server end of the pipe and echo every peer's bytes back to it,
one peer at a time, until interrupted.

Use --unrestricted when clients run as a different user than the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(service.ExitConfigError)
			}
			if name != "" {
				cfg.Pipe.Name = name
			}
			if unrestricted {
				cfg.Pipe.Access = config.AccessUnrestricted
			}

			initLogging(cfg, os.Stderr)
			defer logger.Close()

			r, err := service.NewRunner(cfg, "")
			if err != nil {
				return err
			}
			if err := r.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", criticalFormat("Error:"), err)
				os.Exit(service.ExitStartFailed)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s echo server on %s (%s access)\n",
				goodFormat("Listening:"), boldFormat(pipe.FullName(cfg.Pipe.Name)), cfg.Pipe.Access)
			fmt.Fprintln(out, mutedFormat("Press Ctrl+C to stop"))

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case sig := <-sigChan:
				fmt.Fprintf(out, "\nReceived signal %v, shutting down...\n", sig)
			case <-r.Done():
			}

			serveErr := r.Stop()
			st := r.Stats()
			fmt.Fprintf(out, "%s %d sessions (avg %s), %s in, %s out, %d timed out, %d errors\n",
				mutedFormat("Served"), st.Sessions, st.AvgSession.Round(time.Millisecond),
				humanize.Bytes(uint64(st.BytesIn)), humanize.Bytes(uint64(st.BytesOut)),
				st.TimedOut, st.Errors)
			return serveErr
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pipe name (overrides pipe.name)")
	cmd.Flags().BoolVar(&unrestricted, "unrestricted", false, "allow every user to open the pipe")
	return cmd
}

// newRunCmd creates the run subcommand the service manager invokes.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(service.ExitConfigError)
			}
			initLogging(cfg, nil)
			defer logger.Close()

			err = service.Run(service.ServiceConfig{ConfigPath: configPath, Debug: debug})
			if err != nil {
				logger.Error("Service run failed", "error", err)
			}
			return err
		},
	}
}
