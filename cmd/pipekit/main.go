package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/willibrandon/pipekit/internal/config"
	"github.com/willibrandon/pipekit/internal/logger"
	"github.com/willibrandon/pipekit/internal/service"
)

var (
	// Version info (set by ldflags)
	version = "dev"

	// Flags
	configPath string
	debug      bool
	userMode   bool
	jsonOutput bool
)

func main() {
	service.Version = version

	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipekit",
		Short: "Named pipe echo server and client",
		Long: `pipekit serves and exercises a local named pipe: Windows named pipes,
or a Unix domain socket under /tmp on Linux.

Pipe commands:
  pipekit serve [--name N] [--unrestricted]   Run the echo server in the foreground
  pipekit send [--name N] <text>              Send text (or stdin) and print the echo
  pipekit peek [--name N]                     Print bytes waiting for a new client
  pipekit history [--limit N] [--json]        List recent sessions from the journal
  pipekit config                              Print the effective configuration

Service Management:
  pipekit install [--user]   Install as system/user service
  pipekit uninstall          Remove the service
  pipekit start              Start the installed service
  pipekit stop               Stop the running service
  pipekit status [--json]    Show service status`,
		Version:      version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/pipekit/pipekit.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newSendCmd(),
		newPeekCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
	)
	return rootCmd
}

// loadConfig loads the configuration from --config or the default locations.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// initLogging starts the file logger, mirroring records to console when set.
func initLogging(cfg *config.Config, console io.Writer) {
	logger.InitLogger(logger.ParseLevel(cfg.Log.Level), cfg.Log.Path, logger.Options{Console: console})
	if debug {
		logger.Debug("pipekit starting", "version", version, "config", configPath, "log", logger.LogPath)
	}
}
