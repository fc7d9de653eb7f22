package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/willibrandon/pipekit/internal/echo"
	"github.com/willibrandon/pipekit/internal/logger"
	"github.com/willibrandon/pipekit/internal/pipe"
)

// newSendCmd creates the send subcommand.
func newSendCmd() *cobra.Command {
	var name string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send text to the pipe and print the reply",
		Long: `Open the pipe as a client, write the text (or stdin when no text is given)
and print what the server sends back.`,
		Example: `  pipekit send ping
  echo hello | pipekit send --name telemetry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if name == "" {
				name = cfg.Pipe.Name
			}
			initLogging(cfg, nil)
			defer logger.Close()

			var payload []byte
			if len(args) > 0 {
				payload = []byte(strings.Join(args, " "))
			} else {
				if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
					return fmt.Errorf("nothing to send: pass text or pipe it on stdin")
				}
				payload, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}

			reply, err := echo.Exchange(cmd.Context(), name, payload, echo.ExchangeOptions{
				PollInterval: cfg.Pipe.PollInterval,
				Timeout:      timeout,
			})
			if err != nil {
				logger.Warn("Exchange failed", "pipe", name, "error", err)
				return describeError(name, err)
			}

			_, err = cmd.OutOrStdout().Write(reply)
			if err == nil && len(reply) > 0 && reply[len(reply)-1] != '\n' {
				_, err = fmt.Fprintln(cmd.OutOrStdout())
			}
			return err
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pipe name (overrides pipe.name)")
	cmd.Flags().DurationVar(&timeout, "timeout", echo.DefaultExchangeTimeout, "how long to wait for the reply")
	return cmd
}

// newPeekCmd creates the peek subcommand.
func newPeekCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Print how many bytes are waiting for a new client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if name == "" {
				name = cfg.Pipe.Name
			}

			n, err := echo.Peek(name)
			if err != nil {
				return describeError(name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d bytes available\n", outputFormat(pipe.FullName(name)), n)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pipe name (overrides pipe.name)")
	return cmd
}

// describeError adds a hint for the pipe errors users most often hit.
func describeError(name string, err error) error {
	switch {
	case errors.Is(err, pipe.ErrNotFound):
		return fmt.Errorf("%w\nIs a server running? Start one with: pipekit serve --name %s", err, name)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w\nThe server accepted the connection but did not reply", err)
	default:
		return err
	}
}
