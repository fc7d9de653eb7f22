package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/willibrandon/pipekit/internal/storage/sqlite"
)

// sessionJSON is the --json shape of a journal row.
type sessionJSON struct {
	ID         string    `json:"id"`
	Pipe       string    `json:"pipe"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
	Error      string    `json:"error,omitempty"`
}

// newHistoryCmd creates the history subcommand.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("the session journal is disabled (journal.enabled=false)")
			}

			db, err := sqlite.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := sqlite.NewSessionStore(db).RecentSessions(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				rows := make([]sessionJSON, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, sessionJSON{
						ID:         s.ID,
						Pipe:       s.PipeName,
						StartedAt:  s.StartedAt,
						DurationMs: s.Duration().Milliseconds(),
						BytesIn:    s.BytesIn,
						BytesOut:   s.BytesOut,
						Error:      s.Error,
					})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			if len(sessions) == 0 {
				fmt.Fprintln(out, mutedFormat("No sessions recorded"))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPIPE\tDURATION\tIN\tOUT\tSESSION\tERROR")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(s.StartedAt),
					s.PipeName,
					s.Duration().Round(time.Millisecond),
					humanize.Bytes(uint64(s.BytesIn)),
					humanize.Bytes(uint64(s.BytesOut)),
					shortID(s.ID),
					s.Error,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// newConfigCmd creates the config subcommand.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
