// Package service runs the echo server as a long-lived process, in the
// foreground or under the OS service manager.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/willibrandon/pipekit/internal/config"
	"github.com/willibrandon/pipekit/internal/echo"
	"github.com/willibrandon/pipekit/internal/logger"
	"github.com/willibrandon/pipekit/internal/storage/sqlite"
)

// Version is reported by status output. Set by the CLI at startup.
var Version = "dev"

// State represents the runner's current operational state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Runner owns the echo server, its journal and the PID file.
type Runner struct {
	config  *config.Config
	pidFile string

	state     State
	stateMu   sync.RWMutex
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc

	log *slog.Logger

	db     *sqlite.DB
	server *echo.Server

	serveDone chan struct{}
	serveErr  error
}

// NewRunner creates a runner. pidFile may be empty to skip the PID file.
func NewRunner(cfg *config.Config, pidFile string) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		config:  cfg,
		pidFile: pidFile,
		state:   StateStopped,
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.With("component", "runner"),
	}, nil
}

// Start opens the journal, writes the PID file and starts serving. It returns
// once the pipe exists or serving has failed.
func (r *Runner) Start() error {
	r.setState(StateStarting)
	r.startTime = time.Now()

	if err := r.config.Validate(); err != nil {
		r.setState(StateStopped)
		return fmt.Errorf("invalid configuration: %w", err)
	}
	access, err := r.config.Pipe.PipeAccess()
	if err != nil {
		r.setState(StateStopped)
		return err
	}

	if err := r.openJournal(); err != nil {
		r.setState(StateStopped)
		return err
	}

	if r.pidFile != "" {
		if err := WritePIDFile(r.pidFile); err != nil {
			r.cleanup()
			return err
		}
	}

	var journal echo.Journal
	if r.db != nil {
		journal = sqlite.NewSessionStore(r.db)
	}
	srv, err := echo.NewServer(echo.Config{
		Name:         r.config.Pipe.Name,
		Access:       access,
		PollInterval: r.config.Pipe.PollInterval,
		ReadTimeout:  r.config.Pipe.ReadTimeout,
	}, journal)
	if err != nil {
		r.cleanup()
		return err
	}
	r.server = srv

	r.serveDone = make(chan struct{})
	go func() {
		defer close(r.serveDone)
		r.serveErr = srv.Serve(r.ctx)
	}()

	select {
	case <-srv.Ready():
	case <-r.serveDone:
		r.cleanup()
		return fmt.Errorf("failed to start echo server: %w", r.serveErr)
	}

	r.setState(StateRunning)
	r.log.Info("pipekit started", "version", Version, "pipe", r.config.Pipe.Name)
	return nil
}

// openJournal opens the session journal and prunes rows past retention.
func (r *Runner) openJournal() error {
	if !r.config.Journal.Enabled {
		return nil
	}
	db, err := sqlite.Open(r.config.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.db = db

	if retention := r.config.Journal.Retention; retention > 0 {
		removed, err := sqlite.NewSessionStore(db).PruneBefore(r.ctx, time.Now().Add(-retention))
		if err != nil {
			r.log.Warn("Failed to prune journal", "error", err)
		} else if removed > 0 {
			r.log.Info("Pruned journal", "sessions", removed, "retention", retention)
		}
	}
	return nil
}

// Stop stops serving and releases the journal and PID file.
func (r *Runner) Stop() error {
	r.setState(StateStopping)

	if r.server != nil {
		r.server.Stop()
	}
	r.cancel()
	if r.serveDone != nil {
		<-r.serveDone
	}

	err := r.serveErr
	r.cleanup()
	r.log.Info("pipekit stopped", "uptime", r.Uptime().Round(time.Second))
	return err
}

func (r *Runner) cleanup() {
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.log.Warn("Failed to close journal", "error", err)
		}
		r.db = nil
	}
	if r.pidFile != "" {
		if err := RemovePIDFile(r.pidFile); err != nil {
			r.log.Warn("Failed to remove PID file", "error", err)
		}
	}
	r.setState(StateStopped)
}

// Done is closed when serving ends, including after an accept failure.
func (r *Runner) Done() <-chan struct{} {
	return r.serveDone
}

// Err returns the serve error once Done is closed.
func (r *Runner) Err() error {
	return r.serveErr
}

// State returns the current runner state.
func (r *Runner) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

func (r *Runner) setState(state State) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = state
}

// Uptime returns how long the runner has been running.
func (r *Runner) Uptime() time.Duration {
	if r.startTime.IsZero() {
		return 0
	}
	return time.Since(r.startTime)
}

// Stats returns the echo server counters, or zero before Start.
func (r *Runner) Stats() echo.Stats {
	if r.server == nil {
		return echo.Stats{}
	}
	return r.server.Stats()
}
