// Package echo serves and exercises the request/reply loop on a named pipe:
// accept a peer, wait for its bytes, send them back, flush, disconnect.
package echo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/willibrandon/pipekit/internal/logger"
	"github.com/willibrandon/pipekit/internal/pipe"
	"github.com/willibrandon/pipekit/internal/storage/sqlite"
)

var (
	// ErrServerStopped is returned by Serve when it is called after Stop.
	ErrServerStopped = errors.New("echo server stopped")
	// ErrServerStarted is returned by a second call to Serve.
	ErrServerStarted = errors.New("echo server already started")
)

// Journal records finished sessions.
type Journal interface {
	RecordSession(ctx context.Context, sess *sqlite.Session) error
}

// Config holds echo server settings.
type Config struct {
	Name         string
	Access       pipe.Access
	PollInterval time.Duration
	ReadTimeout  time.Duration // 0 waits forever for the first byte
}

// Stats is a snapshot of server counters.
type Stats struct {
	Sessions int64
	BytesIn  int64
	BytesOut int64
	Errors   int64
	TimedOut int64

	// AvgSession is a moving average of session length.
	AvgSession time.Duration
}

// quietChecks is how many times a session looks for more input during the
// poll interval that ends it.
const quietChecks = 10

// Server echoes each peer's bytes back to it, one peer at a time.
type Server struct {
	cfg     Config
	journal Journal
	log     *slog.Logger

	started  atomic.Bool
	ready    chan struct{}
	stopOnce sync.Once
	stopping atomic.Bool
	cancel   context.CancelFunc
	mu       sync.Mutex
	done     chan struct{}

	sessions atomic.Int64
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	failures atomic.Int64
	timedOut atomic.Int64

	avgMu  sync.Mutex
	avgDur ewma.MovingAverage
}

// NewServer creates an echo server. journal may be nil.
func NewServer(cfg Config, journal Journal) (*Server, error) {
	if cfg.Name == "" {
		return nil, pipe.ErrEmptyName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = pipe.DefaultPollInterval
	}
	if cfg.ReadTimeout < 0 {
		return nil, fmt.Errorf("read timeout must not be negative: %s", cfg.ReadTimeout)
	}

	return &Server{
		cfg:     cfg,
		journal: journal,
		log:     logger.With("component", "echo", "pipe", cfg.Name),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		avgDur:  ewma.NewMovingAverage(),
	}, nil
}

// Ready is closed once the server end of the pipe exists.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	s.avgMu.Lock()
	avg := time.Duration(s.avgDur.Value())
	s.avgMu.Unlock()

	return Stats{
		Sessions:   s.sessions.Load(),
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
		Errors:     s.failures.Load(),
		TimedOut:   s.timedOut.Load(),
		AvgSession: avg,
	}
}

// Serve creates the server pipe and handles peers until ctx is done or Stop
// is called. It returns nil on a requested shutdown.
//
// A session lasts until the peer has sent nothing for PollInterval after the
// last echoed chunk, so a request split across writes further apart than that
// is only partly echoed. Stop abandons a session even when it is blocked
// waiting for the peer to read its reply.
func (s *Server) Serve(ctx context.Context) error {
	if s.stopping.Load() {
		return ErrServerStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// A cancelled parent has to wake Connect the same way Stop does.
	stopWatch := context.AfterFunc(ctx, s.requestStop)
	defer stopWatch()

	ch, err := pipe.New(s.cfg.Name)
	if err != nil {
		return err
	}
	if err := ch.CreateServer(s.cfg.Access); err != nil {
		return err
	}
	defer ch.Close()

	close(s.ready)
	s.log.Info("Echo server listening",
		"address", ch.FullName(),
		"access", s.cfg.Access.String(),
	)

	for !s.stopping.Load() {
		if err := ch.Connect(); err != nil {
			if s.stopping.Load() {
				break
			}
			s.failures.Add(1)
			return fmt.Errorf("accept peer: %w", err)
		}
		if s.stopping.Load() {
			_ = ch.Disconnect()
			break
		}
		s.serveSession(ctx, ch)
	}

	st := s.Stats()
	s.log.Info("Echo server stopped",
		"sessions", st.Sessions,
		"bytes_in", humanize.Bytes(uint64(st.BytesIn)),
		"bytes_out", humanize.Bytes(uint64(st.BytesOut)),
		"avg_session", st.AvgSession.Round(time.Millisecond),
	)
	return nil
}

// Stop ends Serve and waits for it to return. It is safe to call more than
// once and before Serve.
func (s *Server) Stop() {
	s.requestStop()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		// Serve never ran.
		return
	}
	cancel()
	<-s.done
}

// requestStop flags the loop and wakes a Connect blocked on the pipe by
// attaching a throwaway client to it.
func (s *Server) requestStop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)

		select {
		case <-s.ready:
		default:
			return
		}
		go s.wake()
	})
}

func (s *Server) wake() {
	ch, err := pipe.New(s.cfg.Name)
	if err != nil {
		return
	}
	if err := ch.OpenClient(); err != nil {
		s.log.Debug("Wake client could not attach", "error", err)
		return
	}
	_ = ch.Close()
}

// serveSession handles one attached peer and always leaves ch listening.
func (s *Server) serveSession(ctx context.Context, ch *pipe.Channel) {
	sess := &sqlite.Session{
		ID:        uuid.New().String(),
		PipeName:  s.cfg.Name,
		StartedAt: time.Now(),
	}
	log := s.log.With("session", sess.ID)
	log.Debug("Peer attached")
	s.sessions.Add(1)

	if err := s.echo(ctx, ch, sess); err != nil {
		sess.Error = err.Error()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			s.timedOut.Add(1)
			log.Warn("Peer sent nothing before read timeout", "timeout", s.cfg.ReadTimeout)
		case errors.Is(err, context.Canceled):
			log.Debug("Session abandoned for shutdown")
		default:
			s.failures.Add(1)
			log.Error("Session failed", "error", err)
		}
	}

	if err := ch.Disconnect(); err != nil {
		s.failures.Add(1)
		log.Error("Disconnect failed", "error", err)
	}
	sess.EndedAt = time.Now()

	s.avgMu.Lock()
	s.avgDur.Add(float64(sess.Duration()))
	s.avgMu.Unlock()

	log.Info("Session finished",
		"bytes_in", humanize.Bytes(uint64(sess.BytesIn)),
		"bytes_out", humanize.Bytes(uint64(sess.BytesOut)),
		"duration", sess.Duration().Round(time.Millisecond),
	)

	if s.journal != nil {
		// Recorded even during shutdown.
		if err := s.journal.RecordSession(context.WithoutCancel(ctx), sess); err != nil {
			log.Warn("Failed to record session", "error", err)
		}
	}
}

// echo waits for the peer's first bytes, then returns everything it sends
// until it has been quiet for a whole poll interval.
func (s *Server) echo(ctx context.Context, ch *pipe.Channel, sess *sqlite.Session) error {
	waitCtx := ctx
	if s.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
	}
	if _, err := pipe.WaitAvailable(waitCtx, ch, s.cfg.PollInterval); err != nil {
		return err
	}

	for {
		for ch.HasBytesToRead() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := ch.ReadAvailable()
			if err != nil {
				return err
			}
			sess.BytesIn += int64(len(data))
			s.bytesIn.Add(int64(len(data)))

			if err := ch.Write(data); err != nil {
				return err
			}
			sess.BytesOut += int64(len(data))
			s.bytesOut.Add(int64(len(data)))

			if err := ch.FlushContext(ctx); err != nil {
				return err
			}
		}
		if !s.awaitMore(ctx, ch) {
			return nil
		}
	}
}

// awaitMore reports whether the peer sends more within one poll interval.
func (s *Server) awaitMore(ctx context.Context, ch *pipe.Channel) bool {
	quietCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	defer cancel()
	interval := max(s.cfg.PollInterval/quietChecks, time.Millisecond)
	_, err := pipe.WaitAvailable(quietCtx, ch, interval)
	return err == nil
}
