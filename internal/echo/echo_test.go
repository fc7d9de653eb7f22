package echo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/pipekit/internal/pipe"
	"github.com/willibrandon/pipekit/internal/storage/sqlite"
)

// memJournal collects recorded sessions in memory.
type memJournal struct {
	mu       sync.Mutex
	sessions []sqlite.Session
	err      error
}

func (j *memJournal) RecordSession(_ context.Context, sess *sqlite.Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.sessions = append(j.sessions, *sess)
	return nil
}

func (j *memJournal) recorded() []sqlite.Session {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]sqlite.Session(nil), j.sessions...)
}

// =============================================================================
// Server construction
// =============================================================================

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	assert.ErrorIs(t, err, pipe.ErrEmptyName)

	_, err = NewServer(Config{Name: "demo", ReadTimeout: -time.Second}, nil)
	assert.Error(t, err)
}

func TestNewServer_Defaults(t *testing.T) {
	srv, err := NewServer(Config{Name: "demo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, pipe.DefaultPollInterval, srv.cfg.PollInterval)
	assert.Equal(t, Stats{}, srv.Stats())
}

func TestServer_StopBeforeServe(t *testing.T) {
	srv, err := NewServer(Config{Name: "never-served"}, nil)
	require.NoError(t, err)

	srv.Stop()
	srv.Stop()

	err = srv.Serve(context.Background())
	assert.True(t, errors.Is(err, ErrServerStopped))
}

// =============================================================================
// Client helpers
// =============================================================================

func TestExchange_EmptyPayload(t *testing.T) {
	_, err := Exchange(context.Background(), "demo", nil, ExchangeOptions{})
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestExchange_EmptyName(t *testing.T) {
	_, err := Exchange(context.Background(), "", []byte("ping"), ExchangeOptions{})
	assert.ErrorIs(t, err, pipe.ErrEmptyName)
}
