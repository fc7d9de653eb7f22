//go:build linux

package pipe

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueName() string {
	return "pipekit-test-" + uuid.NewString()[:8]
}

func newServer(t *testing.T, name string, access Access) *Channel {
	t.Helper()
	server, err := New(name)
	require.NoError(t, err)
	require.NoError(t, server.CreateServer(access))
	t.Cleanup(func() { server.Close() })
	return server
}

func newClient(t *testing.T, name string) *Channel {
	t.Helper()
	client, err := New(name)
	require.NoError(t, err)
	require.NoError(t, client.OpenClient())
	t.Cleanup(func() { client.Close() })
	return client
}

// connectPair returns a connected server and client sharing a fresh name.
func connectPair(t *testing.T) (server, client *Channel) {
	t.Helper()
	server = newServer(t, uniqueName(), AccessDefault)

	connected := make(chan error, 1)
	go func() { connected <- server.Connect() }()

	client = newClient(t, server.Name())
	select {
	case err := <-connected:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not accept the client")
	}
	return server, client
}

// =============================================================================
// Rendezvous and lifecycle
// =============================================================================

func TestRendezvous_BothEndsTransferCapable(t *testing.T) {
	server, client := connectPair(t)

	assert.Equal(t, StateConnected, server.State())
	assert.Equal(t, StateClientOpen, client.State())
	assert.True(t, server.CanTransfer())
	assert.True(t, client.CanTransfer())
	assert.NotZero(t, server.Fd())
	assert.NotZero(t, client.Fd())
}

func TestCreateServer_ListeningHoldsHandle(t *testing.T) {
	server := newServer(t, uniqueName(), AccessDefault)

	assert.Equal(t, StateListening, server.State())
	assert.False(t, server.CanTransfer())
	assert.NotZero(t, server.Fd())

	// Listening is not enough to transfer.
	_, err := server.ReadAvailable()
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, server.Disconnect(), ErrNotConnected)
}

func TestCreateServer_TwiceFailsAlreadyOpen(t *testing.T) {
	server := newServer(t, uniqueName(), AccessDefault)
	fd := server.Fd()

	err := server.CreateServer(AccessDefault)
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.Equal(t, StateListening, server.State())
	assert.Equal(t, fd, server.Fd())
}

func TestOpenClient_TwiceFailsAlreadyOpen(t *testing.T) {
	_, client := connectPair(t)
	fd := client.Fd()

	assert.ErrorIs(t, client.OpenClient(), ErrAlreadyOpen)
	assert.ErrorIs(t, client.CreateServer(AccessDefault), ErrAlreadyOpen)
	assert.ErrorIs(t, client.Connect(), ErrAlreadyOpen)
	assert.Equal(t, StateClientOpen, client.State())
	assert.Equal(t, fd, client.Fd())
}

func TestOpenClient_NoServerFailsNotFound(t *testing.T) {
	client, err := New(uniqueName())
	require.NoError(t, err)

	err = client.OpenClient()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, StateIdle, client.State())
	assert.Zero(t, client.Fd())
}

func TestCreateServer_FailureLeavesIdle(t *testing.T) {
	ch, err := New("no-such-dir/" + uniqueName())
	require.NoError(t, err)

	err = ch.CreateServer(AccessDefault)
	assert.ErrorIs(t, err, ErrCreate)
	assert.Equal(t, StateIdle, ch.State())
	assert.Zero(t, ch.Fd())
	assert.NoError(t, ch.Close())
}

func TestCreateServer_NameInUse(t *testing.T) {
	first := newServer(t, uniqueName(), AccessDefault)

	second, err := New(first.Name())
	require.NoError(t, err)
	err = second.CreateServer(AccessDefault)
	assert.ErrorIs(t, err, ErrCreate)
	assert.Equal(t, StateIdle, second.State())

	// The first server is unaffected.
	assert.Equal(t, StateListening, first.State())
	_, err = os.Stat(first.FullName())
	assert.NoError(t, err)
}

func TestCreateServer_ReplacesStaleSocket(t *testing.T) {
	name := uniqueName()
	l, err := net.Listen("unix", FullName(name))
	require.NoError(t, err)
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, l.Close())
	t.Cleanup(func() { os.Remove(FullName(name)) })

	server := newServer(t, name, AccessDefault)
	assert.Equal(t, StateListening, server.State())
}

func TestClose_ReleasesAndRemovesSocket(t *testing.T) {
	server, client := connectPair(t)

	require.NoError(t, server.Close())
	assert.Equal(t, StateIdle, server.State())
	assert.Zero(t, server.Fd())
	_, err := os.Stat(server.FullName())
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, StateIdle, client.State())
}

// =============================================================================
// Access modes
// =============================================================================

func TestCreateServer_AccessModes(t *testing.T) {
	tests := []struct {
		access Access
		perm   os.FileMode
	}{
		{AccessDefault, 0600},
		{AccessUnrestricted, 0666},
	}

	for _, tt := range tests {
		t.Run(tt.access.String(), func(t *testing.T) {
			server := newServer(t, uniqueName(), tt.access)

			fi, err := os.Stat(server.FullName())
			require.NoError(t, err)
			assert.Equal(t, tt.perm, fi.Mode().Perm())
			assert.NotZero(t, fi.Mode()&os.ModeSocket)
		})
	}
}

// =============================================================================
// Transfers
// =============================================================================

func TestPingScenario(t *testing.T) {
	server, client := connectPair(t)

	require.NoError(t, client.Write([]byte("ping")))

	require.Eventually(t, func() bool {
		return server.PeekAvailable() == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, server.HasBytesToRead())

	data, err := server.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)

	require.NoError(t, server.Disconnect())
	assert.Equal(t, StateListening, server.State())
	assert.NotZero(t, server.Fd())
}

func TestReadAvailable_EmptyDoesNotBlock(t *testing.T) {
	server, _ := connectPair(t)

	require.Zero(t, server.PeekAvailable())

	start := time.Now()
	data, err := server.ReadAvailable()
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWrite_RoundTripBothDirections(t *testing.T) {
	server, client := connectPair(t)

	require.NoError(t, server.Write([]byte("hello client")))
	require.Eventually(t, func() bool {
		return client.PeekAvailable() == len("hello client")
	}, 2*time.Second, 5*time.Millisecond)

	data, err := client.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "hello client", string(data))

	require.NoError(t, client.Write([]byte("hello server")))
	require.Eventually(t, server.HasBytesToRead, 2*time.Second, 5*time.Millisecond)

	data, err = server.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "hello server", string(data))
}

func TestWrite_LargerThanBuffer(t *testing.T) {
	server, client := connectPair(t)

	payload := bytes.Repeat([]byte("0123456789"), 500)
	require.Len(t, payload, 5000)

	written := make(chan error, 1)
	go func() { written <- client.Write(payload) }()

	// The kernel may move the payload in several chunks; gather snapshots
	// until everything arrived or a short transfer is reported.
	var received []byte
	pending := written
	deadline := time.After(5 * time.Second)
	for len(received) < len(payload) {
		select {
		case err := <-pending:
			if err != nil {
				assert.ErrorIs(t, err, ErrPartialWrite)
				return
			}
			pending = nil
		case <-deadline:
			t.Fatalf("received %d of %d bytes", len(received), len(payload))
		default:
		}

		chunk, err := server.ReadAvailable()
		if errors.Is(err, ErrPartialRead) {
			return
		}
		require.NoError(t, err)
		received = append(received, chunk...)
		if len(chunk) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	assert.Equal(t, payload, received)
	if pending != nil {
		assert.NoError(t, <-pending)
	}
}

func TestFlush_WaitsForPeerRead(t *testing.T) {
	server, client := connectPair(t)

	require.NoError(t, client.Write([]byte("pending")))

	flushed := make(chan error, 1)
	go func() { flushed <- client.Flush() }()

	select {
	case err := <-flushed:
		t.Fatalf("flush returned before the peer read: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, server.HasBytesToRead, 2*time.Second, 5*time.Millisecond)
	data, err := server.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "pending", string(data))

	select {
	case err := <-flushed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("flush did not return after the peer read")
	}
}

func TestFlush_NothingPendingReturns(t *testing.T) {
	server, _ := connectPair(t)
	assert.NoError(t, server.Flush())
}

func TestFlushContext_GivesUpWhenPeerNeverReads(t *testing.T) {
	server, client := connectPair(t)

	require.NoError(t, server.Write([]byte("unread")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := server.FlushContext(ctx)
	assert.ErrorIs(t, err, ErrFlush)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The queued bytes are still delivered.
	require.Eventually(t, client.HasBytesToRead, 2*time.Second, 5*time.Millisecond)
	data, err := client.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "unread", string(data))
	assert.NoError(t, server.FlushContext(context.Background()))
}

// =============================================================================
// Disconnect and reuse
// =============================================================================

func TestDisconnect_AcceptsNextPeer(t *testing.T) {
	server, first := connectPair(t)

	require.NoError(t, server.Disconnect())
	assert.Equal(t, StateListening, server.State())

	// The old peer sees a severed pipe.
	assert.ErrorIs(t, first.Write([]byte("late")), ErrWrite)

	connected := make(chan error, 1)
	go func() { connected <- server.Connect() }()
	second := newClient(t, server.Name())
	require.NoError(t, <-connected)

	require.NoError(t, second.Write([]byte("again")))
	require.Eventually(t, server.HasBytesToRead, 2*time.Second, 5*time.Millisecond)
	data, err := server.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "again", string(data))
}

// =============================================================================
// Polling helper
// =============================================================================

func TestWaitAvailable(t *testing.T) {
	server, client := connectPair(t)

	written := make(chan error, 1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		written <- client.Write([]byte("late ping"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := WaitAvailable(ctx, server, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, len("late ping"), n)
	assert.NoError(t, <-written)
}

func TestWaitAvailable_Timeout(t *testing.T) {
	server, _ := connectPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	n, err := WaitAvailable(ctx, server, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, n)
}

func TestWaitAvailable_NotOpen(t *testing.T) {
	ch, err := New(uniqueName())
	require.NoError(t, err)

	_, err = WaitAvailable(context.Background(), ch, time.Millisecond)
	assert.ErrorIs(t, err, ErrNotOpen)
}
