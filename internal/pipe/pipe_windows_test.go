//go:build windows

package pipe

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullName_PipeNamespace(t *testing.T) {
	assert.Equal(t, `\\.\pipe\example`, FullName("example"))
}

func TestNamedPipe_UnrestrictedPing(t *testing.T) {
	name := "pipekit-test-" + uuid.NewString()[:8]

	server, err := New(name)
	require.NoError(t, err)
	require.NoError(t, server.CreateServer(AccessUnrestricted))
	defer server.Close()

	connected := make(chan error, 1)
	go func() { connected <- server.Connect() }()

	client, err := New(name)
	require.NoError(t, err)
	require.NoError(t, client.OpenClient())
	defer client.Close()
	require.NoError(t, <-connected)

	require.NoError(t, client.Write([]byte("ping")))
	require.Eventually(t, func() bool {
		return server.PeekAvailable() == 4
	}, 2*time.Second, 5*time.Millisecond)

	data, err := server.ReadAvailable()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))

	require.NoError(t, server.Disconnect())
	assert.Equal(t, StateListening, server.State())
}

func TestUnrestrictedDescriptor_Release(t *testing.T) {
	d, err := newUnrestrictedDescriptor()
	require.NoError(t, err)
	assert.NotNil(t, d.attrs.SecurityDescriptor)

	d.release()
	d.release()
	assert.Zero(t, d.mem)
}
