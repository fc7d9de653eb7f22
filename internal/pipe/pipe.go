// Package pipe implements a named, bidirectional byte-stream endpoint that
// two local processes rendezvous on by a shared name.
//
// On Windows a Channel is a byte-mode named pipe at \\.\pipe\<name>. On Linux
// it is a Unix domain stream socket at /tmp/pipe-<name>.sock. A server calls
// CreateServer and then Connect for every peer; a client calls OpenClient.
// All operations block the calling goroutine's OS thread, and a Channel must
// not be used from more than one goroutine at a time.
package pipe

import (
	"context"
	"fmt"
)

// BufferSize is the size of the in and out buffers of a server endpoint.
const BufferSize = 4096

// Access selects who may open a server endpoint.
type Access int

const (
	// AccessDefault uses the OS default access list (typically same user only).
	AccessDefault Access = iota
	// AccessUnrestricted grants every principal full access.
	AccessUnrestricted
)

func (a Access) String() string {
	switch a {
	case AccessDefault:
		return "default"
	case AccessUnrestricted:
		return "unrestricted"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// ParseAccess converts a config value to an Access.
func ParseAccess(s string) (Access, error) {
	switch s {
	case "", "default":
		return AccessDefault, nil
	case "unrestricted":
		return AccessUnrestricted, nil
	default:
		return AccessDefault, fmt.Errorf("unknown access mode %q (want default or unrestricted)", s)
	}
}

// State is the lifecycle state of a Channel.
type State int

const (
	StateIdle State = iota
	StateListening
	StateConnected
	StateClientOpen
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateClientOpen:
		return "client-open"
	default:
		return "unknown"
	}
}

// FullName resolves a logical pipe name to the OS address both ends use.
func FullName(name string) string {
	return fullName(name)
}

// Channel is one end of a named pipe. The zero value is not usable; create
// one with New.
type Channel struct {
	name  string
	state State
	ep    *endpoint
}

// New returns an idle Channel for name. No OS resources are acquired until
// CreateServer or OpenClient.
func New(name string) (*Channel, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	return &Channel{name: name}, nil
}

// Name returns the logical pipe name.
func (c *Channel) Name() string {
	return c.name
}

// FullName returns the resolved OS address of the pipe.
func (c *Channel) FullName() string {
	return fullName(c.name)
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return c.state
}

// CanTransfer reports whether read, write, peek and flush are allowed.
func (c *Channel) CanTransfer() bool {
	return c.state == StateConnected || c.state == StateClientOpen
}

// Fd returns the raw OS handle for interop, or 0 when the channel holds none.
// Ownership stays with the Channel; callers must not close it.
func (c *Channel) Fd() uintptr {
	if c.ep == nil {
		return 0
	}
	return c.ep.fd()
}

func (c *Channel) newError(op Op, kind, err error) *Error {
	return &Error{Op: op, Path: c.FullName(), Kind: kind, Err: err}
}

// CreateServer allocates the server end of the pipe and moves the channel
// to StateListening. On failure the channel stays idle and holds no handle.
func (c *Channel) CreateServer(access Access) error {
	if c.state != StateIdle {
		return c.newError(OpCreate, ErrAlreadyOpen, nil)
	}
	ep, err := createEndpoint(c.FullName(), access)
	if err != nil {
		return c.newError(OpCreate, ErrCreate, err)
	}
	c.ep = ep
	c.state = StateListening
	return nil
}

// OpenClient waits the OS default time for the server end to exist, opens it
// for reading and writing, and moves the channel to StateClientOpen.
func (c *Channel) OpenClient() error {
	if c.state != StateIdle {
		return c.newError(OpOpen, ErrAlreadyOpen, nil)
	}
	path := c.FullName()
	if err := waitEndpoint(path); err != nil {
		return c.newError(OpOpen, ErrNotFound, err)
	}
	ep, err := openEndpoint(path)
	if err != nil {
		return c.newError(OpOpen, ErrOpen, err)
	}
	c.ep = ep
	c.state = StateClientOpen
	return nil
}

// Connect blocks until a peer attaches to a listening server.
func (c *Channel) Connect() error {
	switch c.state {
	case StateListening:
	case StateIdle:
		return c.newError(OpConnect, ErrNotOpen, nil)
	default:
		return c.newError(OpConnect, ErrAlreadyOpen, nil)
	}
	if err := c.ep.connect(); err != nil {
		return c.newError(OpConnect, ErrConnect, err)
	}
	c.state = StateConnected
	return nil
}

// Disconnect severs the current peer without waiting for it to read pending
// data. The server handle is kept so Connect can accept the next peer.
func (c *Channel) Disconnect() error {
	switch c.state {
	case StateConnected:
	case StateIdle:
		return c.newError(OpDisconnect, ErrNotOpen, nil)
	default:
		return c.newError(OpDisconnect, ErrNotConnected, nil)
	}
	if err := c.ep.disconnect(); err != nil {
		return c.newError(OpDisconnect, ErrDisconnect, err)
	}
	c.state = StateListening
	return nil
}

// Close releases the handle, if any, and returns the channel to StateIdle.
// It is safe to call any number of times.
func (c *Channel) Close() error {
	ep := c.ep
	c.ep = nil
	c.state = StateIdle
	if ep == nil {
		return nil
	}
	if err := ep.close(); err != nil {
		return c.newError(OpClose, nil, err)
	}
	return nil
}

// PeekAvailable returns the number of bytes readable without blocking.
// It returns 0 both when nothing is buffered and when the channel cannot
// transfer or the inspection fails.
func (c *Channel) PeekAvailable() int {
	if !c.CanTransfer() {
		return 0
	}
	n, err := c.ep.peek()
	if err != nil {
		return 0
	}
	return n
}

// HasBytesToRead reports whether PeekAvailable is non-zero.
func (c *Channel) HasBytesToRead() bool {
	return c.PeekAvailable() > 0
}

// ReadAvailable returns whatever is buffered at the moment of the call using
// a single read sized to the available count. It returns an empty slice
// without blocking when nothing is available. A short read is reported as
// ErrPartialRead and is not retried.
func (c *Channel) ReadAvailable() ([]byte, error) {
	if !c.CanTransfer() {
		return nil, c.newError(OpRead, ErrNotOpen, nil)
	}
	available := c.PeekAvailable()
	if available == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, available)
	n, err := c.ep.read(buf)
	if err != nil {
		return nil, c.newError(OpRead, ErrRead, err)
	}
	if n != available {
		return nil, c.newError(OpRead, ErrPartialRead, &shortTransferError{want: available, got: n})
	}
	return buf, nil
}

// Write sends buf with a single blocking write. A short write is reported as
// ErrPartialWrite and is not retried.
func (c *Channel) Write(buf []byte) error {
	if !c.CanTransfer() || !c.ep.valid() {
		return c.newError(OpWrite, ErrNotOpen, nil)
	}
	n, err := c.ep.write(buf)
	if err != nil {
		return c.newError(OpWrite, ErrWrite, err)
	}
	if n != len(buf) {
		return c.newError(OpWrite, ErrPartialWrite, &shortTransferError{want: len(buf), got: n})
	}
	return nil
}

// Flush blocks until the peer has read every byte written so far.
func (c *Channel) Flush() error {
	return c.FlushContext(context.Background())
}

// FlushContext is Flush that gives up once ctx is done. The returned error
// then carries ErrFlush and ctx's error. Bytes still queued stay queued.
func (c *Channel) FlushContext(ctx context.Context) error {
	if !c.CanTransfer() {
		return c.newError(OpFlush, ErrNotOpen, nil)
	}
	if err := c.ep.flush(ctx); err != nil {
		return c.newError(OpFlush, ErrFlush, err)
	}
	return nil
}
