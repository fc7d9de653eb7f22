//go:build linux

package pipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

type rawHandle = int

const invalidHandle rawHandle = -1

func closeRaw(h rawHandle) error {
	return unix.Close(h)
}

const (
	socketDir = "/tmp"

	// defaultWait mirrors the 50ms default timeout of a Windows pipe server.
	defaultWait       = 50 * time.Millisecond
	waitAttempts      = 10
	flushPollInterval = time.Millisecond
)

func fullName(name string) string {
	return socketDir + "/pipe-" + name + ".sock"
}

// socketMode is the Linux rendition of the access descriptor: the socket
// file mode decides which users may connect.
func socketMode(access Access) os.FileMode {
	if access == AccessUnrestricted {
		return 0666
	}
	return 0600
}

// endpoint is a listening socket plus the accepted peer on the server side,
// or a single connected socket on the client side.
type endpoint struct {
	path     string
	listener *ownedHandle
	conn     *ownedHandle
}

func createEndpoint(path string, access Access) (*endpoint, error) {
	fd, err := newSocket()
	if err != nil {
		return nil, err
	}
	listener := newOwnedHandle(fd)

	if err := bindSocket(fd, path); err != nil {
		listener.Close()
		return nil, err
	}

	// Relax or restrict access before anyone can connect.
	if err := os.Chmod(path, socketMode(access)); err != nil {
		listener.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		listener.Close()
		os.Remove(path)
		return nil, os.NewSyscallError("listen", err)
	}

	return &endpoint{path: path, listener: listener}, nil
}

// bindSocket binds fd to path, replacing a stale socket file left behind by
// a server that exited without cleaning up.
func bindSocket(fd int, path string) error {
	addr := &unix.SockaddrUnix{Name: path}
	err := unix.Bind(fd, addr)
	if !errors.Is(err, unix.EADDRINUSE) {
		return os.NewSyscallError("bind", err)
	}
	if !isStale(path) {
		return fmt.Errorf("pipe already in use by another process: %w", os.NewSyscallError("bind", err))
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return os.NewSyscallError("bind", unix.Bind(fd, addr))
}

// isStale reports whether a socket file exists at path with no listener.
func isStale(path string) bool {
	fd, err := newSocket()
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	return errors.Is(unix.Connect(fd, &unix.SockaddrUnix{Name: path}), unix.ECONNREFUSED)
}

func waitEndpoint(path string) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(defaultWait/waitAttempts), waitAttempts)
	return backoff.Retry(func() error {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSocket == 0 {
			return backoff.Permanent(fmt.Errorf("%s is not a socket", path))
		}
		return nil
	}, b)
}

func openEndpoint(path string) (*endpoint, error) {
	fd, err := newSocket()
	if err != nil {
		return nil, err
	}
	conn := newOwnedHandle(fd)

	if err := setBufferSizes(fd); err != nil {
		conn.Close()
		return nil, err
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		conn.Close()
		return nil, os.NewSyscallError("connect", err)
	}

	return &endpoint{path: path, conn: conn}, nil
}

func (e *endpoint) connect() error {
	var nfd int
	err := ignoringEINTR(func() error {
		var err error
		nfd, _, err = unix.Accept4(e.listener.raw, unix.SOCK_CLOEXEC)
		return err
	})
	if err != nil {
		return os.NewSyscallError("accept", err)
	}
	conn := newOwnedHandle(nfd)
	if err := setBufferSizes(nfd); err != nil {
		conn.Close()
		return err
	}
	e.conn = conn
	return nil
}

func (e *endpoint) disconnect() error {
	conn := e.conn
	e.conn = nil
	if conn == nil {
		return nil
	}
	// Shutdown fails with ENOTCONN when the peer is already gone; the close
	// below still releases the socket.
	_ = unix.Shutdown(conn.raw, unix.SHUT_RDWR)
	return conn.Close()
}

// active returns the socket transfers go through.
func (e *endpoint) active() rawHandle {
	if e.conn.valid() {
		return e.conn.raw
	}
	return invalidHandle
}

func (e *endpoint) valid() bool {
	return e.conn.valid()
}

func (e *endpoint) fd() uintptr {
	if e.conn.valid() {
		return uintptr(e.conn.raw)
	}
	if e.listener.valid() {
		return uintptr(e.listener.raw)
	}
	return 0
}

func (e *endpoint) peek() (int, error) {
	n, err := unix.IoctlGetInt(e.active(), unix.SIOCINQ)
	if err != nil {
		return 0, os.NewSyscallError("ioctl", err)
	}
	return n, nil
}

func (e *endpoint) read(p []byte) (int, error) {
	var n int
	err := ignoringEINTR(func() error {
		var err error
		n, err = unix.Read(e.active(), p)
		return err
	})
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	return n, nil
}

func (e *endpoint) write(p []byte) (int, error) {
	var n int
	err := ignoringEINTR(func() error {
		var err error
		n, err = unix.SendmsgN(e.active(), p, nil, nil, unix.MSG_NOSIGNAL)
		return err
	})
	if err != nil {
		return n, os.NewSyscallError("sendmsg", err)
	}
	return n, nil
}

// flush waits for the send queue to drain. A Unix socket keeps sent bytes
// charged to the sender until the peer reads them.
func (e *endpoint) flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for {
		n, err := unix.IoctlGetInt(e.active(), unix.SIOCOUTQ)
		if err != nil {
			return os.NewSyscallError("ioctl", err)
		}
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *endpoint) close() error {
	var errs []error
	if e.conn != nil {
		errs = append(errs, e.conn.Close())
		e.conn = nil
	}
	if e.listener != nil {
		errs = append(errs, e.listener.Close())
		e.listener = nil
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return invalidHandle, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

func setBufferSizes(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, BufferSize); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, BufferSize); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}
