//go:build windows

package pipe

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

type rawHandle = windows.Handle

const invalidHandle = windows.InvalidHandle

func closeRaw(h rawHandle) error {
	return windows.CloseHandle(h)
}

const (
	pipeAccessDuplex       = 0x00000003
	pipeTypeByte           = 0x00000000
	pipeReadModeByte       = 0x00000000
	pipeWait               = 0x00000000
	pipeUnlimitedInstances = 255
	nmpwaitUseDefaultWait  = 0x00000000
)

var (
	modkernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procPeekNamedPipe       = modkernel32.NewProc("PeekNamedPipe")
	procWaitNamedPipeW      = modkernel32.NewProc("WaitNamedPipeW")
	procCancelSynchronousIo = modkernel32.NewProc("CancelSynchronousIo")
)

func fullName(name string) string {
	return `\\.\pipe\` + name
}

type endpoint struct {
	h *ownedHandle
}

func createEndpoint(path string, access Access) (*endpoint, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	var sa *windows.SecurityAttributes
	if access == AccessUnrestricted {
		desc, err := newUnrestrictedDescriptor()
		if err != nil {
			return nil, err
		}
		defer desc.release()
		sa = &desc.attrs
	}

	h, err := windows.CreateNamedPipe(name,
		pipeAccessDuplex,
		pipeTypeByte|pipeReadModeByte|pipeWait,
		pipeUnlimitedInstances,
		BufferSize, BufferSize,
		nmpwaitUseDefaultWait,
		sa)
	if err != nil {
		return nil, os.NewSyscallError("CreateNamedPipe", err)
	}
	return &endpoint{h: newOwnedHandle(h)}, nil
}

func waitEndpoint(path string) error {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	r1, _, e1 := procWaitNamedPipeW.Call(uintptr(unsafe.Pointer(name)), nmpwaitUseDefaultWait)
	if r1 == 0 {
		return os.NewSyscallError("WaitNamedPipe", e1)
	}
	return nil
}

func openEndpoint(path string) (*endpoint, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(name,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0)
	if err != nil {
		return nil, os.NewSyscallError("CreateFile", err)
	}
	return &endpoint{h: newOwnedHandle(h)}, nil
}

func (e *endpoint) connect() error {
	err := windows.ConnectNamedPipe(e.h.raw, nil)
	// A client that opened the pipe between CreateNamedPipe and
	// ConnectNamedPipe is already attached.
	if err == windows.ERROR_PIPE_CONNECTED {
		return nil
	}
	if err != nil {
		return os.NewSyscallError("ConnectNamedPipe", err)
	}
	return nil
}

func (e *endpoint) disconnect() error {
	return os.NewSyscallError("DisconnectNamedPipe", windows.DisconnectNamedPipe(e.h.raw))
}

func (e *endpoint) valid() bool {
	return e.h.valid()
}

func (e *endpoint) fd() uintptr {
	if !e.h.valid() {
		return 0
	}
	return uintptr(e.h.raw)
}

func (e *endpoint) peek() (int, error) {
	var available uint32
	r1, _, e1 := procPeekNamedPipe.Call(uintptr(e.h.raw), 0, 0, 0, uintptr(unsafe.Pointer(&available)), 0)
	if r1 == 0 {
		return 0, os.NewSyscallError("PeekNamedPipe", e1)
	}
	return int(available), nil
}

func (e *endpoint) read(p []byte) (int, error) {
	var done uint32
	if err := windows.ReadFile(e.h.raw, p, &done, nil); err != nil {
		return int(done), os.NewSyscallError("ReadFile", err)
	}
	return int(done), nil
}

func (e *endpoint) write(p []byte) (int, error) {
	var done uint32
	if err := windows.WriteFile(e.h.raw, p, &done, nil); err != nil {
		return int(done), os.NewSyscallError("WriteFile", err)
	}
	return int(done), nil
}

func (e *endpoint) flush(ctx context.Context) error {
	if ctx.Done() == nil {
		return e.flushBuffers()
	}

	// FlushFileBuffers runs on a pinned thread so a cancelled ctx can abort
	// it with CancelSynchronousIo.
	tid := make(chan uint32, 1)
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		tid <- windows.GetCurrentThreadId()
		done <- e.flushBuffers()
	}()
	id := <-tid

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	thread, err := windows.OpenThread(windows.THREAD_TERMINATE, false, id)
	if err != nil {
		return errors.Join(ctx.Err(), <-done)
	}
	defer windows.CloseHandle(thread)

	// The flush may not have reached the kernel yet, so keep cancelling.
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		_, _, _ = procCancelSynchronousIo.Call(uintptr(thread))
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *endpoint) flushBuffers() error {
	return os.NewSyscallError("FlushFileBuffers", windows.FlushFileBuffers(e.h.raw))
}

func (e *endpoint) close() error {
	return e.h.Close()
}
