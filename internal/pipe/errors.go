package pipe

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a Channel matches exactly one of
// these through errors.Is.
var (
	ErrEmptyName    = errors.New("pipe name is required")
	ErrAlreadyOpen  = errors.New("pipe is already open")
	ErrNotOpen      = errors.New("pipe is not open")
	ErrNotConnected = errors.New("pipe has no connected peer")
	ErrNotFound     = errors.New("cannot find open named pipe")
	ErrCreate       = errors.New("cannot create named pipe")
	ErrOpen         = errors.New("cannot open named pipe")
	ErrConnect      = errors.New("cannot connect to pipe")
	ErrDisconnect   = errors.New("cannot disconnect pipe")
	ErrFlush        = errors.New("cannot flush pipe")
	ErrRead         = errors.New("cannot read from named pipe")
	ErrWrite        = errors.New("cannot write to pipe")
	ErrPartialRead  = errors.New("not all bytes can be read")
	ErrPartialWrite = errors.New("not all data is written to pipe")
)

// Op names the Channel operation that failed.
type Op string

const (
	OpCreate     Op = "create"
	OpOpen       Op = "open"
	OpConnect    Op = "connect"
	OpDisconnect Op = "disconnect"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpFlush      Op = "flush"
	OpClose      Op = "close"
)

// Error describes a failed Channel operation.
//
// Kind is one of the package sentinels and Err, when set, is the underlying
// OS error or the context error of a cancelled FlushContext. Both are
// reachable through errors.Is and errors.As.
type Error struct {
	Op   Op
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("pipe %s %s", e.Op, e.Path)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// shortTransferError carries the byte counts of a partial read or write.
type shortTransferError struct {
	want, got int
}

func (e *shortTransferError) Error() string {
	return fmt.Sprintf("transferred %d of %d bytes", e.got, e.want)
}
