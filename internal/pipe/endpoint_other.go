//go:build !linux && !windows

package pipe

import (
	"context"
	"errors"
	"path/filepath"
)

type rawHandle = int

func closeRaw(rawHandle) error {
	return nil
}

func fullName(name string) string {
	return filepath.Join("/tmp", "pipe-"+name+".sock")
}

type endpoint struct{}

func createEndpoint(string, Access) (*endpoint, error) { return nil, errors.ErrUnsupported }
func waitEndpoint(string) error { return errors.ErrUnsupported }
func openEndpoint(string) (*endpoint, error) { return nil, errors.ErrUnsupported }

func (*endpoint) connect() error { return errors.ErrUnsupported }
func (*endpoint) disconnect() error { return errors.ErrUnsupported }
func (*endpoint) valid() bool { return false }
func (*endpoint) fd() uintptr { return 0 }
func (*endpoint) peek() (int, error) { return 0, errors.ErrUnsupported }
func (*endpoint) read([]byte) (int, error) { return 0, errors.ErrUnsupported }
func (*endpoint) write([]byte) (int, error) { return 0, errors.ErrUnsupported }
func (*endpoint) flush(context.Context) error { return errors.ErrUnsupported }
func (*endpoint) close() error { return nil }
