//go:build windows

package pipe

import (
	"os"
	"unsafe"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// everyoneFullAccess is a protected DACL with one entry granting
// GENERIC_ALL to Everyone.
const everyoneFullAccess = "D:P(A;;GA;;;WD)"

const lmemFixed = 0x0000

// accessDescriptor holds a serialized security descriptor in OS memory for
// the duration of a single CreateNamedPipe call.
type accessDescriptor struct {
	mem   uintptr
	attrs windows.SecurityAttributes
}

func newUnrestrictedDescriptor() (*accessDescriptor, error) {
	sd, err := winio.SddlToSecurityDescriptor(everyoneFullAccess)
	if err != nil {
		return nil, err
	}

	mem, err := windows.LocalAlloc(lmemFixed, uint32(len(sd)))
	if err != nil {
		return nil, os.NewSyscallError("LocalAlloc", err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(mem)), len(sd)), sd)

	d := &accessDescriptor{mem: mem}
	d.attrs = windows.SecurityAttributes{
		Length:             uint32(unsafe.Sizeof(d.attrs)),
		SecurityDescriptor: (*windows.SECURITY_DESCRIPTOR)(unsafe.Pointer(mem)),
		InheritHandle:      1,
	}
	return d, nil
}

// release frees the descriptor memory. It is safe to call more than once.
func (d *accessDescriptor) release() {
	if d.mem == 0 {
		return
	}
	windows.LocalFree(windows.Handle(d.mem))
	d.mem = 0
	d.attrs.SecurityDescriptor = nil
}
