package pipe

import "runtime"

// ownedHandle is the single owner of an OS handle. Close releases the
// handle exactly once; a handle that becomes unreachable without being
// closed is released by a runtime cleanup.
type ownedHandle struct {
	raw     rawHandle
	closed  bool
	cleanup runtime.Cleanup
}

func newOwnedHandle(raw rawHandle) *ownedHandle {
	h := &ownedHandle{raw: raw}
	h.cleanup = runtime.AddCleanup(h, func(raw rawHandle) {
		_ = closeRaw(raw)
	}, raw)
	return h
}

// Close releases the handle. Closing an already closed or nil handle is a no-op.
func (h *ownedHandle) Close() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	h.cleanup.Stop()
	return closeRaw(h.raw)
}

// valid reports whether the handle is still held.
func (h *ownedHandle) valid() bool {
	return h != nil && !h.closed
}
