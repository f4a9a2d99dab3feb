package blkreactor

import "sync/atomic"

// DeviceHandle is the shared open reference to a Device. Every queue handle
// pins it for as long as the queue is open; the handle can only be closed
// once the last queue has released it.
type DeviceHandle struct {
	dev    Device
	refs   atomic.Int32
	closed atomic.Bool
}

// OpenDevice wraps an already-attached device in a shared handle.
func OpenDevice(dev Device) *DeviceHandle {
	return &DeviceHandle{dev: dev}
}

// Device returns the underlying device.
func (h *DeviceHandle) Device() Device { return h.dev }

// BlockSize returns the device's logical block size in bytes.
func (h *DeviceHandle) BlockSize() uint32 { return h.dev.BlockSize() }

// NumBlocks returns the device's addressable block count.
func (h *DeviceHandle) NumBlocks() uint64 { return h.dev.NumBlocks() }

// Capacity returns the device size in bytes.
func (h *DeviceHandle) Capacity() uint64 {
	return h.dev.NumBlocks() * uint64(h.dev.BlockSize())
}

// Refs returns the number of queue handles currently pinning the device.
func (h *DeviceHandle) Refs() int { return int(h.refs.Load()) }

func (h *DeviceHandle) acquire() { h.refs.Add(1) }

func (h *DeviceHandle) release() { h.refs.Add(-1) }

// Close releases the device. It fails with Busy while any queue handle
// still references it, and is a no-op on a second call.
func (h *DeviceHandle) Close() error {
	if n := h.refs.Load(); n > 0 {
		return NewError("CLOSE_DEVICE", ErrCodeBusy,
			"device handle still referenced by open queues")
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.dev.Close()
}
