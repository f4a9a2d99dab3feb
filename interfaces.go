// Package blkreactor dispatches block-storage reads across core-pinned
// reactors, each cooperatively multiplexing work units that own exclusive
// command queues to a shared device.
package blkreactor

// Device is the storage backend collaborator. An open device is an
// immutable shared reference: its geometry accessors are read from every
// reactor without locking, so implementations must keep them constant for
// the lifetime of the device.
type Device interface {
	// BlockSize returns the logical block size in bytes.
	BlockSize() uint32

	// NumBlocks returns the number of addressable blocks.
	NumBlocks() uint64

	// CreateQueue allocates one hardware command queue with the given
	// depth. Returns a resource-exhausted error when the device cannot
	// provide more queues.
	CreateQueue(depth int) (DeviceQueue, error)

	// Close releases the backend. Called once, after every queue derived
	// from the device has been closed.
	Close() error
}

// DeviceQueue is one hardware command queue. A queue is driven from exactly
// one work unit's execution context, so implementations need no internal
// locking of their submission/completion state.
type DeviceQueue interface {
	// SubmitRead queues one read of blocks*blockSize bytes into buf. The
	// token is echoed back on the matching completion. The call must not
	// block; the outcome arrives via Poll. Validation of lba, blocks and
	// buf happens above this interface; implementations may trust them.
	SubmitRead(lba uint64, blocks uint32, buf []byte, token uint64) error

	// Poll drains completed commands into out, returning how many were
	// written. It must never block; zero is a normal result.
	Poll(out []Completion) (int, error)

	// Close releases the queue resource. The caller guarantees no
	// commands are outstanding.
	Close() error
}

// Completion is one finished device command as reported by a DeviceQueue.
type Completion struct {
	Token uint64
	Err   error // nil on success
}

// Allocator provides alignment-guaranteed I/O buffers. The dispatch core
// never allocates buffers itself; callers hand aligned buffers to
// SubmitRead and receive them back in the completion callback.
type Allocator interface {
	// Allocate returns a buffer of exactly size bytes whose backing
	// array starts on an align-byte boundary.
	Allocate(size, align int) ([]byte, error)

	// Free releases a buffer obtained from Allocate. Freeing a buffer
	// twice, or one this allocator did not hand out, is a usage error.
	Free(buf []byte) error
}
