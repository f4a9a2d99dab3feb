package blkreactor

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// FakeDevice is an in-memory Device double for exercising the dispatch
// core without hardware. It records every device call, supports a queue
// allocation limit, per-LBA failure injection, and bounded completions per
// poll. Reads stamp the target LBA into the first 8 bytes of the buffer so
// tests can verify data flow.
type FakeDevice struct {
	blockSize uint32
	numBlocks uint64

	mu         sync.Mutex
	maxQueues  int
	openQueues int
	failLBAs   map[uint64]struct{}

	// CompletionsPerPoll caps how many completions one Poll call may
	// deliver; zero means no cap. Useful for forcing multi-poll drains.
	CompletionsPerPoll int

	// ReverseCompletions delivers completions newest-first, exercising
	// out-of-order token matching in the dispatch core.
	ReverseCompletions bool

	submitCalls atomic.Uint64
	closed      atomic.Bool
}

// NewFakeDevice creates a fake with the given geometry and no queue limit.
func NewFakeDevice(blockSize uint32, numBlocks uint64) *FakeDevice {
	return &FakeDevice{
		blockSize: blockSize,
		numBlocks: numBlocks,
		maxQueues: -1,
		failLBAs:  make(map[uint64]struct{}),
	}
}

// SetQueueLimit caps how many queues CreateQueue will hand out.
func (d *FakeDevice) SetQueueLimit(n int) {
	d.mu.Lock()
	d.maxQueues = n
	d.mu.Unlock()
}

// FailLBA makes every read targeting lba complete with a device error.
func (d *FakeDevice) FailLBA(lba uint64) {
	d.mu.Lock()
	d.failLBAs[lba] = struct{}{}
	d.mu.Unlock()
}

// SubmitCalls returns how many reads reached the device.
func (d *FakeDevice) SubmitCalls() uint64 { return d.submitCalls.Load() }

// IsClosed reports whether Close has been called.
func (d *FakeDevice) IsClosed() bool { return d.closed.Load() }

// BlockSize implements Device.
func (d *FakeDevice) BlockSize() uint32 { return d.blockSize }

// NumBlocks implements Device.
func (d *FakeDevice) NumBlocks() uint64 { return d.numBlocks }

// CreateQueue implements Device.
func (d *FakeDevice) CreateQueue(depth int) (DeviceQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.maxQueues >= 0 && d.openQueues >= d.maxQueues {
		return nil, NewError("CREATE_QUEUE", ErrCodeResourceExhausted,
			"fake device out of queues")
	}
	d.openQueues++
	return &fakeQueue{dev: d, depth: depth}, nil
}

// Close implements Device.
func (d *FakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// fakeQueue completes reads on the poll after their submission. The mutex
// allows tests to inspect in-flight state from their own goroutine; the
// dispatch core itself confines each queue to one work unit.
type fakeQueue struct {
	dev   *FakeDevice
	depth int

	mu       sync.Mutex
	inflight []Completion
	closed   bool
}

func (q *fakeQueue) SubmitRead(lba uint64, blocks uint32, buf []byte, token uint64) error {
	q.dev.submitCalls.Add(1)

	q.dev.mu.Lock()
	_, fail := q.dev.failLBAs[lba]
	q.dev.mu.Unlock()

	var err error
	if fail {
		err = NewError("FAKE_READ", ErrCodeDeviceError, "injected read failure")
	} else if len(buf) >= 8 {
		binary.LittleEndian.PutUint64(buf[:8], lba)
	}

	q.mu.Lock()
	q.inflight = append(q.inflight, Completion{Token: token, Err: err})
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) Poll(out []Completion) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.inflight)
	if n > len(out) {
		n = len(out)
	}
	if limit := q.dev.CompletionsPerPoll; limit > 0 && n > limit {
		n = limit
	}

	if q.dev.ReverseCompletions {
		for i := 0; i < n; i++ {
			out[i] = q.inflight[len(q.inflight)-1-i]
		}
		q.inflight = q.inflight[:len(q.inflight)-n]
	} else {
		copy(out, q.inflight[:n])
		q.inflight = q.inflight[n:]
	}
	return n, nil
}

func (q *fakeQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.dev.mu.Lock()
	q.dev.openQueues--
	q.dev.mu.Unlock()
	return nil
}

// Compile-time interface checks
var (
	_ Device      = (*FakeDevice)(nil)
	_ DeviceQueue = (*fakeQueue)(nil)
)
