// Package device provides Device implementations for the dispatch core:
// a RAM-backed device for development and tests, and a file-backed device
// for real I/O on Linux.
package device

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	blkreactor "github.com/mhalvorsen/go-blkreactor"
)

// Memory is a RAM-backed block device. Reads copy out of a single backing
// slice; each queue completes its reads on the poll following submission,
// mimicking asynchronous hardware without any real latency.
type Memory struct {
	blockSize uint32
	numBlocks uint64
	data      []byte

	mu         sync.Mutex
	openQueues int

	closed atomic.Bool
}

// NewMemory creates a RAM-backed device. Every block's first 8 bytes are
// stamped with its own LBA so reads are verifiable without a prior write.
func NewMemory(blockSize uint32, numBlocks uint64) (*Memory, error) {
	if blockSize == 0 || blockSize%512 != 0 {
		return nil, blkreactor.NewError("NEW_MEM_DEVICE", blkreactor.ErrCodeInvalidArgument,
			fmt.Sprintf("block size %d is not a multiple of 512", blockSize))
	}
	if numBlocks == 0 {
		return nil, blkreactor.NewError("NEW_MEM_DEVICE", blkreactor.ErrCodeInvalidArgument,
			"zero blocks")
	}

	size := uint64(blockSize) * numBlocks
	data := make([]byte, size)
	for lba := uint64(0); lba < numBlocks; lba++ {
		binary.LittleEndian.PutUint64(data[lba*uint64(blockSize):], lba)
	}

	return &Memory{
		blockSize: blockSize,
		numBlocks: numBlocks,
		data:      data,
	}, nil
}

// BlockSize implements blkreactor.Device.
func (m *Memory) BlockSize() uint32 { return m.blockSize }

// NumBlocks implements blkreactor.Device.
func (m *Memory) NumBlocks() uint64 { return m.numBlocks }

// WriteBlock overwrites one block, for seeding test content. Not safe
// concurrently with in-flight reads of the same block.
func (m *Memory) WriteBlock(lba uint64, src []byte) error {
	if lba >= m.numBlocks {
		return blkreactor.NewError("WRITE_BLOCK", blkreactor.ErrCodeInvalidArgument,
			fmt.Sprintf("lba %d out of range", lba))
	}
	if uint32(len(src)) != m.blockSize {
		return blkreactor.NewError("WRITE_BLOCK", blkreactor.ErrCodeInvalidArgument,
			"source is not exactly one block")
	}
	copy(m.data[lba*uint64(m.blockSize):], src)
	return nil
}

// CreateQueue implements blkreactor.Device.
func (m *Memory) CreateQueue(depth int) (blkreactor.DeviceQueue, error) {
	if m.closed.Load() {
		return nil, blkreactor.NewError("CREATE_QUEUE", blkreactor.ErrCodeShuttingDown,
			"device is closed")
	}
	m.mu.Lock()
	m.openQueues++
	m.mu.Unlock()
	return &memQueue{dev: m}, nil
}

// OpenQueues returns how many queues are currently open.
func (m *Memory) OpenQueues() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openQueues
}

// Close implements blkreactor.Device.
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

// memQueue is confined to one work unit, so it needs no locking of its own.
type memQueue struct {
	dev     *Memory
	pending []blkreactor.Completion
	closed  bool
}

func (q *memQueue) SubmitRead(lba uint64, blocks uint32, buf []byte, token uint64) error {
	if q.closed {
		return blkreactor.NewError("MEM_READ", blkreactor.ErrCodeInvalidArgument,
			"queue is closed")
	}

	bs := uint64(q.dev.blockSize)
	copy(buf, q.dev.data[lba*bs:(lba+uint64(blocks))*bs])
	q.pending = append(q.pending, blkreactor.Completion{Token: token})
	return nil
}

func (q *memQueue) Poll(out []blkreactor.Completion) (int, error) {
	n := len(q.pending)
	if n > len(out) {
		n = len(out)
	}
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	return n, nil
}

func (q *memQueue) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true
	q.dev.mu.Lock()
	q.dev.openQueues--
	q.dev.mu.Unlock()
	return nil
}

// Compile-time interface checks
var (
	_ blkreactor.Device      = (*Memory)(nil)
	_ blkreactor.DeviceQueue = (*memQueue)(nil)
)
