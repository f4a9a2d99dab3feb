package blkreactor

import (
	"fmt"

	"github.com/mhalvorsen/go-blkreactor/internal/alloc"
	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

// QueueHandle is an exclusive per-work-unit channel to one of the device's
// command queues. All methods must be called from the owning work unit's
// execution context; calls from anywhere else fail with a wrong-context
// error before touching any state.
type QueueHandle struct {
	wu    *WorkUnit
	dh    *DeviceHandle
	dq    DeviceQueue
	depth int

	// Single-writer state, confined to the owning reactor's loop.
	outstanding int
	nextToken   uint64
	pending     map[uint64]*request
	cqScratch   []Completion
	closed      bool

	log *logging.Logger
}

func openQueue(wu *WorkUnit, dh *DeviceHandle, depth int) (*QueueHandle, error) {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}

	dq, err := dh.Device().CreateQueue(depth)
	if err != nil {
		return nil, WrapError("OPEN_QUEUE", ErrCodeResourceExhausted, err)
	}
	dh.acquire()

	batch := completionBatch
	if depth < batch {
		batch = depth
	}

	return &QueueHandle{
		wu:        wu,
		dh:        dh,
		dq:        dq,
		depth:     depth,
		pending:   make(map[uint64]*request, depth),
		cqScratch: make([]Completion, batch),
		log:       wu.log.WithQueue(len(wu.queues)),
	}, nil
}

// Depth returns the configured outstanding-request limit.
func (q *QueueHandle) Depth() int { return q.depth }

// BlockSize returns the device block size in bytes, for sizing read buffers.
func (q *QueueHandle) BlockSize() uint32 { return q.dh.BlockSize() }

// Outstanding returns the number of requests submitted but not yet
// completed. Like every other method it is only meaningful from the owning
// work unit's context.
func (q *QueueHandle) Outstanding() int { return q.outstanding }

// SubmitRead submits one asynchronous read of blocks logical blocks
// starting at lba into buf. buf must be exactly blocks*blockSize bytes and
// start on a DMAAlignment boundary; violations fail synchronously with an
// invalid-argument error and no device call. When the queue already holds
// its full depth the call fails with backpressure, which the caller may
// retry after a poll. On success the completion callback fires exactly once
// from a later Poll, taking ownership of buf.
func (q *QueueHandle) SubmitRead(lba uint64, blocks uint32, buf []byte, done CompleteFunc) error {
	if err := q.checkContext("SUBMIT_READ"); err != nil {
		return err
	}
	if q.closed {
		return q.unitErr("SUBMIT_READ", ErrCodeInvalidArgument, "queue is closed")
	}
	if q.wu.currentState() != UnitActive {
		return q.unitErr("SUBMIT_READ", ErrCodeShuttingDown, "work unit is draining")
	}
	if done == nil {
		return q.unitErr("SUBMIT_READ", ErrCodeInvalidArgument, "nil completion callback")
	}
	if blocks == 0 {
		return q.unitErr("SUBMIT_READ", ErrCodeInvalidArgument, "zero-length read")
	}

	// Range check in block units; lba+blocks or a byte conversion can wrap
	// in uint64 for hostile values.
	numBlocks := q.dh.NumBlocks()
	if uint64(blocks) > numBlocks || lba > numBlocks-uint64(blocks) {
		return q.unitErr("SUBMIT_READ", ErrCodeInvalidArgument,
			fmt.Sprintf("read beyond device capacity: lba=%d blocks=%d", lba, blocks))
	}

	blockSize := uint64(q.dh.BlockSize())
	if uint64(len(buf)) != uint64(blocks)*blockSize {
		return q.unitErr("SUBMIT_READ", ErrCodeInvalidArgument,
			fmt.Sprintf("buffer length %d does not match %d blocks of %d bytes",
				len(buf), blocks, blockSize))
	}
	if !alloc.Aligned(buf, DMAAlignment) {
		return q.unitErr("SUBMIT_READ", ErrCodeInvalidArgument, "buffer not DMA-aligned")
	}

	if q.outstanding >= q.depth {
		return q.unitErr("SUBMIT_READ", ErrCodeBackpressure, "queue depth reached")
	}

	if err := q.wu.tracker.RecordSubmit(q.wu.counters); err != nil {
		return err
	}

	token := q.nextToken
	q.nextToken++

	if err := q.dq.SubmitRead(lba, blocks, buf, token); err != nil {
		q.wu.tracker.rollbackSubmit(q.wu.counters)
		return WrapError("SUBMIT_READ", ErrCodeDeviceError, err)
	}

	q.pending[token] = &request{
		token:  token,
		lba:    lba,
		blocks: blocks,
		buf:    buf,
		done:   done,
	}
	q.outstanding++

	return nil
}

// Poll drains completed requests from the device queue without blocking and
// fires each one's callback exactly once. It returns the number of requests
// processed; zero is a normal idle result.
func (q *QueueHandle) Poll() (int, error) {
	if err := q.checkContext("POLL"); err != nil {
		return 0, err
	}
	if q.closed {
		return 0, q.unitErr("POLL", ErrCodeInvalidArgument, "queue is closed")
	}

	n, err := q.dq.Poll(q.cqScratch)
	if err != nil {
		return 0, WrapError("POLL", ErrCodeDeviceError, err)
	}

	processed := 0
	for _, c := range q.cqScratch[:n] {
		req, ok := q.pending[c.Token]
		if !ok {
			q.log.Warn("completion for unknown token", "token", c.Token)
			continue
		}
		delete(q.pending, c.Token)
		q.outstanding--
		processed++

		success := c.Err == nil
		q.wu.tracker.RecordComplete(q.wu.counters, success)

		// Buffer ownership passes to the callback here.
		if success {
			req.done(StatusSuccess, req.buf, nil)
		} else {
			derr := WrapError("COMPLETE", ErrCodeDeviceError, c.Err)
			derr.WorkUnit = q.wu.name
			req.done(StatusFailed, req.buf, derr)
		}
	}

	return processed, nil
}

// Close releases the device queue. It fails with Busy while requests are
// outstanding; callers drain via Poll first.
func (q *QueueHandle) Close() error {
	if err := q.checkContext("CLOSE_QUEUE"); err != nil {
		return err
	}
	if q.closed {
		return nil
	}
	if q.outstanding > 0 {
		return q.unitErr("CLOSE_QUEUE", ErrCodeBusy,
			fmt.Sprintf("%d requests outstanding", q.outstanding))
	}

	q.closed = true
	err := q.dq.Close()
	q.dh.release()
	if err != nil {
		return WrapError("CLOSE_QUEUE", ErrCodeDeviceError, err)
	}
	return nil
}

// checkContext rejects calls arriving from outside the owning work unit's
// execution context. The check is a guard against silent corruption of the
// single-writer queue state, not a synchronization mechanism.
func (q *QueueHandle) checkContext(op string) error {
	if q.wu.inContext() {
		return nil
	}
	return q.unitErr(op, ErrCodeWrongContext,
		"queue handle used outside its owning work unit")
}

func (q *QueueHandle) unitErr(op string, code ErrorCode, msg string) *Error {
	return NewUnitError(op, q.wu.name, code, msg)
}
