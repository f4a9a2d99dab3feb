//go:build linux && uring

package device

import (
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	blkreactor "github.com/mhalvorsen/go-blkreactor"
)

// uringQueue backs one queue handle with its own io_uring. Reads stay in
// flight in the kernel between submit and poll, so a deep queue keeps the
// device busy the way real asynchronous hardware queues do.
type uringQueue struct {
	dev    *File
	ring   *giouring.Ring
	cqes   []*giouring.CompletionQueueEvent
	closed bool
}

func newFileQueue(f *File, depth int) (blkreactor.DeviceQueue, error) {
	ring, err := giouring.CreateRing(uint32(depth))
	if err != nil {
		return nil, blkreactor.WrapError("CREATE_QUEUE",
			blkreactor.ErrCodeResourceExhausted, err)
	}
	return &uringQueue{
		dev:  f,
		ring: ring,
		cqes: make([]*giouring.CompletionQueueEvent, depth),
	}, nil
}

func (q *uringQueue) SubmitRead(lba uint64, blocks uint32, buf []byte, token uint64) error {
	if q.closed {
		return blkreactor.NewError("FILE_READ", blkreactor.ErrCodeInvalidArgument,
			"queue is closed")
	}

	sqe := q.ring.GetSQE()
	if sqe == nil {
		return blkreactor.NewError("FILE_READ", blkreactor.ErrCodeBackpressure,
			"submission ring is full")
	}

	offset := lba * uint64(q.dev.blockSize)
	sqe.PrepareRead(q.dev.fd, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), offset)
	sqe.UserData = token

	if _, err := q.ring.Submit(); err != nil {
		return blkreactor.WrapError("FILE_READ", blkreactor.ErrCodeDeviceError, err)
	}
	return nil
}

func (q *uringQueue) Poll(out []blkreactor.Completion) (int, error) {
	want := len(out)
	if want > len(q.cqes) {
		want = len(q.cqes)
	}

	n := int(q.ring.PeekBatchCQE(q.cqes[:want]))
	for i := 0; i < n; i++ {
		cqe := q.cqes[i]
		out[i] = blkreactor.Completion{Token: cqe.UserData}
		if cqe.Res < 0 {
			out[i].Err = blkreactor.WrapError("FILE_READ",
				blkreactor.ErrCodeDeviceError, unix.Errno(-cqe.Res))
		}
	}
	q.ring.CQAdvance(uint32(n))
	return n, nil
}

func (q *uringQueue) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true
	q.ring.QueueExit()
	return nil
}

var _ blkreactor.DeviceQueue = (*uringQueue)(nil)
