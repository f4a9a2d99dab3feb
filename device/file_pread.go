//go:build linux && !uring

package device

import (
	"golang.org/x/sys/unix"

	blkreactor "github.com/mhalvorsen/go-blkreactor"
)

// preadQueue reads synchronously at submit time and delivers the result on
// the next poll. Simple and correct on any kernel; build with the uring tag
// for a queue that keeps reads in flight.
type preadQueue struct {
	dev     *File
	pending []blkreactor.Completion
	closed  bool
}

func newFileQueue(f *File, depth int) (blkreactor.DeviceQueue, error) {
	return &preadQueue{dev: f}, nil
}

func (q *preadQueue) SubmitRead(lba uint64, blocks uint32, buf []byte, token uint64) error {
	if q.closed {
		return blkreactor.NewError("FILE_READ", blkreactor.ErrCodeInvalidArgument,
			"queue is closed")
	}

	offset := int64(lba * uint64(q.dev.blockSize))
	var cerr error
	if _, err := unix.Pread(q.dev.fd, buf, offset); err != nil {
		cerr = blkreactor.WrapError("FILE_READ", blkreactor.ErrCodeDeviceError, err)
	}
	q.pending = append(q.pending, blkreactor.Completion{Token: token, Err: cerr})
	return nil
}

func (q *preadQueue) Poll(out []blkreactor.Completion) (int, error) {
	n := len(q.pending)
	if n > len(out) {
		n = len(out)
	}
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	return n, nil
}

func (q *preadQueue) Close() error {
	q.closed = true
	return nil
}

var _ blkreactor.DeviceQueue = (*preadQueue)(nil)
