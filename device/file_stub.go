//go:build !linux

package device

import (
	blkreactor "github.com/mhalvorsen/go-blkreactor"
)

// File is only available on Linux.
type File struct{}

// OpenFile reports that file-backed devices need Linux.
func OpenFile(path string, blockSize uint32) (*File, error) {
	return nil, blkreactor.NewError("OPEN_FILE", blkreactor.ErrCodeDeviceError,
		"file-backed devices require linux")
}

// OpenFileDirect reports that file-backed devices need Linux.
func OpenFileDirect(path string, blockSize uint32) (*File, error) {
	return OpenFile(path, blockSize)
}

// BlockSize implements blkreactor.Device.
func (f *File) BlockSize() uint32 { return 0 }

// NumBlocks implements blkreactor.Device.
func (f *File) NumBlocks() uint64 { return 0 }

// CreateQueue implements blkreactor.Device.
func (f *File) CreateQueue(depth int) (blkreactor.DeviceQueue, error) {
	return nil, blkreactor.NewError("CREATE_QUEUE", blkreactor.ErrCodeDeviceError,
		"file-backed devices require linux")
}

// Close implements blkreactor.Device.
func (f *File) Close() error { return nil }

var _ blkreactor.Device = (*File)(nil)
