package blkreactor

import "testing"

func TestDeviceHandleGeometry(t *testing.T) {
	dev := NewFakeDevice(DefaultBlockSize, 250)
	dh := OpenDevice(dev)

	if dh.BlockSize() != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want %d", dh.BlockSize(), DefaultBlockSize)
	}
	if dh.NumBlocks() != 250 {
		t.Errorf("NumBlocks = %d, want 250", dh.NumBlocks())
	}
	if want := uint64(250 * DefaultBlockSize); dh.Capacity() != want {
		t.Errorf("Capacity = %d, want %d", dh.Capacity(), want)
	}
}

func TestDeviceHandleRefCounting(t *testing.T) {
	dev := NewFakeDevice(DefaultBlockSize, 100)
	dh := OpenDevice(dev)

	dh.acquire()
	dh.acquire()
	if dh.Refs() != 2 {
		t.Fatalf("Refs = %d, want 2", dh.Refs())
	}

	if err := dh.Close(); !IsCode(err, ErrCodeBusy) {
		t.Fatalf("Close with refs = %v, want busy", err)
	}
	if dev.IsClosed() {
		t.Fatal("device must not close while referenced")
	}

	dh.release()
	dh.release()
	if err := dh.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !dev.IsClosed() {
		t.Error("device should be closed")
	}

	// Idempotent.
	if err := dh.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}
