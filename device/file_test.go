//go:build linux && !uring

package device

import (
	"os"
	"path/filepath"
	"testing"

	blkreactor "github.com/mhalvorsen/go-blkreactor"
)

func writeTestFile(t *testing.T, blocks int, blockSize int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")

	data := make([]byte, blocks*blockSize)
	for i := range data {
		data[i] = byte(i / blockSize)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path
}

func TestOpenFileGeometry(t *testing.T) {
	path := writeTestFile(t, 8, 512)

	f, err := OpenFile(path, 512)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()

	if f.BlockSize() != 512 {
		t.Errorf("BlockSize = %d, want 512", f.BlockSize())
	}
	if f.NumBlocks() != 8 {
		t.Errorf("NumBlocks = %d, want 8", f.NumBlocks())
	}
	if f.Path() != path {
		t.Errorf("Path = %q, want %q", f.Path(), path)
	}
}

func TestOpenFileErrors(t *testing.T) {
	_, err := OpenFile("/nonexistent/disk.img", 512)
	if !blkreactor.IsCode(err, blkreactor.ErrCodeNotFound) {
		t.Errorf("missing path err = %v, want not found", err)
	}

	path := writeTestFile(t, 8, 512)
	if _, err := OpenFile(path, 500); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("bad block size err = %v, want invalid argument", err)
	}

	// A file smaller than one block has no addressable geometry.
	empty := filepath.Join(t.TempDir(), "empty.img")
	if werr := os.WriteFile(empty, nil, 0o644); werr != nil {
		t.Fatal(werr)
	}
	if _, err := OpenFile(empty, 512); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("empty file err = %v, want invalid argument", err)
	}
}

func TestFileQueueRead(t *testing.T) {
	path := writeTestFile(t, 8, 512)

	f, err := OpenFile(path, 512)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()

	q, err := f.CreateQueue(4)
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	defer q.Close()

	buf := make([]byte, 512)
	if err := q.SubmitRead(5, 1, buf, 11); err != nil {
		t.Fatalf("SubmitRead failed: %v", err)
	}

	out := make([]blkreactor.Completion, 2)
	n, err := q.Poll(out)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != 1 || out[0].Token != 11 || out[0].Err != nil {
		t.Fatalf("completion = %+v (n=%d), want token 11 and no error", out[0], n)
	}

	// Block 5 was filled with byte value 5.
	for i, b := range buf {
		if b != 5 {
			t.Fatalf("buf[%d] = %d, want 5", i, b)
		}
	}
}

func TestFileClosedQueueRejects(t *testing.T) {
	path := writeTestFile(t, 8, 512)

	f, err := OpenFile(path, 512)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}

	q, _ := f.CreateQueue(4)
	q.Close()

	buf := make([]byte, 512)
	if err := q.SubmitRead(0, 1, buf, 0); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("submit on closed queue err = %v, want invalid argument", err)
	}

	if err := f.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := f.CreateQueue(4); !blkreactor.IsCode(err, blkreactor.ErrCodeShuttingDown) {
		t.Errorf("CreateQueue after close err = %v, want shutting down", err)
	}
}
