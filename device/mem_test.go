package device

import (
	"encoding/binary"
	"testing"

	blkreactor "github.com/mhalvorsen/go-blkreactor"
)

func TestNewMemoryValidation(t *testing.T) {
	if _, err := NewMemory(0, 100); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("zero block size err = %v, want invalid argument", err)
	}
	if _, err := NewMemory(1000, 100); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("unaligned block size err = %v, want invalid argument", err)
	}
	if _, err := NewMemory(4096, 0); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("zero blocks err = %v, want invalid argument", err)
	}
}

func TestMemoryGeometry(t *testing.T) {
	m, err := NewMemory(512, 64)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	if m.BlockSize() != 512 {
		t.Errorf("BlockSize = %d, want 512", m.BlockSize())
	}
	if m.NumBlocks() != 64 {
		t.Errorf("NumBlocks = %d, want 64", m.NumBlocks())
	}
}

func TestMemoryReadStamps(t *testing.T) {
	m, err := NewMemory(512, 16)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	q, err := m.CreateQueue(8)
	if err != nil {
		t.Fatalf("CreateQueue failed: %v", err)
	}
	defer q.Close()

	buf := make([]byte, 512)
	if err := q.SubmitRead(9, 1, buf, 77); err != nil {
		t.Fatalf("SubmitRead failed: %v", err)
	}

	out := make([]blkreactor.Completion, 4)
	n, err := q.Poll(out)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll returned %d completions, want 1", n)
	}
	if out[0].Token != 77 || out[0].Err != nil {
		t.Errorf("completion = %+v, want token 77 and no error", out[0])
	}

	if lba := binary.LittleEndian.Uint64(buf[:8]); lba != 9 {
		t.Errorf("block stamped with lba %d, want 9", lba)
	}
}

func TestMemoryMultiBlockRead(t *testing.T) {
	m, err := NewMemory(512, 16)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	q, _ := m.CreateQueue(8)
	defer q.Close()

	buf := make([]byte, 3*512)
	if err := q.SubmitRead(4, 3, buf, 1); err != nil {
		t.Fatalf("SubmitRead failed: %v", err)
	}

	out := make([]blkreactor.Completion, 1)
	if _, err := q.Poll(out); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if lba := binary.LittleEndian.Uint64(buf[i*512:]); lba != uint64(4+i) {
			t.Errorf("block %d stamped with lba %d, want %d", i, lba, 4+i)
		}
	}
}

func TestMemoryWriteBlock(t *testing.T) {
	m, err := NewMemory(512, 16)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	src := make([]byte, 512)
	copy(src, "seeded content")
	if err := m.WriteBlock(3, src); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}

	q, _ := m.CreateQueue(8)
	defer q.Close()

	buf := make([]byte, 512)
	if err := q.SubmitRead(3, 1, buf, 0); err != nil {
		t.Fatalf("SubmitRead failed: %v", err)
	}
	out := make([]blkreactor.Completion, 1)
	if _, err := q.Poll(out); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if got := string(buf[:14]); got != "seeded content" {
		t.Errorf("read %q, want seeded content", got)
	}

	if err := m.WriteBlock(99, src); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("out-of-range WriteBlock err = %v, want invalid argument", err)
	}
	if err := m.WriteBlock(0, src[:10]); !blkreactor.IsCode(err, blkreactor.ErrCodeInvalidArgument) {
		t.Errorf("short WriteBlock err = %v, want invalid argument", err)
	}
}

func TestMemoryQueueAccounting(t *testing.T) {
	m, err := NewMemory(512, 16)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}

	q1, _ := m.CreateQueue(8)
	q2, _ := m.CreateQueue(8)
	if m.OpenQueues() != 2 {
		t.Errorf("OpenQueues = %d, want 2", m.OpenQueues())
	}

	q1.Close()
	q2.Close()
	q2.Close() // second close is a no-op
	if m.OpenQueues() != 0 {
		t.Errorf("OpenQueues = %d, want 0", m.OpenQueues())
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := m.CreateQueue(8); !blkreactor.IsCode(err, blkreactor.ErrCodeShuttingDown) {
		t.Errorf("CreateQueue after close err = %v, want shutting down", err)
	}
}
