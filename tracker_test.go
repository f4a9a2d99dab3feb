package blkreactor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()
	tr.AddExpected(3)
	u := tr.Register("u0")

	require.NoError(t, tr.RecordSubmit(u))
	require.NoError(t, tr.RecordSubmit(u))
	tr.RecordComplete(u, true)
	tr.RecordComplete(u, false)

	s := tr.Snapshot()
	assert.Equal(t, uint64(3), s.Expected)
	assert.Equal(t, uint64(2), s.Submitted)
	assert.Equal(t, uint64(2), s.Completed)
	assert.Equal(t, uint64(1), s.Failed)

	assert.Equal(t, uint64(2), u.Submitted())
	assert.Equal(t, uint64(2), u.Completed())
	assert.Equal(t, uint64(1), u.Failed())
}

func TestTrackerRejectsSubmitPastExpected(t *testing.T) {
	tr := NewTracker()
	tr.AddExpected(1)
	u := tr.Register("u0")

	require.NoError(t, tr.RecordSubmit(u))
	err := tr.RecordSubmit(u)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	// The rejected submission must not count.
	assert.Equal(t, uint64(1), tr.Snapshot().Submitted)
	assert.Equal(t, uint64(1), u.Submitted())
}

func TestTrackerRollbackSubmit(t *testing.T) {
	tr := NewTracker()
	tr.AddExpected(2)
	u := tr.Register("u0")

	require.NoError(t, tr.RecordSubmit(u))
	tr.rollbackSubmit(u)

	assert.Equal(t, uint64(0), tr.Snapshot().Submitted)
	assert.Equal(t, uint64(0), u.Submitted())

	// The slot freed by the rollback is usable again.
	require.NoError(t, tr.RecordSubmit(u))
	require.NoError(t, tr.RecordSubmit(u))
}

func TestTrackerTerminalFiresOnce(t *testing.T) {
	tr := NewTracker()
	tr.AddExpected(1)
	u := tr.Register("u0")

	var fires atomic.Int32
	tr.OnTerminal(func() { fires.Add(1) })

	require.NoError(t, tr.RecordSubmit(u))
	tr.RecordComplete(u, true)

	assert.True(t, tr.Fired())
	assert.Equal(t, int32(1), fires.Load())
}

func TestTrackerTerminalConcurrent(t *testing.T) {
	const workers = 8
	const perWorker = 250

	tr := NewTracker()
	tr.AddExpected(workers * perWorker)

	var fires atomic.Int32
	tr.OnTerminal(func() { fires.Add(1) })

	units := make([]*UnitCounters, workers)
	for i := range units {
		units[i] = tr.Register("u")
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(u *UnitCounters) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := tr.RecordSubmit(u); err != nil {
					t.Error(err)
					return
				}
				tr.RecordComplete(u, true)
			}
		}(units[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), fires.Load(), "terminal trigger must fire exactly once")

	s := tr.Snapshot()
	assert.Equal(t, s.Expected, s.Submitted)
	assert.Equal(t, s.Expected, s.Completed)
}

func TestTrackerNoOvershootUnderContention(t *testing.T) {
	const expected = 64
	const workers = 8

	tr := NewTracker()
	tr.AddExpected(expected)
	u := tr.Register("u0")

	var wg sync.WaitGroup
	var accepted atomic.Uint64
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			// Deliberately oversubscribe: most attempts must be
			// rejected once the expected total is reached.
			for j := 0; j < expected; j++ {
				if err := tr.RecordSubmit(u); err == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	close(start)

	// Submitted must never be observable above expected, even while
	// rejections race accepted submissions.
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for {
		if s := tr.Snapshot(); s.Submitted > s.Expected {
			t.Errorf("observed submitted %d > expected %d", s.Submitted, s.Expected)
		}
		select {
		case <-done:
			assert.Equal(t, uint64(expected), accepted.Load())
			assert.Equal(t, uint64(expected), tr.Snapshot().Submitted)
			return
		default:
		}
	}
}

func TestTrackerZeroExpectedNeverFires(t *testing.T) {
	tr := NewTracker()
	u := tr.Register("u0")

	fired := false
	tr.OnTerminal(func() { fired = true })

	// With no declared workload the trigger is disabled even though
	// completed == expected == 0 transiently holds.
	require.NoError(t, tr.RecordSubmit(u))
	tr.RecordComplete(u, true)

	assert.False(t, fired)
	assert.False(t, tr.Fired())
}

func TestTrackerInvariantUnderLoad(t *testing.T) {
	tr := NewTracker()
	tr.AddExpected(1000)
	u := tr.Register("u0")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if err := tr.RecordSubmit(u); err != nil {
				t.Error(err)
				return
			}
			tr.RecordComplete(u, i%7 == 0)
		}
	}()

	// completed <= submitted <= expected from any observer at any time.
	for {
		s := tr.Snapshot()
		assert.LessOrEqual(t, s.Completed, s.Submitted)
		assert.LessOrEqual(t, s.Submitted, s.Expected)
		select {
		case <-done:
			return
		default:
		}
	}
}
